//go:build !unix

package sysstat

import "io/fs"

// OwnerOf has no ownership concept on non-UNIX platforms.
func OwnerOf(info fs.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}
