//go:build unix

// Package sysstat isolates the platform-specific bits of reading file
// ownership, so the snapshot walker stays portable.
package sysstat

import (
	"io/fs"
	"syscall"
)

// OwnerOf extracts uid/gid from a FileInfo on UNIX platforms.
func OwnerOf(info fs.FileInfo) (uid, gid uint32, ok bool) {
	stat, isStatT := info.Sys().(*syscall.Stat_t)
	if !isStatT {
		return 0, 0, false
	}
	return stat.Uid, stat.Gid, true
}
