package layer

import (
	"io/fs"

	"github.com/hpmq/hpmq/internal/sysstat"
)

func ownerOf(info fs.FileInfo) (uid, gid int) {
	u, g, ok := sysstat.OwnerOf(info)
	if !ok {
		return 1000, 1000
	}
	return int(u), int(g)
}
