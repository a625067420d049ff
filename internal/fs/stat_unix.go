//go:build unix

package fs

import (
	"fmt"
	"io/fs"
	"syscall"

	"idem/internal/index"
)

// identityFromInfo extracts the device/inode identity from a FileInfo.
// Hard-link aliases of the same file share this identity.
func identityFromInfo(info fs.FileInfo) (index.Identity, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return index.Identity{}, fmt.Errorf("cannot extract identity: expected *syscall.Stat_t, got %T", info.Sys())
	}

	return index.Identity{
		Device: uint64(stat.Dev),
		Inode:  stat.Ino,
	}, nil
}
