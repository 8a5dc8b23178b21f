//go:build unix

package tail

import (
	"os"

	"golang.org/x/sys/unix"
)

func statFile(path string) (fileStat, error) {
	var stat unix.Stat_t
	if errStat := unix.Stat(path, &stat); errStat != nil {
		return fileStat{}, &os.PathError{Op: "stat", Path: path, Err: errStat}
	}

	return fileStat{
		id:   fileID{volume: uint64(stat.Dev), index: uint64(stat.Ino)},
		size: int64(stat.Size),
	}, nil
}
