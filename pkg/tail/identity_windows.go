//go:build windows

package tail

import (
	"os"

	"golang.org/x/sys/windows"
)

func statFile(path string) (fileStat, error) {
	pathPtr, errPath := windows.UTF16PtrFromString(path)
	if errPath != nil {
		return fileStat{}, &os.PathError{Op: "stat", Path: path, Err: errPath}
	}

	handle, errOpen := windows.CreateFile(pathPtr, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if errOpen != nil {
		return fileStat{}, &os.PathError{Op: "stat", Path: path, Err: errOpen}
	}

	defer func() {
		_ = windows.CloseHandle(handle)
	}()

	var info windows.ByHandleFileInformation
	if errInfo := windows.GetFileInformationByHandle(handle, &info); errInfo != nil {
		return fileStat{}, &os.PathError{Op: "stat", Path: path, Err: errInfo}
	}

	return fileStat{
		id: fileID{
			volume: uint64(info.VolumeSerialNumber),
			index:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
		},
		size: int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow),
	}, nil
}
