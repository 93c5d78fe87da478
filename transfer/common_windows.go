//go:build windows

package transfer

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

const maxUint32 = ^uint32(0)

// lockExclusive locks the whole of file without waiting.
func lockExclusive(file *os.File) error {
	h := windows.Handle(file.Fd())
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, maxUint32, maxUint32, ol)
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return ErrLocked
	}
	return err
}

func unlockFile(file *os.File) {
	h := windows.Handle(file.Fd())
	ol := new(windows.Overlapped)
	_ = windows.UnlockFileEx(h, 0, maxUint32, maxUint32, ol)
}
