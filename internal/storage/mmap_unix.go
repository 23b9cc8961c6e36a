//go:build linux || darwin

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapRegion maps size bytes of f. The mapping is always read-only: pages are
// written with pwrite, and MAP_SHARED makes those writes visible here.
func mapRegion(f *os.File, size int) ([]byte, error) {
	if size <= 0 {
		return nil, NewError(CodeInvalid, "mmap", nil)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &os.PathError{Op: "mmap", Path: f.Name(), Err: err}
	}
	// Tree descents jump around the file.
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return data, nil
}

// unmapRegion unmaps a region returned by mapRegion.
func unmapRegion(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// lockFile takes a non-blocking flock on f, exclusive or shared.
func lockFile(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return NewError(CodeBusy, "flock", err)
	}
	return err
}

// unlockFile releases a flock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// syncFile forces file contents to stable storage.
func syncFile(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}
