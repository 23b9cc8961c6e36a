//go:build linux || darwin

package tx

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Lock file layout. The header is followed by the reader slots.
//   - Bytes 0-3:  Magic
//   - Bytes 4-7:  Version
//   - Bytes 8-11: Slot count
//   - Bytes 12-63: reserved
//
// Each slot is SlotSize bytes: pid u64, txnid u64, session uuid [16]byte.
const (
	lockMagic      uint32 = 0x4C4B424F // "OBKL"
	lockVersion    uint32 = 1
	lockHeaderSize        = 64

	// SlotSize is the size of one reader slot.
	SlotSize = 64

	slotPid     = 0
	slotTxnid   = 8
	slotSession = 16
)

// Byte ranges of the lock file used as fcntl record locks. They lie in the
// header, which is never written after initialization.
const (
	writerLockOffset = 0
	initLockOffset   = 1
)

// fileKey identifies a lock file independently of the path used to open it.
type fileKey struct {
	dev uint64
	ino uint64
}

// lockFile is the per-process state of one lock file. Every manager opened on
// the same file in this process shares it, so the in-process writer
// semaphore and the slot claim mutex cover all of them.
type lockFile struct {
	key  fileKey
	path string

	// file holds the fcntl locks. spare keeps descriptors opened by later
	// managers: closing any descriptor of the file would drop this
	// process's record locks.
	file  *os.File
	spare []*os.File

	// data is the shared mapping of the whole lock file.
	data  []byte
	slots int

	// sem is the in-process writer lock; fcntl locks do not exclude
	// descriptors of the same process.
	sem chan struct{}

	// mu serializes slot claims, releases and stale checks of this process.
	mu sync.Mutex

	refs int
}

var registry = struct {
	sync.Mutex
	files map[fileKey]*lockFile
}{files: make(map[fileKey]*lockFile)}

// openLockFile opens (creating when needed) the lock file at path, or joins
// the instance this process already has open.
func openLockFile(path string, maxReaders int) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, err
	}
	key := fileKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}

	registry.Lock()
	defer registry.Unlock()

	if lf, ok := registry.files[key]; ok {
		lf.refs++
		lf.spare = append(lf.spare, f)
		return lf, nil
	}

	lf := &lockFile{
		key:  key,
		path: path,
		file: f,
		sem:  make(chan struct{}, 1),
		refs: 1,
	}
	if err := lf.init(maxReaders); err != nil {
		f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, lockHeaderSize+lf.slots*SlotSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &os.PathError{Op: "mmap", Path: path, Err: err}
	}
	lf.data = data
	registry.files[key] = lf
	return lf, nil
}

// init validates the header, writing a fresh one when the file is new or
// unrecognizable. It runs under a cross-process lock so concurrent openers
// agree on the layout.
func (lf *lockFile) init(maxReaders int) error {
	if err := lf.fcntl(initLockOffset, unix.F_WRLCK, true); err != nil {
		return err
	}
	defer lf.fcntl(initLockOffset, unix.F_UNLCK, false)

	hdr := make([]byte, lockHeaderSize)
	n, err := lf.file.ReadAt(hdr, 0)
	if err != nil && err != io.EOF {
		return err
	}
	if n == lockHeaderSize &&
		binary.LittleEndian.Uint32(hdr[0:4]) == lockMagic &&
		binary.LittleEndian.Uint32(hdr[4:8]) == lockVersion {
		lf.slots = int(binary.LittleEndian.Uint32(hdr[8:12]))
		info, err := lf.file.Stat()
		if err != nil {
			return err
		}
		if lf.slots <= 0 || info.Size() < int64(lockHeaderSize+lf.slots*SlotSize) {
			return storage.Corruptf("lock file", "%s: %d slots in %d bytes", lf.path, lf.slots, info.Size())
		}
		return nil
	}

	lf.slots = maxReaders
	size := int64(lockHeaderSize + maxReaders*SlotSize)
	if err := lf.file.Truncate(0); err != nil {
		return err
	}
	if err := lf.file.Truncate(size); err != nil {
		return err
	}
	for i := range hdr {
		hdr[i] = 0
	}
	binary.LittleEndian.PutUint32(hdr[0:4], lockMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], lockVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(maxReaders))
	if _, err := lf.file.WriteAt(hdr, 0); err != nil {
		return err
	}
	return nil
}

// fcntl sets a one-byte record lock at off. With wait unset a conflicting
// lock returns EAGAIN or EACCES.
func (lf *lockFile) fcntl(off int64, typ int16, wait bool) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: io.SeekStart,
		Start:  off,
		Len:    1,
	}
	cmd := unix.F_SETLK
	if wait {
		cmd = unix.F_SETLKW
	}
	for {
		err := unix.FcntlFlock(lf.file.Fd(), cmd, &lk)
		if err != unix.EINTR {
			return err
		}
	}
}

// release drops one reference, unmapping and closing the file with the last.
func (lf *lockFile) release() error {
	registry.Lock()
	defer registry.Unlock()

	lf.refs--
	if lf.refs > 0 {
		return nil
	}
	delete(registry.files, lf.key)

	err := unix.Munmap(lf.data)
	lf.data = nil
	for _, f := range lf.spare {
		f.Close()
	}
	if cerr := lf.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close lock file %s: %w", lf.path, err)
	}
	return nil
}
