//go:build linux || darwin

package tx

import (
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// liveSessions holds the sessions of the managers open in this process. A
// slot owned by this process whose session is not live was left behind by a
// closed manager.
var liveSessions sync.Map

var selfPid = uint64(os.Getpid())

func (lf *lockFile) word(slot, field int) *uint64 {
	return (*uint64)(unsafe.Pointer(&lf.data[lockHeaderSize+slot*SlotSize+field]))
}

func (lf *lockFile) session(slot int) []byte {
	off := lockHeaderSize + slot*SlotSize + slotSession
	return lf.data[off : off+16]
}

// claimSlot takes a free slot for session. When every slot is taken, stale
// slots are reclaimed once before giving up with ReadersFull.
func (lf *lockFile) claimSlot(session uuid.UUID) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		for i := 0; i < lf.slots; i++ {
			if atomic.LoadUint64(lf.word(i, slotPid)) != 0 {
				continue
			}
			if !atomic.CompareAndSwapUint64(lf.word(i, slotPid), 0, selfPid) {
				continue
			}
			atomic.StoreUint64(lf.word(i, slotTxnid), 0)
			copy(lf.session(i), session[:])
			return i, nil
		}
		if lf.reclaimLocked() == 0 {
			break
		}
	}
	return -1, storage.NewError(storage.CodeReadersFull, "begin read", nil)
}

// releaseSlot frees a slot claimed by this process.
func (lf *lockFile) releaseSlot(slot int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	atomic.StoreUint64(lf.word(slot, slotTxnid), 0)
	copy(lf.session(slot), uuid.Nil[:])
	atomic.StoreUint64(lf.word(slot, slotPid), 0)
}

// oldestReader returns the smallest txnid published by a claimed slot.
// Slots that are claimed but not yet published hold 0 and are skipped.
func (lf *lockFile) oldestReader() (uint64, bool) {
	var oldest uint64
	found := false
	for i := 0; i < lf.slots; i++ {
		if atomic.LoadUint64(lf.word(i, slotPid)) == 0 {
			continue
		}
		t := atomic.LoadUint64(lf.word(i, slotTxnid))
		if t == 0 {
			continue
		}
		if !found || t < oldest {
			oldest, found = t, true
		}
	}
	return oldest, found
}

// reclaim frees slots of dead processes and of closed sessions of this
// process, returning how many were freed.
func (lf *lockFile) reclaim() int {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.reclaimLocked()
}

// reclaimLocked frees stale slots. Only the pid is cleared: every other
// field of a slot is written by its owner alone.
func (lf *lockFile) reclaimLocked() int {
	freed := 0
	for i := 0; i < lf.slots; i++ {
		pid := atomic.LoadUint64(lf.word(i, slotPid))
		if pid == 0 || !lf.stale(i, pid) {
			continue
		}
		if atomic.CompareAndSwapUint64(lf.word(i, slotPid), pid, 0) {
			freed++
		}
	}
	return freed
}

func (lf *lockFile) stale(slot int, pid uint64) bool {
	if pid == selfPid {
		var s uuid.UUID
		copy(s[:], lf.session(slot))
		_, live := liveSessions.Load(s)
		return !live
	}
	return unix.Kill(int(pid), 0) == unix.ESRCH
}

// readerCount returns how many slots are in use.
func (lf *lockFile) readerCount() int {
	n := 0
	for i := 0; i < lf.slots; i++ {
		if atomic.LoadUint64(lf.word(i, slotPid)) != 0 {
			n++
		}
	}
	return n
}
