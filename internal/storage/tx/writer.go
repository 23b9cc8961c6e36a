//go:build linux || darwin

package tx

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// writerPollInterval is how often a blocked writer retries the cross-process
// lock. fcntl offers no way to wait on a lock and a context at once.
const writerPollInterval = 2 * time.Millisecond

// lockWriter acquires the writer lock, first against other managers of this
// process and then against other processes. It gives up when ctx is done.
func (lf *lockFile) lockWriter(ctx context.Context) error {
	select {
	case lf.sem <- struct{}{}:
	case <-ctx.Done():
		return storage.NewError(storage.CodeBusy, "begin write", ctx.Err())
	}

	timer := time.NewTimer(writerPollInterval)
	defer timer.Stop()
	for {
		ok, err := lf.tryFcntlWriter()
		if err != nil || ok {
			if err != nil {
				<-lf.sem
			}
			return err
		}
		select {
		case <-ctx.Done():
			<-lf.sem
			return storage.NewError(storage.CodeBusy, "begin write", ctx.Err())
		case <-timer.C:
			timer.Reset(writerPollInterval)
		}
	}
}

// tryLockWriter acquires the writer lock without waiting; Busy when held.
func (lf *lockFile) tryLockWriter() error {
	select {
	case lf.sem <- struct{}{}:
	default:
		return storage.NewError(storage.CodeBusy, "begin write", nil)
	}
	ok, err := lf.tryFcntlWriter()
	if err == nil && !ok {
		err = storage.NewError(storage.CodeBusy, "begin write", nil)
	}
	if err != nil {
		<-lf.sem
	}
	return err
}

func (lf *lockFile) tryFcntlWriter() (bool, error) {
	err := lf.fcntl(writerLockOffset, unix.F_WRLCK, false)
	switch err {
	case nil:
		return true, nil
	case unix.EAGAIN, unix.EACCES:
		return false, nil
	default:
		return false, err
	}
}

// unlockWriter releases the writer lock.
func (lf *lockFile) unlockWriter() error {
	err := lf.fcntl(writerLockOffset, unix.F_UNLCK, false)
	<-lf.sem
	return err
}
