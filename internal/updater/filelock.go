package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFilename is the cross-process sync lock inside the data directory.
const LockFilename = "sync.lock"

// ErrLockTimeout is returned when the sync lock is not acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for sync lock")

const (
	minLockPoll = 10 * time.Millisecond
	maxLockPoll = 500 * time.Millisecond
)

// FileLock is an exclusive flock(2) lock shared between processes using the
// same data directory. The kernel drops it if the holder dies.
// A FileLock is not safe for concurrent use; create one per acquisition.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock backed by the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without waiting. It reports false when another
// holder has it.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}
	acquired, err := l.attempt()
	if !acquired {
		l.closeFile()
	}
	return acquired, err
}

// Lock waits up to timeout for the lock, polling with exponential backoff.
// It returns ErrLockTimeout when the timeout expires and ctx.Err() when ctx
// is done first.
func (l *FileLock) Lock(ctx context.Context, timeout time.Duration) error {
	if err := l.open(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	poll := minLockPoll
	for {
		acquired, err := l.attempt()
		if err != nil {
			l.closeFile()
			return err
		}
		if acquired {
			return nil
		}

		if time.Now().After(deadline) {
			l.closeFile()
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			l.closeFile()
			return ctx.Err()
		case <-time.After(poll):
			poll = min(poll*2, maxLockPoll)
		}
	}
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	return closeErr
}

// IsLocked reports whether this instance holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.file != nil
}

func (l *FileLock) attempt() (bool, error) {
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syscall.EWOULDBLOCK):
		return false, nil
	default:
		return false, fmt.Errorf("flock failed: %w", err)
	}
}

func (l *FileLock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	l.file = file
	return nil
}

func (l *FileLock) closeFile() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
