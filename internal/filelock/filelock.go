// Package filelock serializes writers of a shared file across processes using flock(2).
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned when the context ends before the lock is acquired
var ErrLocked = errors.New("file is locked by another process")

const (
	initialRetry = 10 * time.Millisecond
	maxRetry     = 100 * time.Millisecond
)

// Lock is an exclusive advisory lock on <path>.lock. A Lock is not safe for concurrent
// use; callers serialize in-process access themselves.
type Lock struct {
	path string
	file *os.File
}

// For returns the lock guarding path
func For(path string) *Lock {
	return &Lock{path: path + ".lock"}
}

// Path returns the lock file path
func (l *Lock) Path() string { return l.path }

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *Lock) TryLock() (bool, error) {
	if l.file != nil {
		return false, fmt.Errorf("lock %s already held", l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.file = f
	return true, nil
}

// LockContext polls for the lock with backoff until it is acquired or ctx ends.
func (l *Lock) LockContext(ctx context.Context) error {
	retry := initialRetry
	for {
		acquired, err := l.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %v", ErrLocked, l.path, ctx.Err())
		case <-timer.C:
		}
		if retry < maxRetry {
			retry *= 2
		}
	}
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return closeErr
}

// Do runs fn while holding the lock
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	if err := l.LockContext(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
