package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

var (
	// ErrLockTimeout indicates the lock could not be acquired before the timeout.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrLockWouldBlock indicates the lock is held by another invocation.
	ErrLockWouldBlock = errors.New("lock is held by another process")
)

const (
	initialPollInterval = 10 * time.Millisecond
	maxPollInterval     = 250 * time.Millisecond
)

// FileLock is an exclusive flock(2) lock on a file. The kernel releases it
// when the holder exits or crashes, so a stale lock file never blocks
// later invocations.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unlocked lock for path. The file is created lazily.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without waiting. It returns ErrLockWouldBlock
// when another holder has it.
func (l *FileLock) TryLock() error {
	if err := l.open(); err != nil {
		return err
	}
	if err := l.flock(); err != nil {
		l.release()
		return err
	}
	return nil
}

// Lock waits up to timeout for the lock, polling with exponential backoff.
// It returns ErrLockTimeout when the timeout expires, or the context error
// if ctx is canceled first.
func (l *FileLock) Lock(ctx context.Context, timeout time.Duration) error {
	if err := l.open(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	poll := initialPollInterval

	for {
		err := l.flock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockWouldBlock) {
			l.release()
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.release()
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			l.release()
			return ctx.Err()
		case <-time.After(min(poll, remaining)):
			poll = min(poll*2, maxPollInterval)
		}
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if !l.IsLocked() {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed: %w", closeErr)
	}
	return nil
}

// IsLocked reports whether this instance holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.file != nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) flock() error {
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return ErrLockWouldBlock
	}
	return fmt.Errorf("flock failed: %w", err)
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

func (l *FileLock) release() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
