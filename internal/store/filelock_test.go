package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func unlockLock(t *testing.T, lock *FileLock) {
	t.Helper()
	if err := lock.Unlock(); err != nil {
		t.Logf("Warning: Unlock failed: %v", err)
	}
}

func TestFileLock_TryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "sub", "lore.lock")

	first := NewFileLock(lockPath)
	if err := first.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer unlockLock(t, first)
	if !first.IsLocked() {
		t.Error("Expected IsLocked to return true")
	}

	second := NewFileLock(lockPath)
	err := second.TryLock()
	if !errors.Is(err, ErrLockWouldBlock) {
		t.Fatalf("second TryLock error = %v, want ErrLockWouldBlock", err)
	}
	if second.IsLocked() {
		t.Error("Expected second lock's IsLocked to return false")
	}
}

func TestFileLock_LockTimesOut(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lore.lock")

	holder := NewFileLock(lockPath)
	if err := holder.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer unlockLock(t, holder)

	waiter := NewFileLock(lockPath)
	start := time.Now()
	err := waiter.Lock(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock error = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Lock returned after %v, want at least the timeout", elapsed)
	}
	if waiter.IsLocked() {
		t.Error("Expected waiter not to hold the lock")
	}
}

func TestFileLock_LockAcquiresAfterRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lore.lock")

	holder := NewFileLock(lockPath)
	if err := holder.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	var released atomic.Bool
	go func() {
		time.Sleep(50 * time.Millisecond)
		released.Store(true)
		_ = holder.Unlock()
	}()

	waiter := NewFileLock(lockPath)
	if err := waiter.Lock(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlockLock(t, waiter)

	if !released.Load() {
		t.Error("Expected lock to be acquired only after release")
	}
}

func TestFileLock_LockHonoursCancel(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lore.lock")

	holder := NewFileLock(lockPath)
	if err := holder.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer unlockLock(t, holder)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewFileLock(lockPath).Lock(ctx, 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock error = %v, want context.DeadlineExceeded", err)
	}
}

func TestFileLock_UnlockIdempotent(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "lore.lock"))
	if err := lock.Unlock(); err != nil {
		t.Errorf("Unlock on unheld lock failed: %v", err)
	}
	if err := lock.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Errorf("Unlock failed: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Errorf("second Unlock failed: %v", err)
	}
	if lock.Path() == "" {
		t.Error("Expected Path to be set")
	}
}
