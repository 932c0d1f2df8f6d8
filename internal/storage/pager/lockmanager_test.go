package pager

import (
	"sync"
	"testing"
	"time"
)

func TestLockManagerMultipleSharedHolders(t *testing.T) {
	lm := NewLockManager()
	if err := lm.Acquire(1, 10, LockShared, time.Second); err != nil {
		t.Fatalf("owner 1 acquire shared: %v", err)
	}
	if err := lm.Acquire(2, 10, LockShared, time.Second); err != nil {
		t.Fatalf("owner 2 acquire shared: %v", err)
	}
	lm.Release(1, 10, LockShared)
	lm.Release(2, 10, LockShared)
}

func TestLockManagerExclusiveBlocksShared(t *testing.T) {
	lm := NewLockManager()
	if err := lm.Acquire(1, 10, LockExclusive, time.Second); err != nil {
		t.Fatalf("owner 1 acquire exclusive: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- lm.Acquire(2, 10, LockShared, 100*time.Millisecond)
	}()

	select {
	case err := <-errCh:
		if err != ErrTimeout {
			t.Fatalf("expected ErrTimeout while exclusive held, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return within the wait window")
	}
	lm.Release(1, 10, LockExclusive)
}

func TestLockManagerReentrantForSameOwner(t *testing.T) {
	lm := NewLockManager()
	if err := lm.Acquire(1, 10, LockExclusive, time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := lm.Acquire(1, 10, LockExclusive, time.Second); err != nil {
		t.Fatalf("reentrant acquire: %v", err)
	}
	lm.Release(1, 10, LockExclusive)
	// Still held once more; a second owner must still block.
	acquired := make(chan struct{})
	go func() {
		lm.Acquire(2, 10, LockExclusive, time.Second)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second owner acquired while first still holds one reentrant count")
	case <-time.After(100 * time.Millisecond):
	}
	lm.Release(1, 10, LockExclusive)
	<-acquired
	lm.Release(2, 10, LockExclusive)
}

func TestLockManagerUpgradeWouldDeadlock(t *testing.T) {
	lm := NewLockManager()
	if err := lm.Acquire(1, 10, LockShared, time.Second); err != nil {
		t.Fatalf("acquire shared: %v", err)
	}
	if err := lm.Acquire(1, 10, LockExclusive, time.Second); err != ErrWouldDeadlock {
		t.Fatalf("expected ErrWouldDeadlock on upgrade attempt, got %v", err)
	}
}

func TestLockManagerWakesWaiterOnRelease(t *testing.T) {
	lm := NewLockManager()
	if err := lm.Acquire(1, 10, LockExclusive, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.Acquire(2, 10, LockExclusive, time.Second); err != nil {
			t.Errorf("waiter acquire failed: %v", err)
		}
		lm.Release(2, 10, LockExclusive)
	}()

	time.Sleep(20 * time.Millisecond)
	lm.Release(1, 10, LockExclusive)
	wg.Wait()
}
