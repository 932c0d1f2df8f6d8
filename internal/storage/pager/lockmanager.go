package pager

import (
	"sync"
	"time"
)

// LockMode selects shared (reader) or exclusive (writer) acquisition.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// OwnerID identifies a lock holder (a transaction or a read-only caller).
// Locks are reentrant per owner id.
type OwnerID uint64

// pageLock is a single page's read-write lock. Waiters block on waitCh,
// which is closed and replaced every time the lock's state changes — a
// cheap broadcast-on-change primitive that composes with a timeout via
// select, unlike sync.Cond.
type pageLock struct {
	mu              sync.Mutex
	sharedHolders   map[OwnerID]int
	exclusiveHolder OwnerID
	exclusiveHeld   bool
	exclusiveCount  int
	waitCh          chan struct{}
}

func newPageLock() *pageLock {
	return &pageLock{sharedHolders: make(map[OwnerID]int), waitCh: make(chan struct{})}
}

func (l *pageLock) notifyLocked() {
	close(l.waitCh)
	l.waitCh = make(chan struct{})
}

// LockManager grants per-page shared/exclusive locks: many shared holders
// or exactly one exclusive holder. Acquisition order within the BTree is
// root-to-leaf (enforced by callers, not by this type) to prevent
// deadlocks between concurrent traversals.
type LockManager struct {
	mu    sync.Mutex
	locks map[PageID]*pageLock
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[PageID]*pageLock)}
}

func (lm *LockManager) lockFor(id PageID) *pageLock {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[id]
	if !ok {
		l = newPageLock()
		lm.locks[id] = l
	}
	return l
}

// Acquire blocks until mode is granted on pageID to owner, or timeout
// elapses (returns ErrTimeout). Attempting to acquire Exclusive while the
// same owner already holds Shared on the same page is treated as a lock
// upgrade, which is not supported directly — it fails immediately with
// ErrWouldDeadlock; the caller must release its shared hold and
// re-acquire exclusive from scratch.
func (lm *LockManager) Acquire(owner OwnerID, pageID PageID, mode LockMode, timeout time.Duration) error {
	l := lm.lockFor(pageID)
	deadline := time.Now().Add(timeout)

	for {
		l.mu.Lock()
		switch mode {
		case LockShared:
			if !l.exclusiveHeld || l.exclusiveHolder == owner {
				l.sharedHolders[owner]++
				l.mu.Unlock()
				return nil
			}
		case LockExclusive:
			if l.exclusiveHeld && l.exclusiveHolder == owner {
				l.exclusiveCount++
				l.mu.Unlock()
				return nil
			}
			if cnt := l.sharedHolders[owner]; cnt > 0 {
				l.mu.Unlock()
				return ErrWouldDeadlock
			}
			if !l.exclusiveHeld && len(l.sharedHolders) == 0 {
				l.exclusiveHeld = true
				l.exclusiveHolder = owner
				l.exclusiveCount = 1
				l.mu.Unlock()
				return nil
			}
		}
		ch := l.waitCh
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return ErrTimeout
		}
	}
}

// Release drops one hold of mode by owner on pageID. Reentrant
// acquisitions must be released the same number of times they were taken.
func (lm *LockManager) Release(owner OwnerID, pageID PageID, mode LockMode) {
	l := lm.lockFor(pageID)
	l.mu.Lock()
	defer l.mu.Unlock()

	switch mode {
	case LockShared:
		if cnt := l.sharedHolders[owner]; cnt > 0 {
			if cnt == 1 {
				delete(l.sharedHolders, owner)
			} else {
				l.sharedHolders[owner] = cnt - 1
			}
			l.notifyLocked()
		}
	case LockExclusive:
		if l.exclusiveHeld && l.exclusiveHolder == owner {
			l.exclusiveCount--
			if l.exclusiveCount <= 0 {
				l.exclusiveHeld = false
				l.exclusiveHolder = 0
			}
			l.notifyLocked()
		}
	}
}
