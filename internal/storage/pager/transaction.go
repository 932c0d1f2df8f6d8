package pager

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TxnMode selects whether a Transaction may mutate pages.
type TxnMode int

const (
	TxnRead TxnMode = iota
	TxnWrite
)

// DefaultLockTimeout bounds how long a Transaction waits to acquire a page
// lock before failing with ErrTimeout.
const DefaultLockTimeout = 5 * time.Second

// TransactionManager hands out Transactions against a shared Pager/WAL/
// LockManager, enforcing that at most one write transaction runs at a
// time. Concurrent read transactions are unrestricted.
type TransactionManager struct {
	mu            sync.Mutex
	pager         *Pager
	wal           *WAL
	locks         *LockManager
	nextOwner     atomic.Uint64
	writerActive  bool
	activeReaders atomic.Int64
	lockTimeout   time.Duration
}

// ActiveReaders returns the number of read transactions currently open.
// Checkpoint uses this to defer truncating the WAL until no reader could
// plausibly still be walking pages the checkpoint is about to fsync
// over.
func (tm *TransactionManager) ActiveReaders() int64 { return tm.activeReaders.Load() }

// WriterActive reports whether a write transaction currently holds the
// writer role.
func (tm *TransactionManager) WriterActive() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.writerActive
}

// NewTransactionManager returns a manager over the given Pager/WAL/
// LockManager. A non-positive lockTimeout falls back to
// DefaultLockTimeout.
func NewTransactionManager(pager *Pager, wal *WAL, locks *LockManager, lockTimeout time.Duration) *TransactionManager {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &TransactionManager{pager: pager, wal: wal, locks: locks, lockTimeout: lockTimeout}
}

// Begin starts a new transaction in the given mode. A TxnWrite request
// fails with ErrWriterBusy if another write transaction is already open.
func (tm *TransactionManager) Begin(mode TxnMode) (*Transaction, error) {
	if mode == TxnWrite {
		tm.mu.Lock()
		if tm.writerActive {
			tm.mu.Unlock()
			return nil, ErrWriterBusy
		}
		tm.writerActive = true
		tm.mu.Unlock()
	} else {
		tm.activeReaders.Add(1)
	}

	owner := OwnerID(tm.nextOwner.Add(1))
	root, err := tm.pager.Header()
	if err != nil {
		if mode == TxnWrite {
			tm.mu.Lock()
			tm.writerActive = false
			tm.mu.Unlock()
		} else {
			tm.activeReaders.Add(-1)
		}
		return nil, err
	}

	return &Transaction{
		tm:        tm,
		pager:     tm.pager,
		wal:       tm.wal,
		locks:     tm.locks,
		owner:     owner,
		mode:      mode,
		timeout:   tm.lockTimeout,
		dirty:     make(map[PageID][]byte),
		held:      make(map[PageID]LockMode),
		root:      root.RootPageID,
		rootKnown: true,
	}, nil
}

func (tm *TransactionManager) releaseWriter() {
	tm.mu.Lock()
	tm.writerActive = false
	tm.mu.Unlock()
}

// savepointState is a named checkpoint a Transaction can roll back to
// without discarding the whole transaction.
type savepointState struct {
	dirty     map[PageID][]byte
	root      PageID
	rootKnown bool
	rootDirty bool
}

// Transaction buffers a set of page writes in memory (the "dirty" map)
// against a backing Pager, implementing pageStore so BTree operations can
// run directly against it. Nothing reaches the Pager or the WAL until
// Commit; Rollback simply discards the buffer.
type Transaction struct {
	mu    sync.Mutex
	tm    *TransactionManager
	pager *Pager
	wal   *WAL
	locks *LockManager

	owner   OwnerID
	mode    TxnMode
	timeout time.Duration

	dirty map[PageID][]byte // pages written within this transaction
	held  map[PageID]LockMode

	root      PageID
	rootKnown bool
	rootDirty bool

	savepoints map[string]*savepointState
	spOrder    []string

	done bool
}

func (tx *Transaction) acquire(id PageID, mode LockMode) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	if err := tx.locks.Acquire(tx.owner, id, mode, tx.timeout); err != nil {
		return err
	}
	tx.held[id] = mode
	return nil
}

// readPage implements pageStore: dirty pages are served from the
// transaction's own buffer; everything else is locked shared and read
// through the Pager.
func (tx *Transaction) readPage(id PageID) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if buf, ok := tx.dirty[id]; ok {
		out := make([]byte, PageSize)
		copy(out, buf)
		return out, nil
	}
	if err := tx.acquire(id, LockShared); err != nil {
		return nil, err
	}
	return tx.pager.ReadPage(id)
}

// writePage implements pageStore: the page's image is buffered; nothing is
// written to the Pager until Commit. The page is locked exclusive only if
// this transaction holds no lock on it yet; a page it has already read
// keeps the shared lock taken by readPage (locks are never upgraded).
func (tx *Transaction) writePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: transaction write of %d bytes, want %d", ErrInvalidArgument, len(buf), PageSize)
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.mode != TxnWrite {
		return fmt.Errorf("%w: write on a read-only transaction", ErrInvalidArgument)
	}
	if err := tx.acquire(id, LockExclusive); err != nil {
		return err
	}
	img := make([]byte, PageSize)
	copy(img, buf)
	tx.dirty[id] = img
	return nil
}

func (tx *Transaction) allocPage() PageID {
	return tx.pager.AllocPage()
}

func (tx *Transaction) rootID() (PageID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.rootKnown {
		return tx.root, nil
	}
	h, err := tx.pager.Header()
	if err != nil {
		return InvalidPageID, err
	}
	tx.root = h.RootPageID
	tx.rootKnown = true
	return tx.root, nil
}

func (tx *Transaction) setRoot(id PageID) error {
	if err := tx.acquire(HeaderPageID, LockExclusive); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.root = id
	tx.rootKnown = true
	tx.rootDirty = true
	return nil
}

// Savepoint records the transaction's current buffered state under name,
// so a later RollbackTo can undo everything written since without
// discarding the whole transaction.
func (tx *Transaction) Savepoint(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	snapshot := make(map[PageID][]byte, len(tx.dirty))
	for id, buf := range tx.dirty {
		cp := make([]byte, PageSize)
		copy(cp, buf)
		snapshot[id] = cp
	}
	if tx.savepoints == nil {
		tx.savepoints = make(map[string]*savepointState)
	}
	tx.savepoints[name] = &savepointState{
		dirty:     snapshot,
		root:      tx.root,
		rootKnown: tx.rootKnown,
		rootDirty: tx.rootDirty,
	}
	tx.spOrder = append(tx.spOrder, name)
	return nil
}

// RollbackTo restores the transaction's buffer to the state captured by
// Savepoint(name), discarding every write made since. Savepoints created
// after name are forgotten; name itself remains valid for a further
// RollbackTo.
func (tx *Transaction) RollbackTo(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	sp, ok := tx.savepoints[name]
	if !ok {
		return fmt.Errorf("%w: unknown savepoint %q", ErrNotFound, name)
	}

	restored := make(map[PageID][]byte, len(sp.dirty))
	for id, buf := range sp.dirty {
		cp := make([]byte, PageSize)
		copy(cp, buf)
		restored[id] = cp
	}
	tx.dirty = restored
	tx.root = sp.root
	tx.rootKnown = sp.rootKnown
	tx.rootDirty = sp.rootDirty

	idx := -1
	for i, n := range tx.spOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx >= 0 {
		for _, n := range tx.spOrder[idx+1:] {
			delete(tx.savepoints, n)
		}
		tx.spOrder = tx.spOrder[:idx+1]
	}
	return nil
}

// Commit durably applies every buffered page write — append all WAL
// records, fsync the WAL once, apply to the Pager, fsync the data file —
// then releases all locks this transaction held.
//
// A failure before the WAL fsync rolls the transaction back before
// returning: the buffered records are discarded so they cannot ride
// along with a later transaction's flush. A failure after the WAL fsync
// leaves the WAL intact and the transaction open — the work is already
// durable, and the next open recovers it by replay.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("%w: transaction already finished", ErrInvalidArgument)
	}

	if tx.rootDirty {
		tx.dirty[HeaderPageID] = headerPageBytes(tx.root)
	}

	for id, img := range tx.dirty {
		if _, err := tx.wal.Append(id, img); err != nil {
			tx.wal.DiscardPending()
			tx.finishLocked()
			return err
		}
	}
	if err := tx.wal.Flush(); err != nil {
		tx.wal.DiscardPending()
		tx.finishLocked()
		return err
	}
	for id, img := range tx.dirty {
		if err := tx.pager.WritePage(id, img); err != nil {
			return err
		}
	}
	if len(tx.dirty) > 0 {
		if err := tx.pager.Sync(); err != nil {
			return err
		}
	}

	tx.finishLocked()
	return nil
}

// Rollback discards every buffered write and releases all locks. Since
// nothing reaches the Pager before Commit, this never touches the data
// file or the WAL.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("%w: transaction already finished", ErrInvalidArgument)
	}
	tx.dirty = nil
	tx.finishLocked()
	return nil
}

func (tx *Transaction) finishLocked() {
	tx.releaseLocks()
	tx.done = true
	if tx.mode == TxnWrite {
		tx.tm.releaseWriter()
	} else {
		tx.tm.activeReaders.Add(-1)
	}
}

// Mode reports whether this transaction is read-only or read-write.
func (tx *Transaction) Mode() TxnMode { return tx.mode }

// The methods below drive a BTree against this transaction's buffered
// view. They exist so callers outside this package (the engine facade)
// can run index operations without needing access to the unexported
// pageStore interface — a Transaction already implements it internally.

// Search looks up key in tree using this transaction's view of the pages.
func (tx *Transaction) Search(tree *BTree, key []byte) ([]byte, bool, error) {
	return tree.Search(tx, key)
}

// Insert writes key/value into tree through this transaction's dirty
// buffer. The transaction must be TxnWrite.
func (tx *Transaction) Insert(tree *BTree, key, value []byte) error {
	return tree.Insert(tx, key, value)
}

// Delete removes key from tree through this transaction's dirty buffer.
// The transaction must be TxnWrite.
func (tx *Transaction) Delete(tree *BTree, key []byte) (bool, error) {
	return tree.Delete(tx, key)
}

// NewCursor returns a Cursor over tree using this transaction's view.
func (tx *Transaction) NewCursor(tree *BTree) *Cursor {
	return NewCursor(tree, tx)
}

// ScanRange yields every key/value pair in tree with start <= key < end,
// using this transaction's view.
func (tx *Transaction) ScanRange(tree *BTree, start, end []byte, visit VisitFunc) error {
	return ScanRange(tree, tx, start, end, visit)
}

// Stats walks tree and summarizes its shape, using this transaction's
// view.
func (tx *Transaction) Stats(tree *BTree) (TreeStats, error) {
	return tree.Walk(tx)
}

func (tx *Transaction) releaseLocks() {
	for id, mode := range tx.held {
		tx.locks.Release(tx.owner, id, mode)
	}
	tx.held = nil
}

func headerPageBytes(root PageID) []byte {
	buf := newHeaderPage()
	putUint32(buf[headerRootOffset:], uint32(root))
	return buf
}
