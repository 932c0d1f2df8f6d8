// Package engine is the client-facing facade of BTreeDB: it opens the
// database file, validates the header, runs WAL recovery, and exposes
// put/get/delete/scan/begin/commit/rollback/stats/checkpoint/close/backup/
// restore over the pager package's Pager, WAL, BTree, LockManager, and
// Transaction types.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

// MaxKeyLen bounds an encodable key. Chosen so several keys plus their
// separators always fit comfortably inside one internal node page.
const MaxKeyLen = 1024

// MaxValueLen bounds an encodable, already-wrapped value so a single
// record always fits one page alongside a maximum-length key: the page
// minus the node header (tag byte and 4-byte key count), the record's two
// 4-byte length prefixes, and MaxKeyLen.
const MaxValueLen = pager.PageSize - 5 - 8 - MaxKeyLen

// Engine is the top-level handle clients open and operate on. It owns the
// Pager, WAL, LockManager, TransactionManager and the single BTree index
// for the database file at Path.
type Engine struct {
	// globalMu arbitrates against Backup/Restore, which need a
	// whole-engine shared/exclusive hold beyond any single page lock.
	// Ordinary operations take it for reading; Backup takes it for
	// reading too (many concurrent backups and operations may proceed
	// together); Restore and Close take it exclusively.
	globalMu sync.RWMutex

	path string
	cfg  EngineConfig

	pager *pager.Pager
	wal   *pager.WAL
	locks *pager.LockManager
	tm    *pager.TransactionManager
	tree  *pager.BTree

	closed bool
}

// Open opens (or creates) the database file at path, using cfg for tuning.
// A zero EngineConfig is equivalent to DefaultConfig(). Open runs WAL
// recovery before returning, so a freshly opened Engine always reflects
// the last durably committed state; a failed recovery leaves the
// database closed.
func Open(path string, cfg EngineConfig) (*Engine, error) {
	if cfg == (EngineConfig{}) {
		cfg = DefaultConfig()
	}

	p, err := pager.OpenPager(path, cfg.cacheSize())
	if err != nil {
		return nil, err
	}

	w, err := pager.OpenWAL(walPath(path))
	if err != nil {
		p.Close()
		return nil, err
	}

	if err := runRecovery(p, w); err != nil {
		w.Close()
		p.Close()
		return nil, err
	}

	locks := pager.NewLockManager()
	tm := pager.NewTransactionManager(p, w, locks, cfg.lockTimeout())

	return &Engine{
		path:  path,
		cfg:   cfg,
		pager: p,
		wal:   w,
		locks: locks,
		tm:    tm,
		tree:  pager.NewBTree(),
	}, nil
}

func walPath(dbPath string) string { return dbPath + "-wal" }

// runRecovery replays every well-formed WAL record directly onto the pager
// (bypassing the transaction/lock layer, since no other handle can be
// open on this file yet) and then checkpoints. Recovery is what makes a
// commit that reached the WAL fsync but not the pager apply visible
// again.
func runRecovery(p *pager.Pager, w *pager.WAL) error {
	applied, err := w.Replay(func(id pager.PageID, image []byte) error {
		return p.WritePage(id, image)
	})
	if err != nil {
		return err
	}
	if applied > 0 {
		if err := p.Sync(); err != nil {
			return err
		}
	}
	return w.Checkpoint()
}

// validateKey rejects empty or oversized keys with ErrInvalidArgument.
func validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", pager.ErrInvalidArgument)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: key of %d bytes exceeds max %d", pager.ErrInvalidArgument, len(key), MaxKeyLen)
	}
	return nil
}

// encodeStoredValue applies the value codec and the engine's configured
// compression wrapper, then checks the boundary.
func (e *Engine) encodeStoredValue(v pager.Value) ([]byte, error) {
	raw := pager.EncodeValue(v)
	wrapped := pager.Compress(raw, e.cfg.compressionCodec(), e.cfg.compressionThreshold())
	if len(wrapped) > MaxValueLen {
		return nil, fmt.Errorf("%w: value of %d bytes exceeds max %d", pager.ErrInvalidArgument, len(wrapped), MaxValueLen)
	}
	return wrapped, nil
}

func decodeStoredValue(wrapped []byte) (pager.Value, error) {
	raw, err := pager.Decompress(wrapped)
	if err != nil {
		return pager.Value{}, err
	}
	return pager.DecodeValue(raw)
}

// Put writes key/value, overwriting any existing value for key —
// duplicate keys are not supported. It runs as its own single-operation
// write transaction.
func (e *Engine) Put(key []byte, value pager.Value) error {
	e.globalMu.RLock()
	defer e.globalMu.RUnlock()
	if e.closed {
		return fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}
	if err := validateKey(key); err != nil {
		return err
	}
	stored, err := e.encodeStoredValue(value)
	if err != nil {
		return err
	}

	tx, err := e.tm.Begin(pager.TxnWrite)
	if err != nil {
		return err
	}
	if err := tx.Insert(e.tree, key, stored); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// Get returns the value stored for key, and false if key is absent. A
// missing key is not an error.
func (e *Engine) Get(key []byte) (pager.Value, bool, error) {
	e.globalMu.RLock()
	defer e.globalMu.RUnlock()
	if e.closed {
		return pager.Value{}, false, fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}
	if err := validateKey(key); err != nil {
		return pager.Value{}, false, err
	}

	tx, err := e.tm.Begin(pager.TxnRead)
	if err != nil {
		return pager.Value{}, false, err
	}
	defer tx.Commit()

	stored, found, err := tx.Search(e.tree, key)
	if err != nil || !found {
		return pager.Value{}, false, err
	}
	v, err := decodeStoredValue(stored)
	if err != nil {
		return pager.Value{}, false, err
	}
	return v, true, nil
}

// Delete removes key if present, returning whether it was found.
func (e *Engine) Delete(key []byte) (bool, error) {
	e.globalMu.RLock()
	defer e.globalMu.RUnlock()
	if e.closed {
		return false, fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	tx, err := e.tm.Begin(pager.TxnWrite)
	if err != nil {
		return false, err
	}
	found, err := tx.Delete(e.tree, key)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return false, err
	}
	return found, nil
}

// Stats summarizes the tree's current shape plus pager/WAL bookkeeping.
type Stats struct {
	Keys          int
	TreeHeight    int
	PageCount     int
	LeafNodes     int
	InternalNodes int
	FreePages     int
	WALSizeBytes  int64
}

// Stats reads the tree under a shared read transaction and returns its
// current shape.
func (e *Engine) Stats() (Stats, error) {
	e.globalMu.RLock()
	defer e.globalMu.RUnlock()
	if e.closed {
		return Stats{}, fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}

	tx, err := e.tm.Begin(pager.TxnRead)
	if err != nil {
		return Stats{}, err
	}
	defer tx.Commit()

	ts, err := tx.Stats(e.tree)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Keys:          ts.Keys,
		TreeHeight:    ts.TreeHeight,
		PageCount:     e.pager.PageCount(),
		LeafNodes:     ts.LeafNodes,
		InternalNodes: ts.InternalNodes,
		FreePages:     0, // no free list: deletes never reclaim pages
		WALSizeBytes:  e.walSizeBytes(),
	}, nil
}

// Checkpoint fsyncs the data file and truncates the WAL. It
// defers to active readers — the WAL is only truncated once no read
// transaction is open, failing with ErrTimeout if readers do not drain
// within the configured lock timeout.
func (e *Engine) Checkpoint() error {
	e.globalMu.RLock()
	defer e.globalMu.RUnlock()
	if e.closed {
		return fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}
	return e.checkpointLocked()
}

func (e *Engine) checkpointLocked() error {
	// The target pages must be durable in the data file before the log
	// that would recreate them is truncated.
	if err := e.pager.Sync(); err != nil {
		return err
	}
	deadline := time.Now().Add(e.cfg.lockTimeout())
	for e.tm.ActiveReaders() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: waiting for readers before checkpoint", pager.ErrTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return e.wal.Checkpoint()
}

// Close flushes and closes the WAL and the database file. After Close,
// every other method returns an error.
func (e *Engine) Close() error {
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if err := e.wal.Close(); err != nil {
		firstErr = err
	}
	if err := e.pager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Path returns the database file path this Engine was opened with.
func (e *Engine) Path() string { return e.path }

func (e *Engine) walSizeBytes() int64 {
	n, err := e.wal.Size()
	if err != nil {
		return 0
	}
	return n
}
