package engine

import (
	"bytes"
	"fmt"

	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

// ScanIterator is a lazy, finite, non-restartable sequence over
// start <= key < end (either bound nil meaning -infinity/+infinity). It
// holds a read transaction open for its whole lifetime. It reads
// committed pages only, each as it stands when the cursor reaches it, so
// a write committed during the scan can show up in pages not yet visited;
// a split or merge since the scan started makes Next stop with
// ErrInvalidated (reported by Err).
type ScanIterator struct {
	engine  *Engine
	tx      *pager.Transaction
	cursor  *pager.Cursor
	end     []byte
	started bool
	err     error
	closed  bool
}

// Scan opens a range scan over [start, end). Either bound may be nil.
// Callers must call Close when done (directly, or by draining Next to
// false, which closes automatically).
func (e *Engine) Scan(start, end []byte) (*ScanIterator, error) {
	e.globalMu.RLock()
	if e.closed {
		e.globalMu.RUnlock()
		return nil, errEngineClosed()
	}
	tx, err := e.tm.Begin(pager.TxnRead)
	if err != nil {
		e.globalMu.RUnlock()
		return nil, err
	}
	cursor := tx.NewCursor(e.tree)

	it := &ScanIterator{engine: e, tx: tx, cursor: cursor, end: end}
	if start == nil {
		it.err = cursor.SeekFirst()
	} else {
		it.err = cursor.Seek(start)
	}
	if it.err != nil {
		it.Close()
		return nil, it.err
	}
	return it, nil
}

// Next advances to the next entry, returning false when the scan is
// exhausted (or the end bound is reached) or an error occurred — check
// Err to distinguish the two. Next closes the iterator automatically on
// exhaustion or error.
func (it *ScanIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
	} else {
		if err := it.cursor.Next(); err != nil {
			it.err = err
			it.Close()
			return false
		}
	}
	if !it.cursor.Valid() {
		it.Close()
		return false
	}
	if it.end != nil && bytes.Compare(it.cursor.Key(), it.end) >= 0 {
		it.Close()
		return false
	}
	return true
}

// Key returns the current entry's raw key bytes. Valid only after a Next
// call that returned true.
func (it *ScanIterator) Key() []byte { return it.cursor.Key() }

// Value decodes the current entry's stored value.
func (it *ScanIterator) Value() (pager.Value, error) {
	return decodeStoredValue(it.cursor.Value())
}

// Err returns the error that stopped the scan, if any.
func (it *ScanIterator) Err() error { return it.err }

// Close ends the scan's read transaction, releasing its locks. Safe to
// call more than once.
func (it *ScanIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	defer it.engine.globalMu.RUnlock()
	return it.tx.Commit()
}

func errEngineClosed() error {
	return fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
}
