package engine

import (
	"fmt"

	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

// Txn is a client-visible write context. It wraps a *pager.Transaction,
// applying the engine's value codec and compression wrapper the same way
// Put/Get/Delete do outside a transaction.
type Txn struct {
	engine *Engine
	tx     *pager.Transaction
	done   bool
}

// Begin opens a write transaction against the engine. Only one write
// transaction may be open at a time; a second concurrent Begin
// fails with ErrWriterBusy until the first commits or rolls back.
func (e *Engine) Begin() (*Txn, error) {
	e.globalMu.RLock()
	if e.closed {
		e.globalMu.RUnlock()
		return nil, fmt.Errorf("%w: engine is closed", pager.ErrInvalidArgument)
	}
	tx, err := e.tm.Begin(pager.TxnWrite)
	if err != nil {
		e.globalMu.RUnlock()
		return nil, err
	}
	// globalMu.RUnlock happens on Commit/Rollback — the transaction's
	// lifetime holds the engine's shared slot open so a concurrent
	// Backup/Restore cannot observe a half-finished transaction.
	return &Txn{engine: e, tx: tx}, nil
}

func (t *Txn) finish() { t.engine.globalMu.RUnlock() }

// Put stages a write inside the transaction; nothing is durable until
// Commit.
func (t *Txn) Put(key []byte, value pager.Value) error {
	if err := validateKey(key); err != nil {
		return err
	}
	stored, err := t.engine.encodeStoredValue(value)
	if err != nil {
		return err
	}
	return t.tx.Insert(t.engine.tree, key, stored)
}

// Get reads key through the transaction's own buffered view, so a write
// staged earlier in the same transaction is visible to a later read in
// it.
func (t *Txn) Get(key []byte) (pager.Value, bool, error) {
	if err := validateKey(key); err != nil {
		return pager.Value{}, false, err
	}
	stored, found, err := t.tx.Search(t.engine.tree, key)
	if err != nil || !found {
		return pager.Value{}, false, err
	}
	v, err := decodeStoredValue(stored)
	return v, true, err
}

// Delete stages a delete inside the transaction.
func (t *Txn) Delete(key []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return t.tx.Delete(t.engine.tree, key)
}

// Savepoint records a named marker the transaction can later roll back to
// without discarding everything written so far.
func (t *Txn) Savepoint(name string) error {
	return t.tx.Savepoint(name)
}

// RollbackTo undoes every write staged since Savepoint(name), keeping the
// transaction open and the writes before that savepoint intact.
func (t *Txn) RollbackTo(name string) error {
	return t.tx.RollbackTo(name)
}

// Commit durably applies every staged write (WAL append + fsync, then
// pager apply + fsync) and ends the transaction.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("%w: transaction already finished", pager.ErrInvalidArgument)
	}
	t.done = true
	defer t.finish()
	if err := t.tx.Commit(); err != nil {
		t.tx.Rollback()
		return err
	}
	return nil
}

// Rollback discards every staged write. Since nothing reaches the pager
// or WAL before Commit, this never touches the data file.
func (t *Txn) Rollback() error {
	if t.done {
		return fmt.Errorf("%w: transaction already finished", pager.ErrInvalidArgument)
	}
	t.done = true
	defer t.finish()
	return t.tx.Rollback()
}
