package pager

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Pager, *WAL, *TransactionManager) {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPager(filepath.Join(dir, "db"), 0)
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	w, err := OpenWAL(filepath.Join(dir, "db-wal"))
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		p.Close()
	})
	tm := NewTransactionManager(p, w, NewLockManager(), 200*time.Millisecond)
	return p, w, tm
}

func TestTransactionCommitPersists(t *testing.T) {
	p, _, tm := newTestManager(t)
	tree := NewBTree()

	tx, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Insert(tree, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := tm.Begin(TxnRead)
	if err != nil {
		t.Fatalf("Begin read: %v", err)
	}
	v, found, err := rtx.Search(tree, []byte("k"))
	if err != nil || !found {
		t.Fatalf("Search after commit: found=%v err=%v", found, err)
	}
	if !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Search after commit = %q, want v", v)
	}
	rtx.Commit()
	_ = p
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	_, _, tm := newTestManager(t)
	tree := NewBTree()

	tx, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Insert(tree, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	rtx, err := tm.Begin(TxnRead)
	if err != nil {
		t.Fatalf("Begin read: %v", err)
	}
	_, found, err := rtx.Search(tree, []byte("k"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found {
		t.Fatal("rolled-back write should not be visible")
	}
	rtx.Commit()
}

func TestTransactionSavepointRollbackTo(t *testing.T) {
	_, _, tm := newTestManager(t)
	tree := NewBTree()

	tx, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Insert(tree, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if err := tx.Savepoint("sp1"); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if err := tx.Insert(tree, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if err := tx.RollbackTo("sp1"); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	_, found, err := tx.Search(tree, []byte("b"))
	if err != nil {
		t.Fatalf("Search b: %v", err)
	}
	if found {
		t.Fatal("key written after savepoint should be gone after RollbackTo")
	}
	v, found, err := tx.Search(tree, []byte("a"))
	if err != nil || !found {
		t.Fatalf("Search a: found=%v err=%v", found, err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("Search a = %q, want 1", v)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTransactionManagerEnforcesSingleWriter(t *testing.T) {
	_, _, tm := newTestManager(t)

	tx1, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin first writer: %v", err)
	}
	if _, err := tm.Begin(TxnWrite); err != ErrWriterBusy {
		t.Fatalf("second writer Begin = %v, want ErrWriterBusy", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestTransactionManagerTracksActiveReaders(t *testing.T) {
	_, _, tm := newTestManager(t)
	if tm.ActiveReaders() != 0 {
		t.Fatalf("initial ActiveReaders = %d, want 0", tm.ActiveReaders())
	}

	r1, err := tm.Begin(TxnRead)
	if err != nil {
		t.Fatalf("Begin reader 1: %v", err)
	}
	r2, err := tm.Begin(TxnRead)
	if err != nil {
		t.Fatalf("Begin reader 2: %v", err)
	}
	if tm.ActiveReaders() != 2 {
		t.Fatalf("ActiveReaders = %d, want 2", tm.ActiveReaders())
	}
	r1.Commit()
	if tm.ActiveReaders() != 1 {
		t.Fatalf("ActiveReaders after one commit = %d, want 1", tm.ActiveReaders())
	}
	r2.Rollback()
	if tm.ActiveReaders() != 0 {
		t.Fatalf("ActiveReaders after both finished = %d, want 0", tm.ActiveReaders())
	}
}

func TestTransactionDoubleFinishIsError(t *testing.T) {
	_, _, tm := newTestManager(t)
	tx, err := tm.Begin(TxnWrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("expected error committing an already-finished transaction")
	}
}
