package pager

import (
	"testing"
)

func TestCursorAscendingOrder(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTreeWithLimits(3, 10)

	for _, k := range []string{"d", "b", "a", "c", "f", "e"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	c := NewCursor(tree, store)
	if err := c.SeekFirst(); err != nil {
		t.Fatalf("SeekFirst: %v", err)
	}
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		if err := c.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []string{"a", "b", "c", "d", "e", "f"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCursorSeekMidRange(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTreeWithLimits(3, 10)
	for _, k := range []string{"a", "c", "e", "g", "i"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	c := NewCursor(tree, store)
	if err := c.Seek([]byte("d")); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !c.Valid() || string(c.Key()) != "e" {
		t.Fatalf("Seek(d) landed on %q, want e (first key >= d)", c.Key())
	}
}

func TestCursorSeekPastEndIsExhausted(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTree()
	if err := tree.Insert(store, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	c := NewCursor(tree, store)
	if err := c.Seek([]byte("z")); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if c.Valid() {
		t.Fatal("expected cursor exhausted seeking past the last key")
	}
}

func TestCursorInvalidatedOnStructuralMutation(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTreeWithLimits(3, 10)
	for _, k := range []string{"a", "b"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	c := NewCursor(tree, store)
	if err := c.SeekFirst(); err != nil {
		t.Fatalf("SeekFirst: %v", err)
	}

	// A structural change (split) bumps the tree's version; the cursor
	// must detect this on its next positional call rather than silently
	// returning stale data.
	for _, k := range []string{"c", "d", "e"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	if err := c.Next(); err != ErrInvalidated {
		t.Fatalf("Next after structural mutation = %v, want ErrInvalidated", err)
	}
}

func TestScanRangeRespectsBounds(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTreeWithLimits(3, 10)
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var got []string
	err := ScanRange(tree, store, []byte("b"), []byte("e"), func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanRangeEarlyStop(t *testing.T) {
	store := newTestStore(t)
	tree := NewBTreeWithLimits(3, 10)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := tree.Insert(store, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var got []string
	err := ScanRange(tree, store, nil, nil, func(k, v []byte) bool {
		got = append(got, string(k))
		return len(got) < 2
	})
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("early-stop scan returned %v, want 2 entries", got)
	}
}
