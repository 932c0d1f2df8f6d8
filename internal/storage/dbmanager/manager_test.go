package dbmanager

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/nguyen-daniel/btreedb/internal/storage/engine"
	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

func TestManagerOpenGetClose(t *testing.T) {
	m := New()
	dir := t.TempDir()

	e, err := m.Open("orders", filepath.Join(dir, "orders.db"), engine.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Put([]byte("k"), pager.StringValue("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := m.Get("orders")
	if !ok || got != e {
		t.Fatalf("Get(orders) = %v, %v", got, ok)
	}

	if err := m.Close("orders"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := m.Get("orders"); ok {
		t.Fatal("expected orders to be unregistered after Close")
	}
}

func TestManagerRejectsDuplicateName(t *testing.T) {
	m := New()
	dir := t.TempDir()
	if _, err := m.Open("a", filepath.Join(dir, "a.db"), engine.DefaultConfig()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.CloseAll()

	if _, err := m.Open("a", filepath.Join(dir, "a2.db"), engine.DefaultConfig()); err == nil {
		t.Fatal("expected error opening a duplicate name")
	}
}

func TestManagerCloseUnknownNameIsNotError(t *testing.T) {
	m := New()
	if err := m.Close("does-not-exist"); err != nil {
		t.Fatalf("Close of unknown name: %v", err)
	}
}

func TestManagerNamesAndCloseAll(t *testing.T) {
	m := New()
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.Open(name, filepath.Join(dir, name+".db"), engine.DefaultConfig()); err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
	}

	names := m.Names()
	sort.Strings(names)
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if len(m.Names()) != 0 {
		t.Fatal("expected no registered engines after CloseAll")
	}
}
