package pager

import (
	"bytes"
	"fmt"
)

// cursorFrame is one level of a Cursor's root-to-leaf stack. For an
// internal node, idx is the child index most recently descended into; for
// the leaf (the last frame), idx is the current entry position.
type cursorFrame struct {
	pageID PageID
	node   *Node
	idx    int
}

// Cursor is a stateful pointer into the ordered key space. It captures
// the tree's structure-version stamp at creation and again on SeekFirst
// and Seek; Next checks the stamp and, if the tree has since been
// mutated, fails with ErrInvalidated rather than returning stale data.
type Cursor struct {
	tree    *BTree
	store   pageStore
	stack   []cursorFrame
	version uint64
	atEnd   bool
}

// NewCursor creates a cursor over tree using store for page reads. Call
// SeekFirst or Seek before reading.
func NewCursor(tree *BTree, store pageStore) *Cursor {
	return &Cursor{tree: tree, store: store, version: tree.Version()}
}

func (c *Cursor) checkVersion() error {
	if c.tree.Version() != c.version {
		return ErrInvalidated
	}
	return nil
}

// SeekFirst positions the cursor at the smallest key in the tree.
func (c *Cursor) SeekFirst() error {
	c.version = c.tree.Version()
	root, err := c.store.rootID()
	if err != nil {
		return err
	}
	if root == InvalidPageID {
		c.stack = nil
		c.atEnd = true
		return nil
	}

	var stack []cursorFrame
	pageID := root
	for {
		buf, err := c.store.readPage(pageID)
		if err != nil {
			return err
		}
		node, err := decodeNode(buf)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			stack = append(stack, cursorFrame{pageID: pageID, node: node, idx: 0})
			break
		}
		stack = append(stack, cursorFrame{pageID: pageID, node: node, idx: 0})
		pageID = node.Children[0]
	}
	c.stack = stack
	c.atEnd = len(stack) == 0 || stack[len(stack)-1].node.KeyCount() == 0
	return nil
}

// Seek positions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) error {
	c.version = c.tree.Version()
	path, err := c.tree.descend(c.store, key)
	if err != nil {
		return err
	}
	if path == nil {
		c.stack = nil
		c.atEnd = true
		return nil
	}
	stack := make([]cursorFrame, len(path))
	for i, p := range path {
		idx := 0
		if i < len(path)-1 {
			idx = path[i+1].childIdx
		}
		stack[i] = cursorFrame{pageID: p.pageID, node: p.node, idx: idx}
	}
	leaf := &stack[len(stack)-1]
	leafIdx, _ := findKeyIndex(leaf.node.Keys, key)
	leaf.idx = leafIdx
	c.stack = stack
	c.atEnd = leafIdx >= leaf.node.KeyCount()
	if c.atEnd {
		return c.advancePastLeaf()
	}
	return nil
}

// Key and Value return the entry the cursor currently points at.
// Behavior is undefined (returns nil) once the cursor is exhausted.
func (c *Cursor) Key() []byte {
	if c.atEnd || len(c.stack) == 0 {
		return nil
	}
	leaf := c.stack[len(c.stack)-1]
	return leaf.node.Keys[leaf.idx]
}

func (c *Cursor) Value() []byte {
	if c.atEnd || len(c.stack) == 0 {
		return nil
	}
	leaf := c.stack[len(c.stack)-1]
	return leaf.node.Values[leaf.idx]
}

// Valid reports whether the cursor currently points at an entry.
func (c *Cursor) Valid() bool { return !c.atEnd && len(c.stack) > 0 }

// Next advances to the next key in ascending order.
func (c *Cursor) Next() error {
	if err := c.checkVersion(); err != nil {
		return err
	}
	if c.atEnd || len(c.stack) == 0 {
		return nil
	}
	leaf := &c.stack[len(c.stack)-1]
	leaf.idx++
	if leaf.idx < leaf.node.KeyCount() {
		return nil
	}
	return c.advancePastLeaf()
}

// advancePastLeaf pops frames until it finds an ancestor with an unvisited
// right child, then descends leftmost from there. If no such ancestor
// exists, the cursor is exhausted.
func (c *Cursor) advancePastLeaf() error {
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parent := &c.stack[len(c.stack)-1]
		if parent.idx+1 < len(parent.node.Children) {
			parent.idx++
			return c.descendLeftmostFrom(parent.node.Children[parent.idx])
		}
	}
	c.atEnd = true
	return nil
}

func (c *Cursor) descendLeftmostFrom(pageID PageID) error {
	for {
		buf, err := c.store.readPage(pageID)
		if err != nil {
			return err
		}
		node, err := decodeNode(buf)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, cursorFrame{pageID: pageID, node: node, idx: 0})
		if node.IsLeaf() {
			c.atEnd = node.KeyCount() == 0
			return nil
		}
		pageID = node.Children[0]
	}
}

// VisitFunc receives one key/value pair during a scan. Returning false
// stops the scan early.
type VisitFunc func(key, value []byte) bool

// ScanRange yields every key/value pair with start <= key < end.
// Either bound may be nil, meaning -infinity/+infinity respectively.
func ScanRange(tree *BTree, store pageStore, start, end []byte, visit VisitFunc) error {
	c := NewCursor(tree, store)
	var err error
	if start == nil {
		err = c.SeekFirst()
	} else {
		err = c.Seek(start)
	}
	if err != nil {
		return err
	}

	for c.Valid() {
		key := c.Key()
		if end != nil && bytes.Compare(key, end) >= 0 {
			return nil
		}
		if !visit(key, c.Value()) {
			return nil
		}
		if err := c.Next(); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}
	return nil
}
