package pager

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"
)

// pageStore abstracts page I/O so BTree operations can run either directly
// against a Pager (read-only search) or against a Transaction's dirty-page
// buffer (insert/delete).
type pageStore interface {
	readPage(id PageID) ([]byte, error)
	writePage(id PageID, buf []byte) error
	allocPage() PageID
	rootID() (PageID, error)
	setRoot(id PageID) error
}

// BTree is the index logic bound to a Pager (via a pageStore). Node splits
// and merges propagate with an explicit path stack rather than language
// recursion, keeping stack usage bounded and making rollback (discarding
// the transaction buffer) straightforward.
type BTree struct {
	maxLeafKeys     int
	maxInternalKeys int
	version         atomic.Uint64 // bumped on every structural change; cursors detect staleness via this.
}

// NewBTree returns a BTree using the default fanout limits.
func NewBTree() *BTree {
	return NewBTreeWithLimits(DefaultMaxLeafKeys, DefaultMaxInternalKeys)
}

// NewBTreeWithLimits returns a BTree with custom fanout limits, used by
// tests that need small trees to exercise split/merge deterministically.
func NewBTreeWithLimits(maxLeafKeys, maxInternalKeys int) *BTree {
	return &BTree{maxLeafKeys: maxLeafKeys, maxInternalKeys: maxInternalKeys}
}

func (t *BTree) minLeafKeys() int     { return (t.maxLeafKeys + 1) / 2 }
func (t *BTree) minInternalKeys() int { return (t.maxInternalKeys + 1) / 2 }

// Version returns the current structure-version stamp.
func (t *BTree) Version() uint64 { return t.version.Load() }

func (t *BTree) bumpVersion() { t.version.Add(1) }

// pathEntry is one frame of the root-to-leaf path. childIdx is this node's
// own index within its PARENT's Children slice (-1 for the root, which
// has no parent) — that is what a sibling lookup or a separator rotation
// needs.
type pathEntry struct {
	pageID   PageID
	node     *Node
	childIdx int
}

// findKeyIndex returns the index of key in keys (exact match) and whether
// it was found; if not found, idx is the position key would be inserted
// at to keep keys strictly ascending.
func findKeyIndex(keys [][]byte, key []byte) (int, bool) {
	idx := sort.Search(len(keys), func(i int) bool { return bytes.Compare(keys[i], key) >= 0 })
	if idx < len(keys) && bytes.Equal(keys[idx], key) {
		return idx, true
	}
	return idx, false
}

// findChildIndex returns the index of the first key strictly greater than
// key, i.e. the child to descend into.
func findChildIndex(keys [][]byte, key []byte) int {
	return sort.Search(len(keys), func(i int) bool { return bytes.Compare(keys[i], key) > 0 })
}

// descend walks from the root to the leaf that would hold key, returning
// every node visited. Returns a nil path (no error) if the tree has no
// root yet.
func (t *BTree) descend(store pageStore, key []byte) ([]pathEntry, error) {
	root, err := store.rootID()
	if err != nil {
		return nil, err
	}
	if root == InvalidPageID {
		return nil, nil
	}

	buf, err := store.readPage(root)
	if err != nil {
		return nil, err
	}
	node, err := decodeNode(buf)
	if err != nil {
		return nil, err
	}

	path := []pathEntry{{pageID: root, node: node, childIdx: -1}}
	for !node.IsLeaf() {
		ci := findChildIndex(node.Keys, key)
		nextID := node.Children[ci]
		buf, err := store.readPage(nextID)
		if err != nil {
			return nil, err
		}
		next, err := decodeNode(buf)
		if err != nil {
			return nil, err
		}
		path = append(path, pathEntry{pageID: nextID, node: next, childIdx: ci})
		node = next
	}
	return path, nil
}

// Search locates key and returns its encoded value. O(log n) reads, no
// writes.
func (t *BTree) Search(store pageStore, key []byte) ([]byte, bool, error) {
	path, err := t.descend(store, key)
	if err != nil || path == nil {
		return nil, false, err
	}
	leaf := path[len(path)-1].node
	idx, found := findKeyIndex(leaf.Keys, key)
	if !found {
		return nil, false, nil
	}
	return leaf.Values[idx], true, nil
}

func (t *BTree) writeNode(store pageStore, pageID PageID, node *Node) error {
	buf, err := encodeNode(node)
	if err != nil {
		return err
	}
	return store.writePage(pageID, buf)
}

// Insert writes key/value, splitting overfull nodes on the way back up
// the path stack.
func (t *BTree) Insert(store pageStore, key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	root, err := store.rootID()
	if err != nil {
		return err
	}
	if root == InvalidPageID {
		leaf := &Node{Tag: NodeLeaf, Keys: [][]byte{key}, Values: [][]byte{value}}
		id := store.allocPage()
		if err := t.writeNode(store, id, leaf); err != nil {
			return err
		}
		if err := store.setRoot(id); err != nil {
			return err
		}
		t.bumpVersion()
		return nil
	}

	path, err := t.descend(store, key)
	if err != nil {
		return err
	}

	leafEntry := &path[len(path)-1]
	leaf := leafEntry.node
	idx, found := findKeyIndex(leaf.Keys, key)
	if found {
		leaf.Values[idx] = value
		return t.writeNode(store, leafEntry.pageID, leaf)
	}

	leaf.Keys = insertAt(leaf.Keys, idx, key)
	leaf.Values = insertAt(leaf.Values, idx, value)

	if leaf.KeyCount() <= t.maxLeafKeys {
		return t.writeNode(store, leafEntry.pageID, leaf)
	}

	// Split the leaf: median m = (MAX+1)/2; left keeps [0,m), right takes
	// [m, n+1). Separator is right's first key. Left is rewritten in
	// place (same page id); right is freshly allocated.
	n := len(leaf.Keys)
	m := (t.maxLeafKeys + 1) / 2
	left := &Node{Tag: NodeLeaf, Keys: leaf.Keys[:m], Values: leaf.Values[:m]}
	right := &Node{Tag: NodeLeaf, Keys: append([][]byte{}, leaf.Keys[m:n]...), Values: append([][]byte{}, leaf.Values[m:n]...)}
	separator := right.Keys[0]

	rightID := store.allocPage()
	if err := t.writeNode(store, rightID, right); err != nil {
		return err
	}
	if err := t.writeNode(store, leafEntry.pageID, left); err != nil {
		return err
	}
	t.bumpVersion()

	// Propagate the split up the path stack iteratively.
	for level := len(path) - 2; level >= 0; level-- {
		parentEntry := &path[level]
		parent := parentEntry.node
		insertIdx := path[level+1].childIdx // position of the node that just split, within parent

		parent.Keys = insertAt(parent.Keys, insertIdx, separator)
		parent.Children = insertAtChild(parent.Children, insertIdx+1, rightID)

		if parent.KeyCount() <= t.maxInternalKeys {
			return t.writeNode(store, parentEntry.pageID, parent)
		}

		// Split the internal node: median key promoted (not kept in
		// either side); left takes [0,m) keys and [0,m+1) children;
		// right takes [m+1,total) keys and [m+1,total+1) children.
		total := len(parent.Keys)
		m := total / 2
		promoted := parent.Keys[m]

		newLeft := &Node{Tag: NodeInternal, Keys: append([][]byte{}, parent.Keys[:m]...), Children: append([]PageID{}, parent.Children[:m+1]...)}
		newRight := &Node{Tag: NodeInternal, Keys: append([][]byte{}, parent.Keys[m+1:total]...), Children: append([]PageID{}, parent.Children[m+1:total+1]...)}

		rightID = store.allocPage()
		if err := t.writeNode(store, rightID, newRight); err != nil {
			return err
		}
		if err := t.writeNode(store, parentEntry.pageID, newLeft); err != nil {
			return err
		}
		t.bumpVersion()
		separator = promoted
	}

	// The split reached past the root: allocate a new internal root with
	// one separator and two children. The old root's page
	// id is unchanged (it was rewritten in place above as the left half).
	oldRootID, err := store.rootID()
	if err != nil {
		return err
	}
	newRoot := &Node{Tag: NodeInternal, Keys: [][]byte{separator}, Children: []PageID{oldRootID, rightID}}
	id := store.allocPage()
	if err := t.writeNode(store, id, newRoot); err != nil {
		return err
	}
	if err := store.setRoot(id); err != nil {
		return err
	}
	t.bumpVersion()
	return nil
}

// Delete removes key if present. It returns false (no error) if the key
// was absent — not found is not an error.
func (t *BTree) Delete(store pageStore, key []byte) (bool, error) {
	path, err := t.descend(store, key)
	if err != nil || path == nil {
		return false, err
	}

	leafEntry := &path[len(path)-1]
	idx, found := findKeyIndex(leafEntry.node.Keys, key)
	if !found {
		return false, nil
	}

	leafEntry.node.Keys = removeAt(leafEntry.node.Keys, idx)
	leafEntry.node.Values = removeAt(leafEntry.node.Values, idx)

	if err := t.rebalance(store, path); err != nil {
		return false, err
	}
	t.bumpVersion()
	return true, nil
}

// rebalance walks the path from the leaf upward, writing each node and
// fixing underflow by borrowing from a sibling or merging. Root demotion
// is handled at the top of the walk.
func (t *BTree) rebalance(store pageStore, path []pathEntry) error {
	for level := len(path) - 1; level >= 0; level-- {
		entry := &path[level]
		isRoot := level == 0
		isLeaf := entry.node.IsLeaf()

		minKeys := t.minInternalKeys()
		if isLeaf {
			minKeys = t.minLeafKeys()
		}

		if isRoot {
			if isLeaf {
				// Tree may become logically empty; page is not reclaimed.
				if entry.node.KeyCount() == 0 {
					return store.setRoot(InvalidPageID)
				}
				return t.writeNode(store, entry.pageID, entry.node)
			}
			if err := t.writeNode(store, entry.pageID, entry.node); err != nil {
				return err
			}
			if entry.node.KeyCount() == 0 {
				// Only one child remains: demote the root.
				return store.setRoot(entry.node.Children[0])
			}
			return nil
		}

		if entry.node.KeyCount() >= minKeys {
			return t.writeNode(store, entry.pageID, entry.node)
		}

		parentEntry := &path[level-1]
		if err := t.fixUnderflow(store, parentEntry, entry); err != nil {
			return err
		}
		// Loop continues to level-1 to check the parent, which may itself
		// now be underfull after a merge removed one of its children.
	}
	return nil
}

// fixUnderflow rebalances the underfull node described by child by
// borrowing from a sibling or merging with one: left sibling preferred
// for both borrow and merge, for determinism.
func (t *BTree) fixUnderflow(store pageStore, parentEntry, child *pathEntry) error {
	parent := parentEntry.node
	childIdx := child.childIdx

	haveLeft := childIdx > 0
	haveRight := childIdx < len(parent.Children)-1

	minKeys := t.minInternalKeys()
	if child.node.IsLeaf() {
		minKeys = t.minLeafKeys()
	}

	if haveLeft {
		leftID := parent.Children[childIdx-1]
		leftBuf, err := store.readPage(leftID)
		if err != nil {
			return err
		}
		left, err := decodeNode(leftBuf)
		if err != nil {
			return err
		}
		if left.KeyCount() > minKeys {
			return t.borrowFromLeft(store, parentEntry, child, leftID, left, childIdx-1)
		}
	}
	if haveRight {
		rightID := parent.Children[childIdx+1]
		rightBuf, err := store.readPage(rightID)
		if err != nil {
			return err
		}
		right, err := decodeNode(rightBuf)
		if err != nil {
			return err
		}
		if right.KeyCount() > minKeys {
			return t.borrowFromRight(store, parentEntry, child, rightID, right, childIdx)
		}
	}

	if haveLeft {
		leftID := parent.Children[childIdx-1]
		leftBuf, err := store.readPage(leftID)
		if err != nil {
			return err
		}
		left, err := decodeNode(leftBuf)
		if err != nil {
			return err
		}
		return t.mergeWithLeft(store, parentEntry, child, leftID, left, childIdx-1)
	}

	rightID := parent.Children[childIdx+1]
	rightBuf, err := store.readPage(rightID)
	if err != nil {
		return err
	}
	right, err := decodeNode(rightBuf)
	if err != nil {
		return err
	}
	return t.mergeWithRight(store, parentEntry, child, rightID, right, childIdx)
}

// borrowFromLeft moves the left sibling's last entry into child, rotating
// the parent separator at sepIdx through the exchange.
func (t *BTree) borrowFromLeft(store pageStore, parentEntry, child *pathEntry, leftID PageID, left *Node, sepIdx int) error {
	if child.node.IsLeaf() {
		li := len(left.Keys) - 1
		borrowedKey, borrowedVal := left.Keys[li], left.Values[li]
		left.Keys, left.Values = left.Keys[:li], left.Values[:li]
		child.node.Keys = insertAt(child.node.Keys, 0, borrowedKey)
		child.node.Values = insertAt(child.node.Values, 0, borrowedVal)
		parentEntry.node.Keys[sepIdx] = child.node.Keys[0]
	} else {
		li := len(left.Keys) - 1
		borrowedKey := left.Keys[li]
		borrowedChild := left.Children[len(left.Children)-1]
		left.Keys = left.Keys[:li]
		left.Children = left.Children[:len(left.Children)-1]

		rotated := parentEntry.node.Keys[sepIdx]
		child.node.Keys = insertAt(child.node.Keys, 0, rotated)
		child.node.Children = insertAtChild(child.node.Children, 0, borrowedChild)
		parentEntry.node.Keys[sepIdx] = borrowedKey
	}
	if err := t.writeNode(store, leftID, left); err != nil {
		return err
	}
	if err := t.writeNode(store, child.pageID, child.node); err != nil {
		return err
	}
	return t.writeNode(store, parentEntry.pageID, parentEntry.node)
}

// borrowFromRight is the mirror of borrowFromLeft.
func (t *BTree) borrowFromRight(store pageStore, parentEntry, child *pathEntry, rightID PageID, right *Node, sepIdx int) error {
	if child.node.IsLeaf() {
		borrowedKey, borrowedVal := right.Keys[0], right.Values[0]
		right.Keys, right.Values = right.Keys[1:], right.Values[1:]
		child.node.Keys = append(child.node.Keys, borrowedKey)
		child.node.Values = append(child.node.Values, borrowedVal)
		parentEntry.node.Keys[sepIdx] = right.Keys[0]
	} else {
		borrowedKey := right.Keys[0]
		borrowedChild := right.Children[0]
		right.Keys = right.Keys[1:]
		right.Children = right.Children[1:]

		rotated := parentEntry.node.Keys[sepIdx]
		child.node.Keys = append(child.node.Keys, rotated)
		child.node.Children = append(child.node.Children, borrowedChild)
		parentEntry.node.Keys[sepIdx] = borrowedKey
	}
	if err := t.writeNode(store, rightID, right); err != nil {
		return err
	}
	if err := t.writeNode(store, child.pageID, child.node); err != nil {
		return err
	}
	return t.writeNode(store, parentEntry.pageID, parentEntry.node)
}

// mergeWithLeft concatenates child into left, drops the separator and
// child's slot from the parent. child's page is left unreachable — it is
// never reclaimed. The parent itself is written by the
// caller's next rebalance iteration, once its own underflow (if any) is
// also resolved.
func (t *BTree) mergeWithLeft(store pageStore, parentEntry, child *pathEntry, leftID PageID, left *Node, sepIdx int) error {
	if child.node.IsLeaf() {
		left.Keys = append(left.Keys, child.node.Keys...)
		left.Values = append(left.Values, child.node.Values...)
	} else {
		separator := parentEntry.node.Keys[sepIdx]
		left.Keys = append(left.Keys, separator)
		left.Keys = append(left.Keys, child.node.Keys...)
		left.Children = append(left.Children, child.node.Children...)
	}
	parentEntry.node.Keys = removeAt(parentEntry.node.Keys, sepIdx)
	parentEntry.node.Children = removeAtChild(parentEntry.node.Children, child.childIdx)

	return t.writeNode(store, leftID, left)
}

// mergeWithRight concatenates right into child's page, drops the
// separator and right's slot from the parent.
func (t *BTree) mergeWithRight(store pageStore, parentEntry, child *pathEntry, rightID PageID, right *Node, sepIdx int) error {
	if child.node.IsLeaf() {
		child.node.Keys = append(child.node.Keys, right.Keys...)
		child.node.Values = append(child.node.Values, right.Values...)
	} else {
		separator := parentEntry.node.Keys[sepIdx]
		child.node.Keys = append(child.node.Keys, separator)
		child.node.Keys = append(child.node.Keys, right.Keys...)
		child.node.Children = append(child.node.Children, right.Children...)
	}
	parentEntry.node.Keys = removeAt(parentEntry.node.Keys, sepIdx)
	parentEntry.node.Children = removeAtChild(parentEntry.node.Children, child.childIdx+1)

	return t.writeNode(store, child.pageID, child.node)
}

func insertAt(s [][]byte, idx int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertAtChild(s []PageID, idx int, v PageID) []PageID {
	s = append(s, InvalidPageID)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeAt(s [][]byte, idx int) [][]byte {
	return append(s[:idx], s[idx+1:]...)
}

func removeAtChild(s []PageID, idx int) []PageID {
	return append(s[:idx], s[idx+1:]...)
}
