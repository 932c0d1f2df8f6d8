package pager

// TreeStats summarizes the shape of a tree for the Engine facade's
// stats() operation.
type TreeStats struct {
	Keys          int
	TreeHeight    int
	LeafNodes     int
	InternalNodes int
}

// Walk computes TreeStats by visiting every reachable node. O(n) in the
// number of pages; intended for stats()/diagnostics, not the hot path.
func (t *BTree) Walk(store pageStore) (TreeStats, error) {
	root, err := store.rootID()
	if err != nil {
		return TreeStats{}, err
	}
	if root == InvalidPageID {
		return TreeStats{}, nil
	}
	var stats TreeStats
	height, err := t.walkNode(store, root, &stats)
	if err != nil {
		return TreeStats{}, err
	}
	stats.TreeHeight = height
	return stats, nil
}

func (t *BTree) walkNode(store pageStore, pageID PageID, stats *TreeStats) (int, error) {
	buf, err := store.readPage(pageID)
	if err != nil {
		return 0, err
	}
	node, err := decodeNode(buf)
	if err != nil {
		return 0, err
	}
	if node.IsLeaf() {
		stats.LeafNodes++
		stats.Keys += node.KeyCount()
		return 1, nil
	}
	stats.InternalNodes++
	maxChildHeight := 0
	for _, child := range node.Children {
		h, err := t.walkNode(store, child, stats)
		if err != nil {
			return 0, err
		}
		if h > maxChildHeight {
			maxChildHeight = h
		}
	}
	return maxChildHeight + 1, nil
}
