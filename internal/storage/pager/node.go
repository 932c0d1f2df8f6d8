package pager

import "fmt"

// NodeTag discriminates the two on-disk node variants.
type NodeTag byte

const (
	NodeLeaf     NodeTag = 0
	NodeInternal NodeTag = 1
)

// Default fanout limits. A BTree may override these at creation time
// (tests exercise small values to force splits/merges deterministically),
// but a freshly created database uses these.
const (
	DefaultMaxLeafKeys     = 3
	DefaultMaxInternalKeys = 10
)

const (
	nodeTagOffset   = 0
	nodeCountOffset = 1
	nodePayloadOff  = 5
)

// Node is the decoded, in-memory form of one B-Tree page. Exactly one of
// the leaf or internal fields is meaningful, selected by Tag.
type Node struct {
	Tag NodeTag

	// Leaf fields — parallel slices, strictly ascending Keys.
	Keys   [][]byte
	Values [][]byte

	// Internal fields — len(Children) == len(Keys)+1. Child i holds keys
	// < Keys[i]; child i holds keys >= Keys[i-1].
	Children []PageID
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.Tag == NodeLeaf }

// KeyCount returns the number of keys the node currently holds.
func (n *Node) KeyCount() int { return len(n.Keys) }

// encodedSize returns the number of bytes encodeNode would need, without
// allocating a page buffer. Used to decide whether a node must split
// before a caller attempts to persist it.
func encodedSize(n *Node) int {
	size := nodePayloadOff
	switch n.Tag {
	case NodeLeaf:
		for i := range n.Keys {
			size += 4 + len(n.Keys[i]) + 4 + len(n.Values[i])
		}
	case NodeInternal:
		for _, k := range n.Keys {
			size += 4 + len(k)
		}
		size += 4 * len(n.Children)
	}
	return size
}

// encodeNode serializes n into a freshly allocated PageSize buffer,
// zero-padded. Fails with ErrNodeTooLarge if the content does not fit —
// the caller must split the node first.
func encodeNode(n *Node) ([]byte, error) {
	size := encodedSize(n)
	if size > PageSize {
		return nil, fmt.Errorf("%w: node needs %d bytes, page is %d", ErrNodeTooLarge, size, PageSize)
	}

	buf := make([]byte, PageSize)
	buf[nodeTagOffset] = byte(n.Tag)
	putUint32(buf[nodeCountOffset:], uint32(len(n.Keys)))

	off := nodePayloadOff
	switch n.Tag {
	case NodeLeaf:
		for i, k := range n.Keys {
			v := n.Values[i]
			putUint32(buf[off:], uint32(len(k)))
			off += 4
			off += copy(buf[off:], k)
			putUint32(buf[off:], uint32(len(v)))
			off += 4
			off += copy(buf[off:], v)
		}
	case NodeInternal:
		for _, k := range n.Keys {
			putUint32(buf[off:], uint32(len(k)))
			off += 4
			off += copy(buf[off:], k)
		}
		for _, c := range n.Children {
			putUint32(buf[off:], uint32(c))
			off += 4
		}
	default:
		return nil, fmt.Errorf("%w: unknown node tag %d", ErrCorruptPage, n.Tag)
	}
	return buf, nil
}

// decodeNode is the inverse of encodeNode. It validates every length against
// the remaining buffer and fails with ErrCorruptPage on any overrun or
// unrecognized tag — it never panics on adversarial input.
func decodeNode(buf []byte) (*Node, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("%w: page has %d bytes, want %d", ErrCorruptPage, len(buf), PageSize)
	}
	tag := NodeTag(buf[nodeTagOffset])
	n := getUint32(buf[nodeCountOffset:])
	if tag != NodeLeaf && tag != NodeInternal {
		return nil, fmt.Errorf("%w: unrecognized node tag %d", ErrCorruptPage, tag)
	}
	// Each key costs at least its 4-byte length prefix, so a count larger
	// than this cannot fit in one page; reject before sizing allocations
	// off a corrupt count.
	if int(n) > (PageSize-nodePayloadOff)/4 {
		return nil, fmt.Errorf("%w: key count %d exceeds page capacity", ErrCorruptPage, n)
	}

	node := &Node{Tag: tag}
	off := nodePayloadOff
	readLenPrefixed := func() ([]byte, error) {
		if off+4 > PageSize {
			return nil, fmt.Errorf("%w: length prefix overruns page", ErrCorruptPage)
		}
		l := int(getUint32(buf[off:]))
		off += 4
		if l < 0 || off+l > PageSize {
			return nil, fmt.Errorf("%w: field of length %d overruns page", ErrCorruptPage, l)
		}
		out := make([]byte, l)
		copy(out, buf[off:off+l])
		off += l
		return out, nil
	}

	switch tag {
	case NodeLeaf:
		node.Keys = make([][]byte, 0, n)
		node.Values = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := readLenPrefixed()
			if err != nil {
				return nil, err
			}
			v, err := readLenPrefixed()
			if err != nil {
				return nil, err
			}
			node.Keys = append(node.Keys, k)
			node.Values = append(node.Values, v)
		}
	case NodeInternal:
		node.Keys = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := readLenPrefixed()
			if err != nil {
				return nil, err
			}
			node.Keys = append(node.Keys, k)
		}
		childCount := int(n) + 1
		if off+4*childCount > PageSize {
			return nil, fmt.Errorf("%w: child id array overruns page", ErrCorruptPage)
		}
		node.Children = make([]PageID, childCount)
		for i := 0; i < childCount; i++ {
			node.Children[i] = PageID(getUint32(buf[off:]))
			off += 4
		}
	}
	return node, nil
}
