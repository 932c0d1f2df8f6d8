package pager

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	n := &Node{
		Tag:    NodeLeaf,
		Keys:   [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		Values: [][]byte{[]byte("1"), []byte("2"), []byte("3")},
	}
	buf, err := encodeNode(n)
	if err != nil {
		t.Fatalf("encodeNode: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), PageSize)
	}

	got, err := decodeNode(buf)
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if got.Tag != NodeLeaf || got.KeyCount() != 3 {
		t.Fatalf("decoded node mismatch: %+v", got)
	}
	for i := range n.Keys {
		if !bytes.Equal(got.Keys[i], n.Keys[i]) || !bytes.Equal(got.Values[i], n.Values[i]) {
			t.Fatalf("entry %d mismatch: got key=%q val=%q", i, got.Keys[i], got.Values[i])
		}
	}
}

func TestEncodeDecodeInternalRoundTrip(t *testing.T) {
	n := &Node{
		Tag:      NodeInternal,
		Keys:     [][]byte{[]byte("m")},
		Children: []PageID{1, 2},
	}
	buf, err := encodeNode(n)
	if err != nil {
		t.Fatalf("encodeNode: %v", err)
	}
	got, err := decodeNode(buf)
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if got.Tag != NodeInternal || len(got.Children) != 2 || got.Children[0] != 1 || got.Children[1] != 2 {
		t.Fatalf("decoded internal node mismatch: %+v", got)
	}
}

func TestEncodeNodeTooLarge(t *testing.T) {
	bigVal := bytes.Repeat([]byte("x"), PageSize)
	n := &Node{Tag: NodeLeaf, Keys: [][]byte{[]byte("k")}, Values: [][]byte{bigVal}}
	if _, err := encodeNode(n); err == nil {
		t.Fatal("expected ErrNodeTooLarge, got nil")
	}
}

func TestDecodeNodeRejectsBadTag(t *testing.T) {
	buf := make([]byte, PageSize)
	buf[nodeTagOffset] = 9
	if _, err := decodeNode(buf); err == nil {
		t.Fatal("expected ErrCorruptPage for bad tag")
	}
}

func TestDecodeNodeRejectsShortBuffer(t *testing.T) {
	if _, err := decodeNode(make([]byte, PageSize-1)); err == nil {
		t.Fatal("expected ErrCorruptPage for short buffer")
	}
}

func TestDecodeNodeRejectsOverrunLength(t *testing.T) {
	buf := make([]byte, PageSize)
	buf[nodeTagOffset] = byte(NodeLeaf)
	putUint32(buf[nodeCountOffset:], 1)
	// Claim a key length far larger than remaining space.
	putUint32(buf[nodePayloadOff:], uint32(PageSize))
	if _, err := decodeNode(buf); err == nil {
		t.Fatal("expected ErrCorruptPage for overrun key length")
	}
}
