package pager

import (
	"bytes"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	cases := []Value{
		StringValue("hello"),
		IntValue(-42),
		FloatValue(3.5),
		BinaryValue([]byte{1, 2, 3}),
		NullValue(),
	}
	for _, v := range cases {
		enc := EncodeValue(v)
		got, err := DecodeValue(enc)
		if err != nil {
			t.Fatalf("DecodeValue(%v): %v", v, err)
		}
		if got.Tag != v.Tag {
			t.Fatalf("tag mismatch: got %v, want %v", got.Tag, v.Tag)
		}
		switch v.Tag {
		case ValueString:
			if got.Str != v.Str {
				t.Fatalf("string mismatch: got %q, want %q", got.Str, v.Str)
			}
		case ValueInt:
			if got.Int != v.Int {
				t.Fatalf("int mismatch: got %d, want %d", got.Int, v.Int)
			}
		case ValueFloat:
			if got.F64 != v.F64 {
				t.Fatalf("float mismatch: got %v, want %v", got.F64, v.F64)
			}
		case ValueBinary:
			if !bytes.Equal(got.Bin, v.Bin) {
				t.Fatalf("binary mismatch: got %v, want %v", got.Bin, v.Bin)
			}
		}
	}
}

func TestDecodeValueRejectsEmpty(t *testing.T) {
	if _, err := DecodeValue(nil); err == nil {
		t.Fatal("expected error decoding empty buffer")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("aaaabbbb"), 64)
	for _, codec := range []CompressionCodec{CodecIdentity, CodecRLE, CodecSnappy} {
		wrapped := Compress(raw, codec, 0)
		got, err := Decompress(wrapped)
		if err != nil {
			t.Fatalf("codec %d: Decompress: %v", codec, err)
		}
		if !bytes.Equal(got, raw) {
			t.Fatalf("codec %d: round trip mismatch", codec)
		}
	}
}

func TestCompressBelowThresholdUsesIdentity(t *testing.T) {
	raw := []byte("short")
	wrapped := Compress(raw, CodecRLE, 100)
	if CompressionCodec(wrapped[0]) != CodecIdentity {
		t.Fatalf("expected identity codec below threshold, got %d", wrapped[0])
	}
	got, err := Decompress(wrapped)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, raw)
	}
}

func TestRLEEncodeDecodeEmpty(t *testing.T) {
	if out := rleDecode(rleEncode(nil)); len(out) != 0 {
		t.Fatalf("expected empty round trip, got %v", out)
	}
}

func TestRLELongRun(t *testing.T) {
	raw := bytes.Repeat([]byte{'z'}, 1000)
	enc := rleEncode(raw)
	dec := rleDecode(enc)
	if !bytes.Equal(dec, raw) {
		t.Fatal("long-run RLE round trip mismatch")
	}
}
