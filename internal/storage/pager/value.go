package pager

import (
	"fmt"
	"math"

	"github.com/golang/snappy"
)

// ValueTag discriminates the typed value variants stored in a leaf
// record.
type ValueTag byte

const (
	ValueString ValueTag = 0
	ValueInt    ValueTag = 1
	ValueFloat  ValueTag = 2
	ValueBinary ValueTag = 3
	ValueNull   ValueTag = 4
)

// Value is a typed value as clients see it. Exactly one accessor is valid
// for a given Tag.
type Value struct {
	Tag ValueTag
	Str string
	Int int64
	F64 float64
	Bin []byte
}

func StringValue(s string) Value { return Value{Tag: ValueString, Str: s} }
func IntValue(i int64) Value     { return Value{Tag: ValueInt, Int: i} }
func FloatValue(f float64) Value { return Value{Tag: ValueFloat, F64: f} }
func BinaryValue(b []byte) Value { return Value{Tag: ValueBinary, Bin: b} }
func NullValue() Value           { return Value{Tag: ValueNull} }

// EncodeValue serializes v as tag byte + payload, with no compression
// wrapper. Compression is applied separately by the caller (Engine) via
// Compress, keeping the BTree itself agnostic to it.
func EncodeValue(v Value) []byte {
	switch v.Tag {
	case ValueString:
		out := make([]byte, 1+len(v.Str))
		out[0] = byte(ValueString)
		copy(out[1:], v.Str)
		return out
	case ValueInt:
		out := make([]byte, 9)
		out[0] = byte(ValueInt)
		putUint64(out[1:], uint64(v.Int))
		return out
	case ValueFloat:
		out := make([]byte, 9)
		out[0] = byte(ValueFloat)
		putUint64(out[1:], math.Float64bits(v.F64))
		return out
	case ValueBinary:
		out := make([]byte, 1+len(v.Bin))
		out[0] = byte(ValueBinary)
		copy(out[1:], v.Bin)
		return out
	case ValueNull:
		return []byte{byte(ValueNull)}
	default:
		panic(fmt.Sprintf("pager: unknown value tag %d", v.Tag))
	}
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, fmt.Errorf("%w: empty value buffer", ErrCorruptPage)
	}
	tag := ValueTag(buf[0])
	payload := buf[1:]
	switch tag {
	case ValueString:
		return Value{Tag: ValueString, Str: string(payload)}, nil
	case ValueInt:
		if len(payload) != 8 {
			return Value{}, fmt.Errorf("%w: integer value has %d payload bytes", ErrCorruptPage, len(payload))
		}
		return Value{Tag: ValueInt, Int: int64(getUint64(payload))}, nil
	case ValueFloat:
		if len(payload) != 8 {
			return Value{}, fmt.Errorf("%w: float value has %d payload bytes", ErrCorruptPage, len(payload))
		}
		return Value{Tag: ValueFloat, F64: math.Float64frombits(getUint64(payload))}, nil
	case ValueBinary:
		b := make([]byte, len(payload))
		copy(b, payload)
		return Value{Tag: ValueBinary, Bin: b}, nil
	case ValueNull:
		return Value{Tag: ValueNull}, nil
	default:
		return Value{}, fmt.Errorf("%w: unrecognized value tag %d", ErrCorruptPage, tag)
	}
}

// CompressionCodec discriminates the compression wrapper's codec tag.
type CompressionCodec byte

const (
	CodecIdentity CompressionCodec = 0
	CodecRLE      CompressionCodec = 1
	CodecSnappy   CompressionCodec = 2
)

const compressionHeaderSize = 1 + 4 // codec_tag(u8) | original_len(u32)

// Compress wraps raw with the given codec when len(raw) exceeds threshold,
// prefixing codec_tag and original length. At or below threshold, the
// identity codec is used unconditionally (cheap values are never compressed).
func Compress(raw []byte, codec CompressionCodec, threshold int) []byte {
	if len(raw) <= threshold {
		codec = CodecIdentity
	}

	var body []byte
	switch codec {
	case CodecIdentity:
		body = raw
	case CodecRLE:
		body = rleEncode(raw)
	case CodecSnappy:
		body = snappy.Encode(nil, raw)
	default:
		panic(fmt.Sprintf("pager: unknown compression codec %d", codec))
	}

	out := make([]byte, compressionHeaderSize+len(body))
	out[0] = byte(codec)
	putUint32(out[1:], uint32(len(raw)))
	copy(out[compressionHeaderSize:], body)
	return out
}

// Decompress is the inverse of Compress.
func Decompress(wrapped []byte) ([]byte, error) {
	if len(wrapped) < compressionHeaderSize {
		return nil, fmt.Errorf("%w: compressed value shorter than header", ErrCorruptPage)
	}
	codec := CompressionCodec(wrapped[0])
	originalLen := int(getUint32(wrapped[1:]))
	body := wrapped[compressionHeaderSize:]

	switch codec {
	case CodecIdentity:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case CodecRLE:
		out := rleDecode(body)
		if len(out) != originalLen {
			return nil, fmt.Errorf("%w: rle decoded length mismatch", ErrCorruptPage)
		}
		return out, nil
	case CodecSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy decode: %v", ErrCorruptPage, err)
		}
		if len(out) != originalLen {
			return nil, fmt.Errorf("%w: snappy decoded length mismatch", ErrCorruptPage)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized compression codec %d", ErrCorruptPage, codec)
	}
}

// rleEncode is a byte-level run-length encoding: each run is
// (count byte 1..255, value byte). Runs longer than 255 are split.
func rleEncode(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	out := make([]byte, 0, len(raw))
	i := 0
	for i < len(raw) {
		run := 1
		for i+run < len(raw) && raw[i+run] == raw[i] && run < 255 {
			run++
		}
		out = append(out, byte(run), raw[i])
		i += run
	}
	return out
}

func rleDecode(enc []byte) []byte {
	out := make([]byte, 0, len(enc))
	for i := 0; i+1 < len(enc); i += 2 {
		count := int(enc[i])
		value := enc[i+1]
		for j := 0; j < count; j++ {
			out = append(out, value)
		}
	}
	return out
}
