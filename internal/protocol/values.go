package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Control values are little-endian, matching what the companion app writes.

func EncodeInt32(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

func DecodeInt32(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: int32 needs 4 bytes, got %d", ErrMalformed, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func EncodeFloat64(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}

func DecodeFloat64(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: float64 needs 8 bytes, got %d", ErrMalformed, len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBool treats any non-zero byte as true.
func DecodeBool(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("%w: bool needs 1 byte, got %d", ErrMalformed, len(b))
	}
	return b[0] != 0, nil
}

func EncodeString(v string) []byte {
	return []byte(v)
}

func DecodeString(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrMalformed)
	}
	return string(b), nil
}

// DecodeBytes returns a copy of b.
func DecodeBytes(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
