package scene

import (
	"fmt"

	"github.com/srg/paws/internal/protocol"
)

// Codec converts a control value between its wire bytes and a Go type.
type Codec[T any] struct {
	Name   string
	Decode func([]byte) (T, error)
	Encode func(T) []byte
}

var (
	Int32   = Codec[int32]{Name: "int32", Decode: protocol.DecodeInt32, Encode: protocol.EncodeInt32}
	Float64 = Codec[float64]{Name: "float64", Decode: protocol.DecodeFloat64, Encode: protocol.EncodeFloat64}
	Bool    = Codec[bool]{Name: "bool", Decode: protocol.DecodeBool, Encode: protocol.EncodeBool}
	String  = Codec[string]{Name: "string", Decode: protocol.DecodeString, Encode: protocol.EncodeString}
	Bytes   = Codec[[]byte]{Name: "bytes", Decode: protocol.DecodeBytes, Encode: func(b []byte) []byte { return b }}

	// None is for controls without a value. Any payload is ignored.
	None = Codec[struct{}]{
		Name:   "none",
		Decode: func([]byte) (struct{}, error) { return struct{}{}, nil },
		Encode: func(struct{}) []byte { return nil },
	}
)

// Enum is an int32 codec restricted to the allowed values.
func Enum[E ~int32](allowed ...E) Codec[E] {
	return Codec[E]{
		Name: "enum",
		Decode: func(b []byte) (E, error) {
			v, err := protocol.DecodeInt32(b)
			if err != nil {
				return 0, err
			}
			for _, a := range allowed {
				if E(v) == a {
					return a, nil
				}
			}
			return 0, fmt.Errorf("%w: enum value %d not allowed", protocol.ErrMalformed, v)
		},
		Encode: func(e E) []byte { return protocol.EncodeInt32(int32(e)) },
	}
}

// FixedBytes is a Bytes codec that requires exactly n bytes.
func FixedBytes(n int) Codec[[]byte] {
	return Codec[[]byte]{
		Name: fmt.Sprintf("bytes[%d]", n),
		Decode: func(b []byte) ([]byte, error) {
			if len(b) != n {
				return nil, fmt.Errorf("%w: need %d bytes, got %d", protocol.ErrMalformed, n, len(b))
			}
			return protocol.DecodeBytes(b)
		},
		Encode: Bytes.Encode,
	}
}
