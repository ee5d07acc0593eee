// Package output owns the physical display sinks and splits one packed frame
// across them.
//
// A frame is the concatenation of each registered interface's bytes in
// registration order. With interfaces of 4, 4 and 2 bytes, a 10-byte frame is
// delivered as bytes [0:4], [4:8] and [8:10].
package output

import (
	"errors"
	"fmt"
	"strings"
)

// PixelFormat describes how an interface interprets its bytes.
type PixelFormat uint8

const (
	FormatByte PixelFormat = iota // one byte per pixel (brightness or palette index)
	FormatRGB
	FormatRGBA
)

// BytesPerPixel returns the pixel stride.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB:
		return 3
	case FormatRGBA:
		return 4
	default:
		return 1
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatByte:
		return "byte"
	case FormatRGB:
		return "rgb"
	case FormatRGBA:
		return "rgba"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParsePixelFormat accepts "byte", "rgb" or "rgba", case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte", "gray", "grey":
		return FormatByte, nil
	case "rgb":
		return FormatRGB, nil
	case "rgba":
		return FormatRGBA, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Descriptor is the fixed identity and size of an interface.
type Descriptor struct {
	ID          string
	ByteSize    int
	PixelFormat PixelFormat
}

// Interface is a display sink.
//
// Accept receives exactly Descriptor().ByteSize bytes and must not retain the
// slice after returning. Implementations return *SizeMismatchError for any
// other length.
type Interface interface {
	Descriptor() Descriptor
	Accept(frame []byte) error
	Close() error
}

// ErrUnsupported is returned by sinks that are unavailable on this platform.
var ErrUnsupported = errors.New("output kind not supported on this platform")

// ErrSealed is returned by Register once the manager has been sealed.
var ErrSealed = errors.New("interface registry is sealed")

// CapacityError reports a frame shorter than the sum of interface sizes.
type CapacityError struct {
	Need int
	Have int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("frame holds %d bytes, interfaces need %d", e.Have, e.Need)
}

// SizeMismatchError reports an Accept call with the wrong number of bytes.
type SizeMismatchError struct {
	ID   string
	Want int
	Got  int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("interface %s accepts %d bytes, got %d", e.ID, e.Want, e.Got)
}

// DuplicateInterfaceError is returned when an id is registered twice.
type DuplicateInterfaceError struct {
	ID string
}

func (e *DuplicateInterfaceError) Error() string {
	return fmt.Sprintf("interface %s already registered", e.ID)
}

// UnknownInterfaceError is returned by DistributeTo for an unregistered id.
type UnknownInterfaceError struct {
	ID string
}

func (e *UnknownInterfaceError) Error() string {
	return fmt.Sprintf("unknown interface %s", e.ID)
}

// AcceptError wraps a failure of one interface during a distribution pass.
type AcceptError struct {
	ID  string
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("interface %s: %v", e.ID, e.Err)
}

func (e *AcceptError) Unwrap() error {
	return e.Err
}

// checkSize is the Accept length guard shared by all sinks.
func checkSize(d Descriptor, frame []byte) error {
	if len(frame) != d.ByteSize {
		return &SizeMismatchError{ID: d.ID, Want: d.ByteSize, Got: len(frame)}
	}
	return nil
}
