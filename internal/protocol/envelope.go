// Package protocol implements the byte-level formats spoken over the paws
// GATT characteristics: the scene command envelope used by the control
// characteristic and the chunked frame stream used by the stream characteristic.
package protocol

import (
	"errors"
	"fmt"
)

// MaxIDLength is the longest scene or control id a one-byte length prefix can carry.
const MaxIDLength = 255

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed payload")

// IDTooLongError is returned when an id does not fit its one-byte length prefix.
type IDTooLongError struct {
	Field  string // "scene" or "control"
	Length int
}

func (e *IDTooLongError) Error() string {
	return fmt.Sprintf("%s id is %d bytes, limit is %d", e.Field, e.Length, MaxIDLength)
}

// SceneCommand addresses a value to one control of one scene. The same shape
// is used for commands written by the central and outputs notified back to it.
type SceneCommand struct {
	SceneID   string
	ControlID string
	Value     []byte
}

// EncodeCommand serializes cmd as
//
//	[len(scene):1][scene][len(control):1][control][value...]
func EncodeCommand(cmd SceneCommand) ([]byte, error) {
	if len(cmd.SceneID) > MaxIDLength {
		return nil, &IDTooLongError{Field: "scene", Length: len(cmd.SceneID)}
	}
	if len(cmd.ControlID) > MaxIDLength {
		return nil, &IDTooLongError{Field: "control", Length: len(cmd.ControlID)}
	}

	buf := make([]byte, 0, 2+len(cmd.SceneID)+len(cmd.ControlID)+len(cmd.Value))
	buf = append(buf, byte(len(cmd.SceneID)))
	buf = append(buf, cmd.SceneID...)
	buf = append(buf, byte(len(cmd.ControlID)))
	buf = append(buf, cmd.ControlID...)
	buf = append(buf, cmd.Value...)
	return buf, nil
}

// DecodeCommand parses an envelope produced by EncodeCommand. All bytes after
// the control id are the value; the returned value never aliases data.
func DecodeCommand(data []byte) (SceneCommand, error) {
	sceneID, rest, err := readID(data, "scene")
	if err != nil {
		return SceneCommand{}, err
	}
	controlID, rest, err := readID(rest, "control")
	if err != nil {
		return SceneCommand{}, err
	}

	value := make([]byte, len(rest))
	copy(value, rest)

	return SceneCommand{SceneID: sceneID, ControlID: controlID, Value: value}, nil
}

func readID(data []byte, field string) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("%w: missing %s id length", ErrMalformed, field)
	}
	n := int(data[0])
	data = data[1:]
	if len(data) < n {
		return "", nil, fmt.Errorf("%w: %s id length %d exceeds remaining %d bytes", ErrMalformed, field, n, len(data))
	}
	return string(data[:n]), data[n:], nil
}
