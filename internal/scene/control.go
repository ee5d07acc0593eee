package scene

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/groutine"
	"github.com/srg/paws/internal/protocol"
)

// ErrFrozen is returned when registering on a frozen table.
var ErrFrozen = errors.New("control table is frozen")

// UnknownControlError is returned by Dispatch for an unregistered control id.
type UnknownControlError struct {
	SceneID   string
	ControlID string
}

func (e *UnknownControlError) Error() string {
	return fmt.Sprintf("scene %s has no control %q", e.SceneID, e.ControlID)
}

// DuplicateControlError is returned when a control id is registered twice.
type DuplicateControlError struct {
	SceneID   string
	ControlID string
}

func (e *DuplicateControlError) Error() string {
	return fmt.Sprintf("scene %s: control %q already registered", e.SceneID, e.ControlID)
}

// ControlError describes which stage of a dispatch failed.
type ControlError struct {
	ControlID string
	Stage     string // "decode", "handle" or "encode"
	Err       error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control %s: %s: %v", e.ControlID, e.Stage, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// handlerFunc is the type-erased pipeline of one control. It returns the
// encoded result and whether there is a result to publish.
type handlerFunc func(ctx context.Context, value []byte) ([]byte, bool, error)

type control struct {
	id     string
	in     string
	out    string
	handle handlerFunc
}

// ControlInfo describes a registered control.
type ControlInfo struct {
	ID     string
	Input  string
	Output string // empty for actions
}

// ControlTable maps control ids of one scene to typed handlers.
//
// Registration happens during setup. Dispatch may be called concurrently,
// including concurrently with itself for the same control.
type ControlTable struct {
	sceneID  string
	regMu    sync.Mutex // serializes registration
	controls *hashmap.Map[string, *control]
	frozen   atomic.Bool

	mu     sync.RWMutex // guards bus and logger
	bus    *events.Bus
	logger *logrus.Logger

	dispatched atomic.Uint64
	failed     atomic.Uint64
}

// NewControlTable creates an empty table for sceneID.
func NewControlTable(sceneID string) *ControlTable {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &ControlTable{
		sceneID:  sceneID,
		controls: hashmap.New[string, *control](),
		logger:   logger,
	}
}

// SceneID returns the owning scene id.
func (t *ControlTable) SceneID() string {
	return t.sceneID
}

// Attach sets where results and failures are published.
func (t *ControlTable) Attach(bus *events.Bus, logger *logrus.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bus = bus
	if logger != nil {
		t.logger = logger
	}
}

// Freeze rejects further registration.
func (t *ControlTable) Freeze() {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	t.frozen.Store(true)
}

func (t *ControlTable) add(c *control) error {
	t.regMu.Lock()
	defer t.regMu.Unlock()

	if t.frozen.Load() {
		return ErrFrozen
	}
	if c.id == "" {
		return fmt.Errorf("scene %s: control id is empty", t.sceneID)
	}
	if len(c.id) > protocol.MaxIDLength {
		return &protocol.IDTooLongError{Field: "control", Length: len(c.id)}
	}
	if _, exists := t.controls.Get(c.id); exists {
		return &DuplicateControlError{SceneID: t.sceneID, ControlID: c.id}
	}
	t.controls.Set(c.id, c)
	return nil
}

// Register adds a control whose handler result is encoded with out and
// published as events.SceneOutput.
func Register[T, R any](t *ControlTable, id string, in Codec[T], handle func(context.Context, T) (R, error), out Codec[R]) error {
	return t.add(&control{
		id:  id,
		in:  in.Name,
		out: out.Name,
		handle: func(ctx context.Context, value []byte) ([]byte, bool, error) {
			arg, err := in.Decode(value)
			if err != nil {
				return nil, false, &ControlError{ControlID: id, Stage: "decode", Err: err}
			}
			res, err := handle(ctx, arg)
			if err != nil {
				return nil, false, &ControlError{ControlID: id, Stage: "handle", Err: err}
			}
			encoded, err := encodeSafely(out, res)
			if err != nil {
				return nil, false, &ControlError{ControlID: id, Stage: "encode", Err: err}
			}
			return encoded, true, nil
		},
	})
}

// RegisterAction adds a control that produces no result.
func RegisterAction[T any](t *ControlTable, id string, in Codec[T], handle func(context.Context, T) error) error {
	return t.add(&control{
		id: id,
		in: in.Name,
		handle: func(ctx context.Context, value []byte) ([]byte, bool, error) {
			arg, err := in.Decode(value)
			if err != nil {
				return nil, false, &ControlError{ControlID: id, Stage: "decode", Err: err}
			}
			if err := handle(ctx, arg); err != nil {
				return nil, false, &ControlError{ControlID: id, Stage: "handle", Err: err}
			}
			return nil, false, nil
		},
	})
}

func encodeSafely[R any](out Codec[R], res R) (b []byte, err error) {
	err = groutine.Recover(func() error {
		b = out.Encode(res)
		return nil
	})
	return b, err
}

// List describes registered controls sorted by id.
func (t *ControlTable) List() []ControlInfo {
	var out []ControlInfo
	t.controls.Range(func(id string, c *control) bool {
		out = append(out, ControlInfo{ID: id, Input: c.in, Output: c.out})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered controls.
func (t *ControlTable) Len() int {
	return t.controls.Len()
}

// Dispatch runs the control named by cmd.ControlID: decode, handle, encode,
// then publish the result. Every failure, including a handler panic, is
// logged, published as events.ControlError and returned; the table stays
// usable.
func (t *ControlTable) Dispatch(ctx context.Context, cmd protocol.SceneCommand) error {
	t.mu.RLock()
	bus, logger := t.bus, t.logger
	t.mu.RUnlock()

	fields := logrus.Fields{"scene": t.sceneID, "control": cmd.ControlID}

	c, ok := t.controls.Get(cmd.ControlID)
	if !ok {
		err := &UnknownControlError{SceneID: t.sceneID, ControlID: cmd.ControlID}
		logger.WithFields(fields).Warn("Unknown control")
		t.fail(bus, cmd, err)
		return err
	}

	t.dispatched.Add(1)
	var (
		result    []byte
		hasResult bool
	)
	err := groutine.Recover(func() error {
		var herr error
		result, hasResult, herr = c.handle(ctx, cmd.Value)
		return herr
	})
	if err != nil {
		var perr *groutine.PanicError
		if errors.As(err, &perr) {
			var cerr *ControlError
			if !errors.As(err, &cerr) {
				err = &ControlError{ControlID: cmd.ControlID, Stage: "handle", Err: err}
			}
			logger.WithFields(fields).WithField("stack", string(perr.Stack)).Error("Control handler panicked")
		} else {
			logger.WithFields(fields).WithError(err).Warn("Control failed")
		}
		t.fail(bus, cmd, err)
		return err
	}

	logger.WithFields(fields).Debug("Control handled")
	if hasResult && bus != nil {
		bus.Publish(events.SceneOutput{SceneID: t.sceneID, ControlID: cmd.ControlID, Value: result})
	}
	return nil
}

func (t *ControlTable) fail(bus *events.Bus, cmd protocol.SceneCommand, err error) {
	t.failed.Add(1)
	if bus != nil {
		bus.Publish(events.ControlError{SceneID: t.sceneID, ControlID: cmd.ControlID, Err: err, Time: time.Now()})
	}
}

// DispatchStats counts Dispatch outcomes.
type DispatchStats struct {
	Dispatched uint64
	Failed     uint64
}

func (t *ControlTable) Stats() DispatchStats {
	return DispatchStats{Dispatched: t.dispatched.Load(), Failed: t.failed.Load()}
}
