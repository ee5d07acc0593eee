package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/protocol"
)

type ControlTableTestSuite struct {
	suite.Suite
	bus   *events.Bus
	sub   *events.Subscription
	table *ControlTable
	value int32
}

func (s *ControlTableTestSuite) SetupTest() {
	s.bus = events.NewBus(nil)
	s.sub = s.bus.Subscribe(16)
	s.table = NewControlTable("demo")
	s.table.Attach(s.bus, nil)
	s.value = 0

	s.Require().NoError(Register(s.table, "double", Int32, func(_ context.Context, v int32) (int32, error) {
		return v * 2, nil
	}, Int32))
	s.Require().NoError(RegisterAction(s.table, "set", Int32, func(_ context.Context, v int32) error {
		s.value = v
		return nil
	}))
	s.Require().NoError(Register(s.table, "fail", None, func(context.Context, struct{}) (string, error) {
		return "", errors.New("not today")
	}, String))
	s.Require().NoError(RegisterAction(s.table, "explode", None, func(context.Context, struct{}) error {
		panic("kaboom")
	}))
}

func (s *ControlTableTestSuite) next() events.Event {
	select {
	case ev := <-s.sub.C():
		return ev
	case <-time.After(time.Second):
		s.FailNow("no event published")
		return nil
	}
}

func (s *ControlTableTestSuite) dispatch(control string, value []byte) error {
	return s.table.Dispatch(context.Background(), protocol.SceneCommand{SceneID: "demo", ControlID: control, Value: value})
}

func (s *ControlTableTestSuite) TestResultIsPublished() {
	// GOAL: Verify decode → handle → encode → publish for a control with a result
	//
	// TEST SCENARIO: dispatch double(21) → SceneOutput carrying int32 42 for demo.double
	s.Require().NoError(s.dispatch("double", protocol.EncodeInt32(21)))

	out, ok := s.next().(events.SceneOutput)
	s.Require().True(ok)
	s.Equal("demo", out.SceneID)
	s.Equal("double", out.ControlID)
	s.Equal(protocol.EncodeInt32(42), out.Value)
}

func (s *ControlTableTestSuite) TestActionPublishesNothing() {
	s.Require().NoError(s.dispatch("set", protocol.EncodeInt32(7)))
	s.Equal(int32(7), s.value)
	s.Zero(len(s.sub.C()))
}

func (s *ControlTableTestSuite) TestUnknownControl() {
	err := s.dispatch("nope", nil)

	var unknown *UnknownControlError
	s.Require().ErrorAs(err, &unknown)
	s.Equal("nope", unknown.ControlID)

	ce, ok := s.next().(events.ControlError)
	s.Require().True(ok)
	s.Equal("nope", ce.ControlID)
}

func (s *ControlTableTestSuite) TestFailuresAreIsolated() {
	// GOAL: Verify decode errors, handler errors and handler panics are contained
	//
	// TEST SCENARIO: bad payload, failing handler, panicking handler → each returns an error and
	// publishes ControlError → a following valid dispatch still succeeds
	err := s.dispatch("double", []byte{1, 2})
	var cerr *ControlError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("decode", cerr.Stage)
	s.ErrorIs(err, protocol.ErrMalformed)

	err = s.dispatch("fail", nil)
	s.Require().ErrorAs(err, &cerr)
	s.Equal("handle", cerr.Stage)

	s.NotPanics(func() { err = s.dispatch("explode", nil) })
	s.Require().ErrorAs(err, &cerr)
	s.Contains(err.Error(), "kaboom")

	for i := 0; i < 3; i++ {
		_, ok := s.next().(events.ControlError)
		s.True(ok)
	}

	s.NoError(s.dispatch("double", protocol.EncodeInt32(1)))
	s.Equal(DispatchStats{Dispatched: 4, Failed: 3}, s.table.Stats())
}

func (s *ControlTableTestSuite) TestRegistrationRules() {
	var dup *DuplicateControlError
	s.ErrorAs(RegisterAction(s.table, "set", Bool, func(context.Context, bool) error { return nil }), &dup)

	var tooLong *protocol.IDTooLongError
	s.ErrorAs(RegisterAction(s.table, strings.Repeat("c", 256), None, func(context.Context, struct{}) error { return nil }), &tooLong)

	s.table.Freeze()
	s.ErrorIs(RegisterAction(s.table, "late", None, func(context.Context, struct{}) error { return nil }), ErrFrozen)

	s.Equal([]ControlInfo{
		{ID: "double", Input: "int32", Output: "int32"},
		{ID: "explode", Input: "none"},
		{ID: "fail", Input: "none", Output: "string"},
		{ID: "set", Input: "int32"},
	}, s.table.List())
}

func TestLargeTableKeepsEveryControl(t *testing.T) {
	table := NewControlTable("big")
	for i := 0; i < 64; i++ {
		id := fmt.Sprintf("c%02d", i)
		require.NoError(t, Register(table, id, None, func(context.Context, struct{}) (string, error) {
			return id, nil
		}, String))
	}
	table.Freeze()

	require.Equal(t, 64, table.Len())
	require.Len(t, table.List(), 64)
	for _, c := range table.List() {
		assert.NoError(t, table.Dispatch(context.Background(), protocol.SceneCommand{SceneID: "big", ControlID: c.ID}), c.ID)
	}
}

func TestControlTableTestSuite(t *testing.T) {
	suite.Run(t, new(ControlTableTestSuite))
}

func TestEnumCodec(t *testing.T) {
	c := Enum(SolidOff, SolidBlink)

	v, err := c.Decode(protocol.EncodeInt32(2))
	require.NoError(t, err)
	assert.Equal(t, SolidBlink, v)

	_, err = c.Decode(protocol.EncodeInt32(1))
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	assert.Equal(t, protocol.EncodeInt32(2), c.Encode(SolidBlink))
}

func TestFixedBytesCodec(t *testing.T) {
	c := FixedBytes(3)
	_, err := c.Decode([]byte{1, 2})
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	in := []byte{1, 2, 3}
	out, err := c.Decode(in)
	require.NoError(t, err)
	in[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, out)
}

func TestDispatchWithoutBus(t *testing.T) {
	table := NewControlTable("quiet")
	require.NoError(t, Register(table, "echo", String, func(_ context.Context, v string) (string, error) { return v, nil }, String))
	assert.NoError(t, table.Dispatch(context.Background(), protocol.SceneCommand{ControlID: "echo", Value: []byte("hi")}))
}
