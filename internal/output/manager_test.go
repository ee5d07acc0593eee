package output

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// recordingInterface remembers every slice it accepted.
type recordingInterface struct {
	desc Descriptor
	err  error
	boom bool

	mu       sync.Mutex
	accepted [][]byte
	closed   bool
}

func newRecording(id string, size int) *recordingInterface {
	return &recordingInterface{desc: Descriptor{ID: id, ByteSize: size, PixelFormat: FormatByte}}
}

func (r *recordingInterface) Descriptor() Descriptor { return r.desc }

func (r *recordingInterface) Accept(frame []byte) error {
	if err := checkSize(r.desc, frame); err != nil {
		return err
	}
	if r.boom {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, append([]byte(nil), frame...))
	return r.err
}

func (r *recordingInterface) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingInterface) calls() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

type ManagerTestSuite struct {
	suite.Suite
	a, b, c *recordingInterface
}

func (s *ManagerTestSuite) newManager(concurrent bool) *Manager {
	s.a = newRecording("a", 4)
	s.b = newRecording("b", 4)
	s.c = newRecording("c", 2)

	m := NewManager(nil, ManagerOptions{Concurrent: concurrent})
	s.Require().NoError(m.Register(s.a))
	s.Require().NoError(m.Register(s.b))
	s.Require().NoError(m.Register(s.c))
	m.Seal()
	return m
}

func (s *ManagerTestSuite) TestSlicesInRegistrationOrder() {
	// GOAL: Verify a packed frame is split by interface byte sizes in registration order
	//
	// TEST SCENARIO: sizes [4,4,2] with a 10-byte frame → a gets [0:4], b [4:8], c [8:10]
	for _, concurrent := range []bool{false, true} {
		m := s.newManager(concurrent)
		frame := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

		s.Require().NoError(m.Distribute(frame))
		s.Equal([][]byte{{0, 1, 2, 3}}, s.a.calls())
		s.Equal([][]byte{{4, 5, 6, 7}}, s.b.calls())
		s.Equal([][]byte{{8, 9}}, s.c.calls())
		s.Equal(10, m.TotalByteSize())
	}
}

func (s *ManagerTestSuite) TestShortFrameIsRejectedBeforeDispatch() {
	m := s.newManager(false)

	err := m.Distribute(make([]byte, 9))

	var capErr *CapacityError
	s.Require().ErrorAs(err, &capErr)
	s.Equal(10, capErr.Need)
	s.Equal(9, capErr.Have)
	s.Empty(s.a.calls())
	s.Empty(s.b.calls())
	s.Empty(s.c.calls())
}

func (s *ManagerTestSuite) TestTrailingBytesIgnored() {
	m := s.newManager(false)
	s.Require().NoError(m.Distribute(make([]byte, 12)))
	s.Len(s.c.calls(), 1)
}

func (s *ManagerTestSuite) TestFailingInterfaceDoesNotStopPass() {
	// GOAL: Verify one failing or panicking interface is isolated from the others
	//
	// TEST SCENARIO: a returns an error, b panics → c still receives its slice, both failures reported
	for _, concurrent := range []bool{false, true} {
		m := s.newManager(concurrent)
		s.a.err = errors.New("device unplugged")
		s.b.boom = true

		err := m.Distribute(make([]byte, 10))
		s.Require().Error(err)
		s.ErrorIs(err, s.a.err)

		var accErr *AcceptError
		s.Require().ErrorAs(err, &accErr)
		s.Contains(err.Error(), "interface b")
		s.Len(s.c.calls(), 1)
		s.Equal(uint64(2), m.Stats().Failures)
	}
}

func (s *ManagerTestSuite) TestRegistrationRules() {
	m := NewManager(nil, ManagerOptions{})
	s.Require().NoError(m.Register(newRecording("x", 3)))

	var dup *DuplicateInterfaceError
	s.ErrorAs(m.Register(newRecording("x", 5)), &dup)
	s.Equal(3, m.TotalByteSize(), "duplicate must not replace the original")

	m.Seal()
	s.ErrorIs(m.Register(newRecording("y", 1)), ErrSealed)
	s.Equal([]Descriptor{{ID: "x", ByteSize: 3, PixelFormat: FormatByte}}, m.Descriptors())
}

func (s *ManagerTestSuite) TestDistributeTo() {
	m := s.newManager(false)

	s.NoError(m.DistributeTo("c", []byte{7, 7}))
	s.Equal([][]byte{{7, 7}}, s.c.calls())

	var unknown *UnknownInterfaceError
	s.ErrorAs(m.DistributeTo("zz", nil), &unknown)

	var size *SizeMismatchError
	s.ErrorAs(m.DistributeTo("c", []byte{1}), &size)
}

func (s *ManagerTestSuite) TestClose() {
	m := s.newManager(false)
	s.NoError(m.Close())
	s.True(s.a.closed)
	s.True(s.c.closed)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestEmptyManagerAcceptsAnyFrame(t *testing.T) {
	m := NewManager(nil, ManagerOptions{})
	m.Seal()
	require.NoError(t, m.Distribute(nil))
	assert.Zero(t, m.Len())
}

func TestParsePixelFormat(t *testing.T) {
	for in, want := range map[string]PixelFormat{"byte": FormatByte, "RGB": FormatRGB, " rgba ": FormatRGBA} {
		got, err := ParsePixelFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePixelFormat("cmyk")
	assert.Error(t, err)

	assert.Equal(t, 4, FormatRGBA.BytesPerPixel())
	assert.Equal(t, "rgb", FormatRGB.String())
}
