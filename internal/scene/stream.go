package scene

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/srg/paws/internal/mailbox"
	"github.com/srg/paws/internal/output"
	"github.com/srg/paws/internal/protocol"
)

// StreamSceneID is the id of the scene that shows frames streamed by the central.
const StreamSceneID = "stream"

// StreamScene distributes the latest frame received over BLE.
//
// When no new frame arrived since the last tick it draws nothing and the
// interfaces keep showing what they have, unless hold is enabled.
type StreamScene struct {
	mb          *mailbox.Mailbox
	reassembler *protocol.Reassembler
	controls    *ControlTable

	brightness atomic.Uint64 // math.Float64bits, 0..1
	hold       atomic.Bool

	mu      sync.Mutex // draw state
	last    []byte
	scratch []byte
	drawn   uint64
}

// NewStreamScene creates the stream scene. reassembler is only used for
// the stats control and may be nil.
func NewStreamScene(mb *mailbox.Mailbox, reassembler *protocol.Reassembler) (*StreamScene, error) {
	s := &StreamScene{
		mb:          mb,
		reassembler: reassembler,
		controls:    NewControlTable(StreamSceneID),
	}
	s.brightness.Store(math.Float64bits(1))

	if err := Register(s.controls, "brightness", Float64, s.setBrightness, Float64); err != nil {
		return nil, err
	}
	if err := Register(s.controls, "hold", Bool, func(_ context.Context, v bool) (bool, error) {
		s.hold.Store(v)
		return v, nil
	}, Bool); err != nil {
		return nil, err
	}
	if err := Register(s.controls, "stats", None, func(context.Context, struct{}) (string, error) {
		return s.Stats(), nil
	}, String); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StreamScene) ID() string              { return StreamSceneID }
func (s *StreamScene) Controls() *ControlTable { return s.controls }

func (s *StreamScene) setBrightness(_ context.Context, v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("brightness must be in 0..1, got %v", v)
	}
	s.brightness.Store(math.Float64bits(v))
	return v, nil
}

// Brightness returns the current scale factor.
func (s *StreamScene) Brightness() float64 {
	return math.Float64frombits(s.brightness.Load())
}

// Draw distributes the pending frame, if any.
func (s *StreamScene) Draw(_ context.Context, out *output.Manager, _ DrawInfo) error {
	frame, fresh := s.mb.TakeIfPresent()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case fresh:
		s.last = frame
	case s.hold.Load() && s.last != nil:
		frame = s.last
	default:
		return nil
	}

	if b := s.Brightness(); b < 1 {
		if cap(s.scratch) < len(frame) {
			s.scratch = make([]byte, len(frame))
		}
		scaled := s.scratch[:len(frame)]
		for i, v := range frame {
			scaled[i] = byte(float64(v)*b + 0.5)
		}
		frame = scaled
	}

	s.drawn++
	return out.Distribute(frame)
}

// Stats summarizes the receive path counters.
func (s *StreamScene) Stats() string {
	mb := s.mb.Stats()
	s.mu.Lock()
	drawn := s.drawn
	s.mu.Unlock()

	str := fmt.Sprintf("published=%d taken=%d overwritten=%d drawn=%d", mb.Published, mb.Taken, mb.Overwritten, drawn)
	if s.reassembler != nil {
		rs := s.reassembler.Stats()
		str += fmt.Sprintf(" frames=%d abandoned=%d desyncs=%d unknown=%d malformed=%d",
			rs.Frames, rs.Abandoned, rs.Desyncs, rs.UnknownHeaders, rs.Malformed)
	}
	return str
}
