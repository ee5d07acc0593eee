package scene

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/srg/paws/internal/output"
)

// SolidSceneID is the id of the single-colour scene.
const SolidSceneID = "solid"

// SolidMode selects what the solid scene shows.
type SolidMode int32

const (
	SolidOff SolidMode = iota
	SolidOn
	SolidBlink
)

// SolidScene fills every interface with one colour, optionally blinking.
type SolidScene struct {
	controls *ControlTable

	mu     sync.Mutex
	color  [3]byte
	mode   SolidMode
	period time.Duration
	start  time.Time
	buf    []byte
}

func NewSolidScene() (*SolidScene, error) {
	s := &SolidScene{
		controls: NewControlTable(SolidSceneID),
		color:    [3]byte{255, 255, 255},
		mode:     SolidOn,
		period:   time.Second,
	}

	if err := Register(s.controls, "color", FixedBytes(3), func(_ context.Context, c []byte) ([]byte, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		copy(s.color[:], c)
		return c, nil
	}, Bytes); err != nil {
		return nil, err
	}
	if err := Register(s.controls, "mode", Enum(SolidOff, SolidOn, SolidBlink), func(_ context.Context, m SolidMode) (SolidMode, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mode = m
		s.start = time.Time{}
		return m, nil
	}, Enum(SolidOff, SolidOn, SolidBlink)); err != nil {
		return nil, err
	}
	if err := Register(s.controls, "period", Float64, func(_ context.Context, sec float64) (float64, error) {
		if math.IsNaN(sec) || sec < 0.02 || sec > 3600 {
			return 0, fmt.Errorf("period must be in 0.02..3600 seconds, got %v", sec)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.period = time.Duration(sec * float64(time.Second))
		return sec, nil
	}, Float64); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SolidScene) ID() string              { return SolidSceneID }
func (s *SolidScene) Controls() *ControlTable { return s.controls }

// Activate restarts the blink phase.
func (s *SolidScene) Activate() {
	s.mu.Lock()
	s.start = time.Time{}
	s.mu.Unlock()
}

func (s *SolidScene) Deactivate() {}

// lit reports whether the colour is shown at t. Caller holds s.mu.
func (s *SolidScene) lit(t time.Time) bool {
	switch s.mode {
	case SolidOn:
		return true
	case SolidBlink:
		if s.start.IsZero() {
			s.start = t
		}
		phase := t.Sub(s.start) % s.period
		return phase < s.period/2
	default:
		return false
	}
}

func (s *SolidScene) Draw(_ context.Context, out *output.Manager, info DrawInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	on := s.lit(info.Time)
	descs := out.Descriptors()

	total := 0
	for _, d := range descs {
		total += d.ByteSize
	}
	if cap(s.buf) < total {
		s.buf = make([]byte, total)
	}
	buf := s.buf[:total]

	offset := 0
	for _, d := range descs {
		fill(buf[offset:offset+d.ByteSize], d.PixelFormat, s.color, on)
		offset += d.ByteSize
	}
	return out.Distribute(buf)
}

// fill writes one colour across dst in the given pixel format.
func fill(dst []byte, format output.PixelFormat, c [3]byte, on bool) {
	if !on {
		clear(dst)
		return
	}
	var px []byte
	switch format {
	case output.FormatRGB:
		px = c[:]
	case output.FormatRGBA:
		px = []byte{c[0], c[1], c[2], 255}
	default:
		// Rec. 601 luma
		px = []byte{byte((299*int(c[0]) + 587*int(c[1]) + 114*int(c[2])) / 1000)}
	}
	for i := 0; i+len(px) <= len(dst); i += len(px) {
		copy(dst[i:], px)
	}
}
