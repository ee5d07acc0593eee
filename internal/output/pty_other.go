//go:build !linux && !darwin

package output

import "github.com/sirupsen/logrus"

// PTY is unavailable on this platform.
type PTY struct{}

// PTYStats are runtime counters of a PTY.
type PTYStats struct {
	QueueLen     int
	QueueCap     int
	DroppedBytes uint64
	WrittenBytes uint64
	IgnoredInput uint64
}

func NewPTY(int, *logrus.Logger) (*PTY, error) { return nil, ErrUnsupported }

func (p *PTY) TTYName() string                { return "" }
func (p *PTY) Write(data []byte) (int, error) { return 0, ErrUnsupported }
func (p *PTY) Stats() PTYStats                { return PTYStats{} }
func (p *PTY) Close() error                   { return nil }
