// Package scene holds the drawable scenes and routes control commands from
// the central to them.
//
// Each scene owns a ControlTable of typed handlers. Commands arrive as
// protocol.SceneCommand envelopes; the Manager picks the table by scene id
// and the table picks the handler by control id.
package scene

import (
	"context"
	"time"

	"github.com/srg/paws/internal/output"
)

// DrawInfo describes one tick of the draw loop.
type DrawInfo struct {
	Time      time.Time
	DeltaTime time.Duration // time since the previous tick, zero on the first
	Elapsed   time.Duration // time since the loop started
	Frame     uint64        // tick counter starting at 1
}

// Scene produces output for the interfaces on each tick.
type Scene interface {
	ID() string
	Controls() *ControlTable
	Draw(ctx context.Context, out *output.Manager, info DrawInfo) error
}

// Activator is implemented by scenes that need to know when they become
// (or stop being) the active scene.
type Activator interface {
	Activate()
	Deactivate()
}
