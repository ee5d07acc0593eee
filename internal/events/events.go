// Package events carries notifications between the scene layer and its
// observers (the GATT notifier, error history, logs).
//
// Event is a closed set of variants; consumers switch on the concrete type:
//
//	for ev := range sub.C() {
//	    switch e := ev.(type) {
//	    case events.SceneOutput:
//	        ...
//	    case events.ControlError:
//	        ...
//	    }
//	}
package events

import (
	"fmt"
	"time"
)

// Kind identifies an event variant and is the subscription key.
type Kind uint8

const (
	KindSceneOutput Kind = iota + 1
	KindControlError
	KindSceneChanged
	KindFrameCompleted
)

// AllKinds lists every event kind.
var AllKinds = []Kind{KindSceneOutput, KindControlError, KindSceneChanged, KindFrameCompleted}

func (k Kind) String() string {
	switch k {
	case KindSceneOutput:
		return "scene_output"
	case KindControlError:
		return "control_error"
	case KindSceneChanged:
		return "scene_changed"
	case KindFrameCompleted:
		return "frame_completed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// SceneOutput is a value a control handler produced for the central.
type SceneOutput struct {
	SceneID   string
	ControlID string
	Value     []byte
}

// ControlError records a control command that could not be completed.
type ControlError struct {
	SceneID   string
	ControlID string
	Err       error
	Time      time.Time
}

// SceneChanged is published when the active scene switches.
type SceneChanged struct {
	From string
	To   string
}

// FrameCompleted is published for every reassembled stream frame.
type FrameCompleted struct {
	Length int
}

func (SceneOutput) Kind() Kind    { return KindSceneOutput }
func (ControlError) Kind() Kind   { return KindControlError }
func (SceneChanged) Kind() Kind   { return KindSceneChanged }
func (FrameCompleted) Kind() Kind { return KindFrameCompleted }

func (SceneOutput) sealed()    {}
func (ControlError) sealed()   {}
func (SceneChanged) sealed()   {}
func (FrameCompleted) sealed() {}

func (e ControlError) String() string {
	return fmt.Sprintf("%s %s.%s: %v", e.Time.Format(time.RFC3339), e.SceneID, e.ControlID, e.Err)
}
