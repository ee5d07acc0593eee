package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestBusDeliversByKind(t *testing.T) {
	bus := NewBus(nil)
	outputs := bus.Subscribe(4, KindSceneOutput)
	changes := bus.Subscribe(4, KindSceneChanged)

	bus.Publish(SceneOutput{SceneID: "stream", ControlID: "stats", Value: []byte("ok")})
	bus.Publish(SceneChanged{From: "stream", To: "solid"})

	ev := receive(t, outputs)
	out, ok := ev.(SceneOutput)
	require.True(t, ok)
	assert.Equal(t, "stats", out.ControlID)
	assert.Zero(t, outputs.ch.Len())

	assert.Equal(t, SceneChanged{From: "stream", To: "solid"}, receive(t, changes))
}

func TestBusSubscribeAllKinds(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(8)

	bus.Publish(FrameCompleted{Length: 3})
	bus.Publish(ControlError{SceneID: "s", ControlID: "c", Err: errors.New("bad")})

	assert.Equal(t, KindFrameCompleted, receive(t, sub).Kind())
	assert.Equal(t, KindControlError, receive(t, sub).Kind())
}

func TestSlowSubscriberLosesOldest(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(2, KindFrameCompleted)

	for i := 1; i <= 5; i++ {
		bus.Publish(FrameCompleted{Length: i})
	}

	assert.Equal(t, FrameCompleted{Length: 4}, receive(t, sub))
	assert.Equal(t, FrameCompleted{Length: 5}, receive(t, sub))
	assert.Equal(t, MetricsSnapshot{Written: 5, Overwritten: 3}, sub.Metrics())
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(1, KindSceneOutput)

	sub.Close()
	assert.NotPanics(t, sub.Close)
	assert.NotPanics(t, func() { bus.Publish(SceneOutput{}) })

	_, ok := <-sub.C()
	assert.False(t, ok)

	subs, _ := bus.registry.Get(KindSceneOutput)
	assert.Zero(t, subs.Len())
}

func TestBusClose(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(1)
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
	assert.NotPanics(t, func() { bus.Publish(FrameCompleted{}) })
}

func TestHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(nil)
	h := NewHistory(ctx, bus, 4, nil)
	defer h.Close()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(ControlError{SceneID: "solid", ControlID: "color", Err: errors.New("need 3 bytes"), Time: at})

	var got []ControlError
	require.Eventually(t, func() bool {
		got = append(got, h.Drain()...)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "solid", got[0].SceneID)
	assert.Equal(t, "2024-01-02T03:04:05Z solid.color: need 3 bytes", FormatErrors(got))
	assert.Empty(t, h.Drain())
}

func TestHistoryOverwritesOldest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHistory(ctx, NewBus(nil), 4, nil)
	defer h.Close()

	for i := 0; i < 10; i++ {
		h.Record(ControlError{ControlID: string(rune('a' + i))})
	}

	got := h.Drain()
	require.NotEmpty(t, got)
	assert.Equal(t, "j", got[len(got)-1].ControlID)
	assert.Positive(t, h.Overwritten())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "scene_output", KindSceneOutput.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
