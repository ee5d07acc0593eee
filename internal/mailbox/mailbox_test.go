package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeIfPresentEmpty(t *testing.T) {
	m := New()
	frame, ok := m.TakeIfPresent()
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestLatestFrameWins(t *testing.T) {
	m := New()
	m.Publish([]byte("F1"))
	m.Publish([]byte("F2"))

	frame, ok := m.TakeIfPresent()
	require.True(t, ok)
	assert.Equal(t, []byte("F2"), frame)

	_, ok = m.TakeIfPresent()
	assert.False(t, ok, "a frame is delivered at most once")

	assert.Equal(t, Stats{Published: 2, Taken: 1, Overwritten: 1}, m.Stats())
}

func TestEmptyFrameIsDeliverable(t *testing.T) {
	m := New()
	m.Publish([]byte{})

	frame, ok := m.TakeIfPresent()
	require.True(t, ok)
	assert.Empty(t, frame)
}

func TestConcurrentPublishTake(t *testing.T) {
	m := New()
	const writers, perWriter = 4, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m.Publish([]byte{byte(w), byte(i)})
			}
		}(w)
	}

	done := make(chan struct{})
	var takes uint64
	go func() {
		defer close(done)
		for {
			if _, ok := m.TakeIfPresent(); ok {
				takes++
			}
			if m.Stats().Published == writers*perWriter {
				if _, ok := m.TakeIfPresent(); ok {
					takes++
				}
				return
			}
		}
	}()

	wg.Wait()
	<-done

	st := m.Stats()
	assert.Equal(t, uint64(writers*perWriter), st.Published)
	assert.Equal(t, takes, st.Taken)
	assert.Equal(t, st.Published, st.Taken+st.Overwritten)
}
