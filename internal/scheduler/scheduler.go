// Package scheduler runs the fixed-rate draw loop.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/groutine"
	"github.com/srg/paws/internal/scene"
)

// Drawer draws one tick. scene.Manager implements it.
type Drawer interface {
	Draw(ctx context.Context, info scene.DrawInfo) error
}

const (
	StateStopped uint32 = iota
	StateRunning
	StateStopping

	// MaxFPS guards against a misconfigured interval rounding down to zero.
	MaxFPS = 1000

	stopTimeout = 5 * time.Second
)

// Options configures a Scheduler.
type Options struct {
	TargetFPS int
	Logger    *logrus.Logger
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Ticks    uint64
	Errors   uint64 // Draw returned an error
	Panics   uint64 // Draw panicked
	Overruns uint64 // tick took longer than the interval
}

// Scheduler calls Drawer.Draw once per interval on a single goroutine.
//
// When a tick takes longer than the interval the next one starts right away;
// there is no catching up on missed ticks. A failing or panicking Draw is
// logged and the loop moves on.
type Scheduler struct {
	drawer   Drawer
	interval time.Duration
	logger   *logrus.Logger

	mu    sync.Mutex // orders Start and Stop around stop/done
	state atomic.Uint32
	stop  chan struct{}
	done  chan struct{}

	ticks    atomic.Uint64
	errors   atomic.Uint64
	panics   atomic.Uint64
	overruns atomic.Uint64
}

// New creates a stopped scheduler.
func New(drawer Drawer, opts Options) (*Scheduler, error) {
	if drawer == nil {
		return nil, fmt.Errorf("drawer cannot be nil")
	}
	if opts.TargetFPS <= 0 {
		return nil, fmt.Errorf("target fps must be > 0, got %d", opts.TargetFPS)
	}
	if opts.TargetFPS > MaxFPS {
		return nil, fmt.Errorf("target fps %d exceeds maximum %d", opts.TargetFPS, MaxFPS)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Scheduler{
		drawer:   drawer,
		interval: time.Second / time.Duration(opts.TargetFPS),
		logger:   logger,
	}, nil
}

// Interval returns the target time between ticks.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the draw loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(StateStopped, StateRunning) {
		switch st := s.state.Load(); st {
		case StateRunning:
			return fmt.Errorf("scheduler is already running")
		case StateStopping:
			return fmt.Errorf("scheduler is stopping, wait for it to finish")
		default:
			return fmt.Errorf("scheduler is in unknown state %d", st)
		}
	}

	// fresh channels per run so a restarted scheduler never closes a closed channel
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	stop, done := s.stop, s.done
	groutine.Go(context.Background(), "draw-loop", func(ctx context.Context) {
		defer func() {
			s.state.Store(StateStopped)
			close(done)
		}()
		s.run(ctx, stop)
	})

	s.logger.WithField("interval", s.interval).Info("Draw loop started")
	return nil
}

// Stop asks the loop to exit and waits for it. The tick in progress, if any,
// is allowed to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state.CompareAndSwap(StateRunning, StateStopping) {
		close(s.stop)
	} else if s.state.Load() == StateStopped {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		<-done
		return fmt.Errorf("draw loop stopped but exceeded %s timeout", stopTimeout)
	}

	st := s.Stats()
	s.logger.WithFields(logrus.Fields{
		"ticks":    st.Ticks,
		"errors":   st.Errors,
		"panics":   st.Panics,
		"overruns": st.Overruns,
	}).Info("Draw loop stopped")
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.state.Load() == StateRunning
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	var (
		started, last time.Time
		frame         uint64
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		now := time.Now()
		if frame == 0 {
			started, last = now, now
		}
		delta := now.Sub(last)
		if delta < 0 {
			delta = 0
		}
		frame++
		s.tick(ctx, scene.DrawInfo{
			Time:      now,
			DeltaTime: delta,
			Elapsed:   now.Sub(started),
			Frame:     frame,
		})
		last = now

		wait := s.interval - time.Since(now)
		if wait <= 0 {
			s.overruns.Add(1)
			continue
		}

		timer.Reset(wait)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, info scene.DrawInfo) {
	s.ticks.Add(1)
	err := groutine.Recover(func() error {
		return s.drawer.Draw(ctx, info)
	})
	if err == nil {
		return
	}

	fields := logrus.Fields{"frame": info.Frame}
	if perr, ok := err.(*groutine.PanicError); ok {
		s.panics.Add(1)
		s.logger.WithFields(fields).WithField("stack", string(perr.Stack)).Errorf("Draw panicked: %v", perr.Value)
		return
	}
	s.errors.Add(1)
	s.logger.WithFields(fields).WithError(err).Warn("Draw failed")
}

// Stats returns the loop counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Errors:   s.errors.Load(),
		Panics:   s.panics.Load(),
		Overruns: s.overruns.Load(),
	}
}
