// Package groutine starts named goroutines. Names are attached as pprof labels
// so draw loops, notifiers and control handlers are identifiable in profiles
// and goroutine dumps.
package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

// PanicHandler receives the recovered value and the stack of a panicking goroutine.
type PanicHandler func(name string, recovered any, stack []byte)

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "draw-loop", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, fn)
}

// GoSafe is Go with panic recovery. A panic is reported to onPanic (if set)
// and the goroutine exits normally.
func GoSafe(parentCtx context.Context, name string, onPanic PanicHandler, fn func(ctx context.Context)) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(name, r, debug.Stack())
			}
		}()
		fn(ctx)
	})
}

// LogPanics returns a PanicHandler that reports to logger.
func LogPanics(logger logrus.FieldLogger) PanicHandler {
	return func(name string, recovered any, stack []byte) {
		logger.WithFields(logrus.Fields{
			"goroutine": name,
			"stack":     string(stack),
		}).Errorf("Goroutine panicked: %v", recovered)
	}
}

// Recover converts a panic inside fn into an error.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
