//go:build linux || darwin

package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/paws/internal/groutine"
)

// DefaultPollTimeoutMs bounds how long the PTY loops wait for readiness
// before checking for shutdown.
const DefaultPollTimeoutMs = 50

// PTY is a pseudo-terminal that rendered frames are written to. A viewer
// attaches to TTYName() with screen, minicom or cat.
//
// Write never blocks the draw loop: bytes are queued in a ring buffer and
// flushed by a background goroutine. When the viewer falls behind, the
// excess is dropped and counted.
type PTY struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	pollTimeoutMs int

	writeBuf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite atomic.Uint64
	writtenBytes atomic.Uint64
	ignoredInput atomic.Uint64
}

// PTYStats are runtime counters of a PTY.
type PTYStats struct {
	QueueLen     int
	QueueCap     int
	DroppedBytes uint64
	WrittenBytes uint64
	IgnoredInput uint64 // keystrokes from the viewer, discarded
}

// NewPTY opens a pty pair and starts its flush loop. writeCap sizes the
// queue between Write and the master fd.
func NewPTY(writeCap int, logger *logrus.Logger) (*PTY, error) {
	if writeCap <= 0 {
		return nil, fmt.Errorf("pty write capacity must be > 0, got %d", writeCap)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRawPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:        logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: DefaultPollTimeoutMs,
		writeBuf:      ringbuffer.New(writeCap),
		ctx:           ctx,
		cancel:        cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-flush-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.flushLoop()
	})
	groutine.Go(ctx, "pty-input-drain", func(ctx context.Context) {
		defer p.wg.Done()
		p.drainLoop()
	})

	logger.WithField("tty", p.ttyName).Info("Terminal output PTY ready")
	return p, nil
}

// TTYName returns the slave path, e.g. /dev/pts/5.
func (p *PTY) TTYName() string {
	return p.ttyName
}

// Write queues data. It returns the number of bytes queued, which is less
// than len(data) when the queue is full.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
	}
	return n, nil
}

func (p *PTY) flushLoop() {
	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("PTY queue read failed")
		}
		if n == 0 {
			time.Sleep(time.Duration(p.pollTimeoutMs) * time.Millisecond / 10)
			continue
		}

		for offset := 0; offset < n; {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				p.writtenBytes.Add(uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, p.pollTimeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Warn("PTY poll failed")
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.logger.WithError(err).Warn("PTY flush loop exiting")
				return
			}
		}
	}
}

// drainLoop reads and discards viewer input so the slave never blocks on a
// full input queue.
func (p *PTY) drainLoop() {
	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 256)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		ready, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			p.ignoredInput.Add(uint64(n))
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EIO):
				// no viewer attached
				time.Sleep(time.Duration(p.pollTimeoutMs) * time.Millisecond)
			default:
				return
			}
		}
	}
}

// Stats returns current counters.
func (p *PTY) Stats() PTYStats {
	return PTYStats{
		QueueLen:     p.writeBuf.Length(),
		QueueCap:     p.writeBuf.Capacity(),
		DroppedBytes: p.droppedWrite.Load(),
		WrittenBytes: p.writtenBytes.Load(),
		IgnoredInput: p.ignoredInput.Load(),
	}
}

// Close stops the loops and closes both ends.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty slave: %w", err))
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(ctx context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Duration(p.pollTimeoutMs)*time.Millisecond*2 + time.Second):
		p.logger.WithField("tty", p.ttyName).Warn("PTY loops did not exit in time")
	}
	return errors.Join(errs...)
}

// openRawPTY opens a pty pair with the slave in raw mode and the master non-blocking.
func openRawPTY() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, cause error) (*os.File, *os.File, error) {
		return nil, nil, errors.Join(
			fmt.Errorf("failed to set PTY %s %s: %w", slave.Name(), step, cause),
			master.Close(),
			slave.Close(),
		)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("to raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("master nonblocking", err)
	}
	return master, slave, nil
}
