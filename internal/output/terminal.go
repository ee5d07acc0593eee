package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// cursorHome moves the cursor to the top-left corner so each frame
// overdraws the previous one.
const cursorHome = "\x1b[H"

// TerminalOptions configures a Terminal sink.
type TerminalOptions struct {
	ID          string
	Width       int
	Height      int
	PixelFormat PixelFormat
	Gradient    *Gradient // colours for FormatByte; grayscale when nil
	Writer      io.Writer // stdout when nil
}

// Terminal renders frames as 24-bit coloured cells, two columns per pixel.
type Terminal struct {
	desc     Descriptor
	width    int
	height   int
	gradient *Gradient
	w        io.Writer
	closer   io.Closer

	mu      sync.Mutex
	last    []byte
	buf     bytes.Buffer
	skipped uint64
}

// NewTerminal creates a terminal sink writing to opts.Writer.
func NewTerminal(opts TerminalOptions) (*Terminal, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("terminal %s: width and height must be > 0", opts.ID)
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{
		desc: Descriptor{
			ID:          opts.ID,
			ByteSize:    opts.Width * opts.Height * opts.PixelFormat.BytesPerPixel(),
			PixelFormat: opts.PixelFormat,
		},
		width:    opts.Width,
		height:   opts.Height,
		gradient: opts.Gradient,
		w:        w,
	}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		t.closer = c
	}
	return t, nil
}

// NewPTYTerminal renders into a fresh pseudo-terminal. The slave path is
// logged so a viewer can attach.
func NewPTYTerminal(opts TerminalOptions, logger *logrus.Logger) (*Terminal, error) {
	p, err := NewPTY(opts.Width*opts.Height*48+64, logger)
	if err != nil {
		return nil, err
	}
	opts.Writer = p
	t, err := NewTerminal(opts)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return t, nil
}

func (t *Terminal) Descriptor() Descriptor { return t.desc }

// Accept renders frame unless it equals the previous one.
func (t *Terminal) Accept(frame []byte) error {
	if err := checkSize(t.desc, frame); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last != nil && bytes.Equal(t.last, frame) {
		t.skipped++
		return nil
	}

	t.buf.Reset()
	t.buf.WriteString(cursorHome)
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			r, g, b := pixelRGB(frame, t.desc.PixelFormat, y*t.width+x, t.gradient)
			cell := color.BgRGB(int(r), int(g), int(b))
			cell.EnableColor()
			t.buf.WriteString(cell.Sprint("  "))
		}
		t.buf.WriteString("\r\n")
	}

	if _, err := t.w.Write(t.buf.Bytes()); err != nil {
		return fmt.Errorf("terminal write: %w", err)
	}
	t.last = append(t.last[:0], frame...)
	return nil
}

// Skipped returns how many unchanged frames were not redrawn.
func (t *Terminal) Skipped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

func (t *Terminal) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
