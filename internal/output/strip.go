package output

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kellydunn/go-opc"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// StripOptions describes an addressable LED strip or matrix.
type StripOptions struct {
	ID          string
	Pixels      int
	PixelFormat PixelFormat
	Brightness  float64 // 0..1
}

func (o StripOptions) descriptor() Descriptor {
	return Descriptor{ID: o.ID, ByteSize: o.Pixels * o.PixelFormat.BytesPerPixel(), PixelFormat: o.PixelFormat}
}

// OPCSender is the part of an Open Pixel Control client the strip uses.
type OPCSender interface {
	Send(m *opc.Message) error
}

// OPCStrip drives LEDs behind a fadecandy or any other Open Pixel Control server.
type OPCStrip struct {
	desc       Descriptor
	brightness float64
	client     OPCSender

	mu     sync.Mutex
	msg    *opc.Message
	closed bool
}

// ErrStripClosed is returned by Accept after Close.
var ErrStripClosed = errors.New("strip is closed")

// DialOPCStrip connects to an OPC server at addr ("host:port").
//
// opc.Client keeps its connection unexported and has no Close, so the TCP
// socket of a dialed strip stays open until the process exits. Close only
// stops further sends.
func DialOPCStrip(addr string, channel uint8, opts StripOptions, logger *logrus.Logger) (*OPCStrip, error) {
	oc := opc.NewClient()
	if err := oc.Connect("tcp", addr); err != nil {
		return nil, fmt.Errorf("connect to OPC server %s: %w", addr, err)
	}
	return NewOPCStrip(oc, channel, opts, logger), nil
}

// NewOPCStrip wraps an already connected client.
func NewOPCStrip(client OPCSender, channel uint8, opts StripOptions, logger *logrus.Logger) *OPCStrip {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	logger.WithFields(logrus.Fields{
		"id":      opts.ID,
		"channel": channel,
		"pixels":  opts.Pixels,
	}).Debug("OPC strip ready")

	msg := opc.NewMessage(channel)
	msg.SetLength(uint16(opts.Pixels * 3))
	return &OPCStrip{
		desc:       opts.descriptor(),
		brightness: opts.Brightness,
		client:     client,
		msg:        msg,
	}
}

func (s *OPCStrip) Descriptor() Descriptor { return s.desc }

func (s *OPCStrip) Accept(frame []byte) error {
	if err := checkSize(s.desc, frame); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStripClosed
	}

	pixels := s.desc.ByteSize / s.desc.PixelFormat.BytesPerPixel()
	for i := 0; i < pixels; i++ {
		r, g, b := pixelRGB(frame, s.desc.PixelFormat, i, nil)
		s.msg.SetPixelColor(i, scale(r, s.brightness), scale(g, s.brightness), scale(b, s.brightness))
	}
	if err := s.client.Send(s.msg); err != nil {
		return fmt.Errorf("opc send: %w", err)
	}
	return nil
}

// Close stops sending and closes the client when it is an io.Closer.
func (s *OPCStrip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Adalight protocol magic; the header is followed by a checksum of the LED count.
var adalightMagic = [3]byte{'A', 'd', 'a'}

// AdalightHeader returns the 6-byte header announcing pixels LEDs.
func AdalightHeader(pixels int) [6]byte {
	n := uint16(pixels - 1)
	hi, lo := byte(n>>8), byte(n)
	return [6]byte{adalightMagic[0], adalightMagic[1], adalightMagic[2], hi, lo, hi ^ lo ^ 0x55}
}

// SerialStrip drives LEDs behind an Adalight-compatible serial controller.
type SerialStrip struct {
	desc       Descriptor
	brightness float64
	port       io.WriteCloser

	mu  sync.Mutex
	buf []byte
}

// OpenSerialStrip opens device at baud.
func OpenSerialStrip(device string, baud int, opts StripOptions) (*SerialStrip, error) {
	if device == "" {
		return nil, errors.New("serial device is empty")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("invalid serial baud rate: %d", baud)
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", device, err)
	}
	return NewSerialStrip(port, opts), nil
}

// NewSerialStrip writes to an already open port.
func NewSerialStrip(port io.WriteCloser, opts StripOptions) *SerialStrip {
	buf := make([]byte, 6, 6+opts.Pixels*3)
	header := AdalightHeader(opts.Pixels)
	copy(buf, header[:])
	return &SerialStrip{
		desc:       opts.descriptor(),
		brightness: opts.Brightness,
		port:       port,
		buf:        buf,
	}
}

func (s *SerialStrip) Descriptor() Descriptor { return s.desc }

func (s *SerialStrip) Accept(frame []byte) error {
	if err := checkSize(s.desc, frame); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.buf[:6]
	pixels := s.desc.ByteSize / s.desc.PixelFormat.BytesPerPixel()
	for i := 0; i < pixels; i++ {
		r, g, b := pixelRGB(frame, s.desc.PixelFormat, i, nil)
		out = append(out, scale(r, s.brightness), scale(g, s.brightness), scale(b, s.brightness))
	}
	for written := 0; written < len(out); {
		n, err := s.port.Write(out[written:])
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		written += n
	}
	return nil
}

func (s *SerialStrip) Close() error {
	return s.port.Close()
}
