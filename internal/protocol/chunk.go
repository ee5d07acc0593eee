package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Stream characteristic segment headers.
const (
	HeaderStart        byte = 0x01 // followed by a big-endian uint16 frame length
	HeaderContinuation byte = 0x02
)

const (
	// MaxFrameLength is the largest frame a uint16 length header can announce.
	MaxFrameLength = 65535

	// DefaultChunkSize is a safe write size when no MTU has been negotiated.
	DefaultChunkSize = 180

	startHeaderLen = 3
)

// SplitFrame cuts frame into stream writes of at most chunkSize bytes: one
// start write followed by as many continuation writes as needed.
func SplitFrame(frame []byte, chunkSize int) ([][]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("frame is empty")
	}
	if len(frame) > MaxFrameLength {
		return nil, fmt.Errorf("frame is %d bytes, limit is %d", len(frame), MaxFrameLength)
	}
	if chunkSize <= startHeaderLen {
		return nil, fmt.Errorf("chunk size must be > %d, got %d", startHeaderLen, chunkSize)
	}

	n := min(len(frame), chunkSize-startHeaderLen)
	first := make([]byte, 0, startHeaderLen+n)
	first = append(first, HeaderStart)
	first = binary.BigEndian.AppendUint16(first, uint16(len(frame)))
	first = append(first, frame[:n]...)

	writes := [][]byte{first}
	for rest := frame[n:]; len(rest) > 0; {
		n = min(len(rest), chunkSize-1)
		w := make([]byte, 0, 1+n)
		w = append(w, HeaderContinuation)
		w = append(w, rest[:n]...)
		writes = append(writes, w)
		rest = rest[n:]
	}
	return writes, nil
}

// ReassemblerOptions configures a Reassembler.
type ReassemblerOptions struct {
	MaxFrameLength int            // largest accepted frame, defaults to MaxFrameLength
	Emit           func([]byte)   // receives each completed frame; must not block
	Logger         *logrus.Logger // optional
}

// ReassemblerStats counts what the reassembler did with incoming writes.
type ReassemblerStats struct {
	Frames         uint64 // completed frames emitted
	Abandoned      uint64 // frames discarded by a new start header or Reset
	Desyncs        uint64 // continuations received with no frame in progress
	UnknownHeaders uint64 // writes cut short by an unknown header byte
	Malformed      uint64 // start headers with a truncated or invalid length
}

// Reassembler rebuilds frames from stream characteristic writes.
//
// A single write may carry several segments back to back; each one is a
// header byte followed by payload. A start segment carries at most the
// announced length of payload and a continuation carries at most what is
// still missing, so any bytes beyond that begin the next segment.
//
// Write is safe to call from the BLE callback goroutine: it never blocks,
// never performs I/O while holding its lock, and hands completed frames to
// Emit as copies that the receiver owns.
type Reassembler struct {
	mu       sync.Mutex
	pool     *FramePool
	buf      []byte // nil while idle
	expected int
	offset   int

	emit   func([]byte)
	logger *logrus.Logger

	frames         atomic.Uint64
	abandoned      atomic.Uint64
	desyncs        atomic.Uint64
	unknownHeaders atomic.Uint64
	malformed      atomic.Uint64
}

// NewReassembler creates an idle reassembler.
func NewReassembler(opts ReassemblerOptions) *Reassembler {
	maxLen := opts.MaxFrameLength
	if maxLen <= 0 || maxLen > MaxFrameLength {
		maxLen = MaxFrameLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	emit := opts.Emit
	if emit == nil {
		emit = func([]byte) {}
	}
	return &Reassembler{
		pool:   NewFramePool(maxLen),
		emit:   emit,
		logger: logger,
	}
}

// logNote is a debug message deferred until r.mu is released.
type logNote struct {
	msg    string
	fields logrus.Fields
}

// Write consumes one characteristic write.
func (r *Reassembler) Write(data []byte) {
	var (
		completed [][]byte
		notes     []logNote
	)

	r.mu.Lock()
	for len(data) > 0 {
		var frame []byte
		var note *logNote

		switch data[0] {
		case HeaderStart:
			data, frame, note = r.start(data[1:], &notes)
		case HeaderContinuation:
			data, frame, note = r.continuation(data[1:])
		default:
			r.unknownHeaders.Add(1)
			note = &logNote{
				msg:    "Unknown stream header, dropping rest of write",
				fields: logrus.Fields{"header": fmt.Sprintf("0x%02x", data[0])},
			}
		}

		if frame != nil {
			completed = append(completed, frame)
		}
		if note != nil {
			notes = append(notes, *note)
			break
		}
	}
	r.mu.Unlock()

	for _, n := range notes {
		r.logger.WithFields(n.fields).Debug(n.msg)
	}
	for _, frame := range completed {
		r.emit(frame)
	}
}

// start handles a start segment; the header byte has been consumed. A
// non-nil note means the rest of the write is dropped.
func (r *Reassembler) start(data []byte, notes *[]logNote) (rest, frame []byte, drop *logNote) {
	if len(data) < 2 {
		r.malformed.Add(1)
		return nil, nil, &logNote{msg: "Truncated start header, dropping rest of write"}
	}
	length := int(binary.BigEndian.Uint16(data))
	data = data[2:]

	if length == 0 || length > r.pool.Size() {
		r.malformed.Add(1)
		return nil, nil, &logNote{
			msg:    "Rejected start header length, dropping rest of write",
			fields: logrus.Fields{"length": length, "max": r.pool.Size()},
		}
	}

	if r.buf != nil {
		r.abandoned.Add(1)
		*notes = append(*notes, logNote{
			msg:    "New start header abandons frame in progress",
			fields: logrus.Fields{"written": r.offset, "expected": r.expected},
		})
		r.release()
	}

	r.buf = r.pool.Get(length)
	r.expected = length
	r.offset = 0

	rest, frame = r.fill(data)
	return rest, frame, nil
}

// continuation handles a continuation segment; the header byte has been consumed.
func (r *Reassembler) continuation(data []byte) (rest, frame []byte, drop *logNote) {
	if r.buf == nil {
		r.desyncs.Add(1)
		return nil, nil, &logNote{msg: "Continuation without start header, dropping rest of write"}
	}
	rest, frame = r.fill(data)
	return rest, frame, nil
}

// fill appends payload up to the announced length and returns the unused
// bytes plus the completed frame, if any.
func (r *Reassembler) fill(data []byte) (rest, frame []byte) {
	n := min(len(data), r.expected-r.offset)
	copy(r.buf[r.offset:], data[:n])
	r.offset += n

	if r.offset == r.expected {
		frame = make([]byte, r.expected)
		copy(frame, r.buf)
		r.release()
		r.frames.Add(1)
	}
	return data[n:], frame
}

// release returns the scratch buffer and goes idle. Caller holds r.mu.
func (r *Reassembler) release() {
	r.pool.Put(r.buf)
	r.buf = nil
	r.expected = 0
	r.offset = 0
}

// Reset drops any frame in progress, e.g. when the central disconnects.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf != nil {
		r.abandoned.Add(1)
		r.release()
	}
}

// InProgress reports the written and expected byte counts of the current
// frame, or zeros when idle.
func (r *Reassembler) InProgress() (written, expected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset, r.expected
}

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		Frames:         r.frames.Load(),
		Abandoned:      r.abandoned.Load(),
		Desyncs:        r.desyncs.Load(),
		UnknownHeaders: r.unknownHeaders.Load(),
		Malformed:      r.malformed.Load(),
	}
}
