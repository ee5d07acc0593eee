package output

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ManagerOptions tunes a Manager.
type ManagerOptions struct {
	// Concurrent runs the Accept calls of one pass in parallel. Calls are
	// started in registration order and Distribute returns after all finish.
	Concurrent bool
}

// Manager is the ordered interface registry and frame distributor.
//
// Interfaces are registered at startup and the registry is sealed before the
// draw loop begins, so Distribute can read it without locking.
type Manager struct {
	ifaces *orderedmap.OrderedMap[string, Interface]
	list   []Interface // registration order, built by Seal
	total  int
	sealed atomic.Bool
	mu     sync.Mutex // guards registration only

	concurrent bool
	logger     *logrus.Logger

	passes   atomic.Uint64
	failures atomic.Uint64
}

// ManagerStats counts distribution passes.
type ManagerStats struct {
	Passes   uint64
	Failures uint64 // individual Accept failures
}

// NewManager creates an empty, unsealed manager.
func NewManager(logger *logrus.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Manager{
		ifaces:     orderedmap.New[string, Interface](),
		concurrent: opts.Concurrent,
		logger:     logger,
	}
}

// Register appends iface to the distribution order.
func (m *Manager) Register(iface Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed.Load() {
		return ErrSealed
	}
	d := iface.Descriptor()
	if d.ByteSize < 0 {
		return fmt.Errorf("interface %s: negative byte size %d", d.ID, d.ByteSize)
	}
	if _, present := m.ifaces.Get(d.ID); present {
		return &DuplicateInterfaceError{ID: d.ID}
	}
	m.ifaces.Set(d.ID, iface)

	m.logger.WithFields(logrus.Fields{
		"id":     d.ID,
		"bytes":  d.ByteSize,
		"format": d.PixelFormat,
	}).Info("Output interface registered")
	return nil
}

// Seal freezes the registry. It is safe to call more than once.
func (m *Manager) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed.Load() {
		return
	}

	list := make([]Interface, 0, m.ifaces.Len())
	total := 0
	for pair := m.ifaces.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
		total += pair.Value.Descriptor().ByteSize
	}
	m.list = list
	m.total = total
	m.sealed.Store(true)
}

func (m *Manager) snapshot() []Interface {
	if m.sealed.Load() {
		return m.list
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Interface, 0, m.ifaces.Len())
	for pair := m.ifaces.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	return list
}

// Descriptors returns the interface descriptors in distribution order.
func (m *Manager) Descriptors() []Descriptor {
	list := m.snapshot()
	out := make([]Descriptor, len(list))
	for i, iface := range list {
		out[i] = iface.Descriptor()
	}
	return out
}

// TotalByteSize is the frame length Distribute requires.
func (m *Manager) TotalByteSize() int {
	if m.sealed.Load() {
		return m.total
	}
	total := 0
	for _, iface := range m.snapshot() {
		total += iface.Descriptor().ByteSize
	}
	return total
}

// Len returns the number of registered interfaces.
func (m *Manager) Len() int {
	return len(m.snapshot())
}

// Get returns the interface registered under id.
func (m *Manager) Get(id string) (Interface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ifaces.Get(id)
}

// Distribute slices buf across all interfaces in registration order.
//
// A buffer shorter than TotalByteSize is rejected with *CapacityError before
// any interface sees it. Bytes past TotalByteSize are ignored. A failing
// interface does not stop the pass; failures are returned joined, each as
// *AcceptError.
func (m *Manager) Distribute(buf []byte) error {
	list := m.snapshot()
	total := m.TotalByteSize()
	if len(buf) < total {
		return &CapacityError{Need: total, Have: len(buf)}
	}
	m.passes.Add(1)

	if m.concurrent && len(list) > 1 {
		return m.distributeConcurrent(list, buf)
	}

	var errs []error
	offset := 0
	for _, iface := range list {
		size := iface.Descriptor().ByteSize
		if err := m.accept(iface, buf[offset:offset+size]); err != nil {
			errs = append(errs, err)
		}
		offset += size
	}
	return errors.Join(errs...)
}

func (m *Manager) distributeConcurrent(list []Interface, buf []byte) error {
	errs := make([]error, len(list))
	var wg sync.WaitGroup

	offset := 0
	for i, iface := range list {
		size := iface.Descriptor().ByteSize
		part := buf[offset : offset+size]
		offset += size

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.accept(iface, part)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// accept isolates one interface: errors and panics become *AcceptError.
func (m *Manager) accept(iface Interface, part []byte) (err error) {
	id := iface.Descriptor().ID
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			m.failures.Add(1)
			m.logger.WithError(err).WithField("id", id).Debug("Interface rejected frame")
			err = &AcceptError{ID: id, Err: err}
		}
	}()
	return iface.Accept(part)
}

// DistributeTo hands frame to one interface. frame must match its size.
func (m *Manager) DistributeTo(id string, frame []byte) error {
	iface, ok := m.Get(id)
	if !ok {
		return &UnknownInterfaceError{ID: id}
	}
	return m.accept(iface, frame)
}

// Stats returns distribution counters.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Passes:   m.passes.Load(),
		Failures: m.failures.Load(),
	}
}

// Close closes all interfaces, newest first, and joins their errors.
func (m *Manager) Close() error {
	list := m.snapshot()
	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		if err := list[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", list[i].Descriptor().ID, err))
		}
	}
	return errors.Join(errs...)
}
