package scene

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/groutine"
	"github.com/srg/paws/internal/output"
	"github.com/srg/paws/internal/protocol"
)

// SystemSceneID addresses the built-in controls that are not tied to a scene.
const SystemSceneID = "system"

// UnknownSceneError is returned for a scene id that was never added.
type UnknownSceneError struct {
	ID string
}

func (e *UnknownSceneError) Error() string {
	return fmt.Sprintf("unknown scene %q", e.ID)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ProcRoot     string // root for /proc and /sys telemetry, "/" by default
	ErrorHistory uint32 // control errors kept for the "errors" control
	CommandQueue int    // commands waiting for dispatch, DefaultCommandQueue when 0
}

// DefaultCommandQueue bounds the commands waiting for the dispatch worker.
const DefaultCommandQueue = 64

type queuedCommand struct {
	table *ControlTable
	cmd   protocol.SceneCommand
}

// Manager owns the scenes, tracks the active one and routes commands.
type Manager struct {
	out    *output.Manager
	bus    *events.Bus
	logger *logrus.Logger

	mu     sync.Mutex // guards scenes and activation
	scenes *orderedmap.OrderedMap[string, Scene]
	active atomic.Pointer[activeScene]

	system   *ControlTable
	history  *events.History
	procRoot string
	started  time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	closeMu    sync.RWMutex // orders enqueueing against Close
	queue      *events.RingChannel[queuedCommand]
	pending    sync.WaitGroup
	workerDone chan struct{}
	dropped    atomic.Uint64
}

type activeScene struct {
	scene Scene
}

// NewManager creates a manager with the system controls registered.
func NewManager(out *output.Manager, bus *events.Bus, logger *logrus.Logger, opts ManagerOptions) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/"
	}
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = DefaultCommandQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		out:      out,
		bus:      bus,
		logger:   logger,
		scenes:   orderedmap.New[string, Scene](),
		system:   NewControlTable(SystemSceneID),
		history:  events.NewHistory(ctx, bus, opts.ErrorHistory, logger),
		procRoot: opts.ProcRoot,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		queue:    events.NewRingChannel[queuedCommand](opts.CommandQueue),
	}
	m.system.Attach(bus, logger)
	if err := m.registerSystemControls(); err != nil {
		cancel()
		_ = m.history.Close()
		return nil, err
	}
	m.system.Freeze()

	m.workerDone = make(chan struct{})
	groutine.GoSafe(context.Background(), "control-dispatch", groutine.LogPanics(logger), m.dispatchLoop)
	return m, nil
}

// dispatchLoop runs queued commands one at a time in arrival order until
// the queue is closed.
func (m *Manager) dispatchLoop(context.Context) {
	defer close(m.workerDone)
	for qc := range m.queue.C() {
		_ = qc.table.Dispatch(m.ctx, qc.cmd)
		m.pending.Done()
	}
}

// Bus returns the event bus results are published on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Add registers a scene. The first scene added becomes active.
func (m *Manager) Add(s Scene) error {
	id := s.ID()
	if id == "" || id == SystemSceneID {
		return fmt.Errorf("invalid scene id %q", id)
	}
	if len(id) > protocol.MaxIDLength {
		return &protocol.IDTooLongError{Field: "scene", Length: len(id)}
	}

	m.mu.Lock()
	if _, exists := m.scenes.Get(id); exists {
		m.mu.Unlock()
		return fmt.Errorf("scene %q already added", id)
	}
	m.scenes.Set(id, s)
	first := m.active.Load() == nil
	m.mu.Unlock()

	s.Controls().Attach(m.bus, m.logger)
	s.Controls().Freeze()

	m.logger.WithFields(logrus.Fields{
		"scene":    id,
		"controls": s.Controls().Len(),
	}).Info("Scene added")

	if first {
		return m.Activate(id)
	}
	return nil
}

// Scenes returns scene ids in the order they were added.
func (m *Manager) Scenes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, m.scenes.Len())
	for pair := m.scenes.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Activate makes id the scene drawn on the following ticks.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.scenes.Get(id)
	if !ok {
		return &UnknownSceneError{ID: id}
	}

	var from string
	if cur := m.active.Load(); cur != nil {
		if cur.scene.ID() == id {
			return nil
		}
		from = cur.scene.ID()
		if a, ok := cur.scene.(Activator); ok {
			a.Deactivate()
		}
	}
	if a, ok := next.(Activator); ok {
		a.Activate()
	}
	m.active.Store(&activeScene{scene: next})

	m.logger.WithFields(logrus.Fields{"from": from, "to": id}).Info("Active scene changed")
	m.bus.Publish(events.SceneChanged{From: from, To: id})
	return nil
}

// Active returns the active scene id, or "" before any scene is added.
func (m *Manager) Active() string {
	if cur := m.active.Load(); cur != nil {
		return cur.scene.ID()
	}
	return ""
}

// Draw draws the active scene. It is the scheduler's per-tick callback.
func (m *Manager) Draw(ctx context.Context, info DrawInfo) error {
	cur := m.active.Load()
	if cur == nil {
		return nil
	}
	return cur.scene.Draw(ctx, m.out, info)
}

// HandleEnvelope decodes a control characteristic write and routes it.
// Malformed payloads are logged and dropped.
func (m *Manager) HandleEnvelope(data []byte) {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		m.dropped.Add(1)
		m.logger.WithError(err).WithField("bytes", len(data)).Warn("Dropping malformed control payload")
		return
	}
	m.HandleCommand(cmd)
}

// HandleCommand routes cmd to its scene and queues it for the dispatch
// worker, so the caller (a BLE callback) never waits on a handler. Commands
// run in the order they were handed in. A full queue drops the command.
func (m *Manager) HandleCommand(cmd protocol.SceneCommand) {
	table, err := m.tableFor(cmd.SceneID)
	if err != nil {
		m.dropped.Add(1)
		m.logger.WithFields(logrus.Fields{
			"scene":   cmd.SceneID,
			"control": cmd.ControlID,
		}).Warn("Dropping command for unknown scene")
		return
	}
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.ctx.Err() != nil {
		m.dropped.Add(1)
		return
	}

	m.pending.Add(1)
	if !m.queue.TrySend(queuedCommand{table: table, cmd: cmd}) {
		m.pending.Done()
		m.dropped.Add(1)
		m.logger.WithFields(logrus.Fields{
			"scene":   cmd.SceneID,
			"control": cmd.ControlID,
			"queue":   m.queue.Cap(),
		}).Warn("Command queue full, dropping command")
	}
}

// Dispatch routes and runs cmd synchronously.
func (m *Manager) Dispatch(ctx context.Context, cmd protocol.SceneCommand) error {
	table, err := m.tableFor(cmd.SceneID)
	if err != nil {
		return err
	}
	return table.Dispatch(ctx, cmd)
}

func (m *Manager) tableFor(sceneID string) (*ControlTable, error) {
	if sceneID == SystemSceneID {
		return m.system, nil
	}
	m.mu.Lock()
	s, ok := m.scenes.Get(sceneID)
	m.mu.Unlock()
	if !ok {
		return nil, &UnknownSceneError{ID: sceneID}
	}
	return s.Controls(), nil
}

// Dropped counts commands discarded before dispatch.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Wait blocks until every queued command has been dispatched.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Close stops accepting commands, cancels the handler context, drains the
// queue and stops the error history.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.ctx.Err() == nil {
		m.cancel()
		m.queue.Close()
	}
	m.closeMu.Unlock()

	<-m.workerDone
	return m.history.Close()
}
