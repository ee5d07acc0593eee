package scene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/mailbox"
	"github.com/srg/paws/internal/output"
	"github.com/srg/paws/internal/protocol"
)

// sink records frames handed to it by the output manager.
type sink struct {
	desc output.Descriptor

	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) Descriptor() output.Descriptor { return s.desc }

func (s *sink) Accept(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) got() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type ManagerTestSuite struct {
	suite.Suite

	procRoot string
	out      *output.Manager
	left     *sink
	right    *sink
	bus      *events.Bus
	sub      *events.Subscription
	mb       *mailbox.Mailbox
	stream   *StreamScene
	solid    *SolidScene
	mgr      *Manager
}

func (s *ManagerTestSuite) SetupTest() {
	s.procRoot = s.T().TempDir()
	s.writeProc("proc/uptime", "12345.67 54321.00\n")
	s.writeProc("proc/loadavg", "0.52 0.58 0.59 1/123 4567\n")
	s.writeProc("sys/class/thermal/thermal_zone0/temp", "48312\n")

	s.left = &sink{desc: output.Descriptor{ID: "left", ByteSize: 3, PixelFormat: output.FormatRGB}}
	s.right = &sink{desc: output.Descriptor{ID: "right", ByteSize: 2, PixelFormat: output.FormatByte}}
	s.out = output.NewManager(nil, output.ManagerOptions{})
	s.Require().NoError(s.out.Register(s.left))
	s.Require().NoError(s.out.Register(s.right))
	s.out.Seal()

	s.bus = events.NewBus(nil)
	s.sub = s.bus.Subscribe(32, events.KindSceneOutput, events.KindSceneChanged)
	s.mb = mailbox.New()

	var err error
	s.stream, err = NewStreamScene(s.mb, protocol.NewReassembler(protocol.ReassemblerOptions{}))
	s.Require().NoError(err)
	s.solid, err = NewSolidScene()
	s.Require().NoError(err)

	s.mgr, err = NewManager(s.out, s.bus, nil, ManagerOptions{ProcRoot: s.procRoot, ErrorHistory: 8})
	s.Require().NoError(err)
	s.Require().NoError(s.mgr.Add(s.stream))
	s.Require().NoError(s.mgr.Add(s.solid))
}

func (s *ManagerTestSuite) TearDownTest() {
	s.NoError(s.mgr.Close())
}

func (s *ManagerTestSuite) writeProc(rel, content string) {
	path := filepath.Join(s.procRoot, rel)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
}

// output waits for the SceneOutput of scene.control.
func (s *ManagerTestSuite) output(scene, control string) []byte {
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.sub.C():
			if out, ok := ev.(events.SceneOutput); ok && out.SceneID == scene && out.ControlID == control {
				return out.Value
			}
		case <-deadline:
			s.FailNow("no output for " + scene + "." + control)
			return nil
		}
	}
}

func (s *ManagerTestSuite) send(scene, control string, value []byte) {
	b, err := protocol.EncodeCommand(protocol.SceneCommand{SceneID: scene, ControlID: control, Value: value})
	s.Require().NoError(err)
	s.mgr.HandleEnvelope(b)
}

func (s *ManagerTestSuite) TestFirstSceneIsActive() {
	s.Equal(StreamSceneID, s.mgr.Active())
	s.Equal([]string{StreamSceneID, SolidSceneID}, s.mgr.Scenes())
}

func (s *ManagerTestSuite) TestStreamSceneDistributesLatestFrame() {
	// GOAL: Verify the stream scene draws only the newest mailbox frame and nothing when idle
	//
	// TEST SCENARIO: publish two frames → one draw → sinks get the second frame → next draw is a no-op
	s.mb.Publish([]byte{1, 1, 1, 1, 1})
	s.mb.Publish([]byte{1, 2, 3, 4, 5})

	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: time.Now(), Frame: 1}))
	s.Equal([][]byte{{1, 2, 3}}, s.left.got())
	s.Equal([][]byte{{4, 5}}, s.right.got())

	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: time.Now(), Frame: 2}))
	s.Len(s.left.got(), 1)
}

func (s *ManagerTestSuite) TestStreamSceneHoldAndBrightness() {
	s.Require().NoError(s.mgr.Dispatch(context.Background(), protocol.SceneCommand{
		SceneID: StreamSceneID, ControlID: "hold", Value: protocol.EncodeBool(true),
	}))
	s.Require().NoError(s.mgr.Dispatch(context.Background(), protocol.SceneCommand{
		SceneID: StreamSceneID, ControlID: "brightness", Value: protocol.EncodeFloat64(0.5),
	}))

	s.mb.Publish([]byte{200, 100, 50, 10, 0})
	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{}))
	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{}))

	s.Equal([][]byte{{100, 50, 25}, {100, 50, 25}}, s.left.got())
	s.Equal([][]byte{{5, 0}, {5, 0}}, s.right.got())

	err := s.mgr.Dispatch(context.Background(), protocol.SceneCommand{
		SceneID: StreamSceneID, ControlID: "brightness", Value: protocol.EncodeFloat64(1.5),
	})
	s.Error(err)
	s.Equal(0.5, s.stream.Brightness())
}

func (s *ManagerTestSuite) TestStreamSceneShortFrame() {
	s.mb.Publish([]byte{1, 2})
	var capErr *output.CapacityError
	s.ErrorAs(s.mgr.Draw(context.Background(), DrawInfo{}), &capErr)
	s.Empty(s.left.got())
}

func (s *ManagerTestSuite) TestActivateOverBLE() {
	// GOAL: Verify scene switching through the system scene and the resulting notifications
	//
	// TEST SCENARIO: system.activate("solid") → SceneChanged + activate output → solid draws its colour
	s.send(SystemSceneID, "activate", []byte(SolidSceneID))
	s.Equal([]byte(SolidSceneID), s.output(SystemSceneID, "activate"))
	s.Equal(SolidSceneID, s.mgr.Active())

	s.send(SolidSceneID, "color", []byte{10, 20, 30})
	s.Equal([]byte{10, 20, 30}, s.output(SolidSceneID, "color"))

	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: time.Now()}))
	s.Equal([][]byte{{10, 20, 30}}, s.left.got())
	// luma of (10,20,30) = (2990+11740+3420)/1000 = 18
	s.Equal([][]byte{{18, 18}}, s.right.got())
}

func (s *ManagerTestSuite) TestSolidBlink() {
	s.Require().NoError(s.mgr.Activate(SolidSceneID))
	s.Require().NoError(s.mgr.Dispatch(context.Background(), protocol.SceneCommand{
		SceneID: SolidSceneID, ControlID: "mode", Value: protocol.EncodeInt32(int32(SolidBlink)),
	}))

	t0 := time.Now()
	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: t0}))
	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: t0.Add(600 * time.Millisecond)}))
	s.Require().NoError(s.mgr.Draw(context.Background(), DrawInfo{Time: t0.Add(1100 * time.Millisecond)}))

	s.Equal([][]byte{{255, 255, 255}, {0, 0, 0}, {255, 255, 255}}, s.left.got())
}

func (s *ManagerTestSuite) TestSystemTelemetry() {
	s.send(SystemSceneID, "uptime", nil)
	up, err := protocol.DecodeFloat64(s.output(SystemSceneID, "uptime"))
	s.Require().NoError(err)
	s.Equal(12345.67, up)

	s.send(SystemSceneID, "loadavg", nil)
	s.Equal([]byte("0.52 0.58 0.59"), s.output(SystemSceneID, "loadavg"))

	s.send(SystemSceneID, "temperature", nil)
	temp, err := protocol.DecodeFloat64(s.output(SystemSceneID, "temperature"))
	s.Require().NoError(err)
	s.InDelta(48.312, temp, 1e-9)

	s.send(SystemSceneID, "scenes", nil)
	s.Equal([]byte("stream,solid"), s.output(SystemSceneID, "scenes"))
}

func (s *ManagerTestSuite) TestEveryRegisteredControlIsReachable() {
	// GOAL: Verify every control a scene registers can be dispatched by id
	//
	// TEST SCENARIO: expected control ids per table → List() shows them all → Dispatch never reports
	// an unknown control
	want := map[*ControlTable][]string{
		s.mgr.system:        {"activate", "active", "errors", "loadavg", "scenes", "temperature", "uptime"},
		s.stream.Controls(): {"brightness", "hold", "stats"},
		s.solid.Controls():  {"color", "mode", "period"},
	}
	for table, ids := range want {
		var listed []string
		for _, c := range table.List() {
			listed = append(listed, c.ID)
		}
		s.Equal(ids, listed, table.SceneID())

		for _, id := range ids {
			err := table.Dispatch(context.Background(), protocol.SceneCommand{SceneID: table.SceneID(), ControlID: id})
			var unknown *UnknownControlError
			s.False(errors.As(err, &unknown), "%s.%s not reachable", table.SceneID(), id)
		}
	}
}

func (s *ManagerTestSuite) TestErrorsControlReportsRecentFailures() {
	ctx := context.Background()
	s.Error(s.mgr.Dispatch(ctx, protocol.SceneCommand{SceneID: SolidSceneID, ControlID: "color", Value: []byte{1}}))

	// the history records asynchronously, poll until the failure shows up
	s.Eventually(func() bool {
		if err := s.mgr.Dispatch(ctx, protocol.SceneCommand{SceneID: SystemSceneID, ControlID: "errors"}); err != nil {
			return false
		}
		for {
			select {
			case ev := <-s.sub.C():
				if out, ok := ev.(events.SceneOutput); ok && out.ControlID == "errors" {
					return strings.Contains(string(out.Value), "solid.color")
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func (s *ManagerTestSuite) TestCommandsRunInWriteOrder() {
	// GOAL: Verify control writes are applied in the order the central sent them
	//
	// TEST SCENARIO: brightness 0.1 … 1.0 written back to back, many rounds → after Wait the last
	// value written is the one in effect
	for round := 0; round < 50; round++ {
		for i := 1; i <= 10; i++ {
			s.send(StreamSceneID, "brightness", protocol.EncodeFloat64(float64(i)/10))
		}
		s.mgr.Wait()
		s.Require().Equal(1.0, s.stream.Brightness(), "round %d", round)

		s.send(StreamSceneID, "brightness", protocol.EncodeFloat64(0.3))
		s.mgr.Wait()
		s.Require().Equal(0.3, s.stream.Brightness(), "round %d", round)
	}
}

func TestCommandQueueOverflowIsDropped(t *testing.T) {
	m, err := NewManager(output.NewManager(nil, output.ManagerOptions{}), nil, nil, ManagerOptions{
		ProcRoot:     t.TempDir(),
		CommandQueue: 1,
	})
	require.NoError(t, err)

	release := make(chan struct{})
	blocker := &namedScene{id: "slow", table: NewControlTable("slow")}
	require.NoError(t, RegisterAction(blocker.table, "wait", None, func(context.Context, struct{}) error {
		<-release
		return nil
	}))
	require.NoError(t, m.Add(blocker))

	wait, err := protocol.EncodeCommand(protocol.SceneCommand{SceneID: "slow", ControlID: "wait"})
	require.NoError(t, err)

	m.HandleEnvelope(wait)
	// the worker holds the first command, the second fills the queue
	require.Eventually(t, func() bool { return m.queue.Len() == 0 }, time.Second, time.Millisecond)
	m.HandleEnvelope(wait)
	m.HandleEnvelope(wait)
	assert.Equal(t, uint64(1), m.Dropped())

	close(release)
	m.Wait()
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())

	m.HandleEnvelope(wait)
	assert.Equal(t, uint64(2), m.Dropped())
}

func (s *ManagerTestSuite) TestDroppedCommands() {
	s.mgr.HandleEnvelope([]byte{9, 'x'})
	s.send("ghost", "anything", nil)
	s.Equal(uint64(2), s.mgr.Dropped())

	var unknown *UnknownSceneError
	s.ErrorAs(s.mgr.Dispatch(context.Background(), protocol.SceneCommand{SceneID: "ghost"}), &unknown)
	s.ErrorAs(s.mgr.Activate("ghost"), &unknown)
}

func (s *ManagerTestSuite) TestAddRejectsReservedAndDuplicateIDs() {
	s.Error(s.mgr.Add(s.stream))
	s.Error(s.mgr.Add(&namedScene{id: SystemSceneID}))
	s.Error(s.mgr.Add(&namedScene{id: ""}))
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

type namedScene struct {
	id    string
	table *ControlTable
}

func (n *namedScene) ID() string { return n.id }

func (n *namedScene) Controls() *ControlTable {
	if n.table == nil {
		n.table = NewControlTable(n.id)
	}
	return n.table
}

func (n *namedScene) Draw(context.Context, *output.Manager, DrawInfo) error {
	return nil
}

func TestUptimeFallsBackToProcessUptime(t *testing.T) {
	m, err := NewManager(output.NewManager(nil, output.ManagerOptions{}), nil, nil, ManagerOptions{ProcRoot: t.TempDir()})
	require.NoError(t, err)
	defer m.Close()

	up, err := m.uptime()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, up, 0.0)

	_, err = m.temperature()
	assert.Error(t, err)
}
