package gatt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/protocol"
	"github.com/srg/paws/pkg/config"
)

// readvertiseDelay is how long Serve waits before advertising again after
// the adapter stopped advertising on its own.
const readvertiseDelay = time.Second

// Deps are the collaborators the GATT server feeds.
type Deps struct {
	Reassembler *protocol.Reassembler
	Commands    CommandHandler
	Bus         *events.Bus
	Logger      *logrus.Logger
}

// Server advertises the display service and serves its characteristics.
type Server struct {
	cfg      config.BLEConfig
	logger   *logrus.Logger
	svcUUID  ble.UUID
	service  *ble.Service
	notifier *Notifier
	cancel   context.CancelFunc

	mu  sync.Mutex
	dev ble.Device
}

// New builds the service. Nothing touches the adapter until Serve.
func New(cfg config.BLEConfig, deps Deps) (*Server, error) {
	if deps.Reassembler == nil || deps.Commands == nil || deps.Bus == nil {
		return nil, fmt.Errorf("gatt: reassembler, command handler and bus are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	svcUUID, err := parseUUID("service", cfg.ServiceUUID)
	if err != nil {
		return nil, err
	}
	streamUUID, err := parseUUID("stream characteristic", cfg.StreamCharUUID)
	if err != nil {
		return nil, err
	}
	controlUUID, err := parseUUID("control characteristic", cfg.ControlCharUUID)
	if err != nil {
		return nil, err
	}
	if streamUUID.Equal(controlUUID) {
		return nil, fmt.Errorf("gatt: stream and control characteristics share uuid %s", streamUUID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	notifier := NewNotifier(ctx, deps.Bus, cfg.NotifyQueue, logger)
	links := NewLinkWatcher(ctx, deps.Reassembler, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		svcUUID: svcUUID,
		service: NewService(svcUUID,
			NewStreamCharacteristic(streamUUID, deps.Reassembler, links),
			NewControlCharacteristic(controlUUID, deps.Commands, notifier),
		),
		notifier: notifier,
		cancel:   cancel,
	}, nil
}

func parseUUID(what, s string) (ble.UUID, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("gatt: invalid %s uuid %q: %w", what, s, err)
	}
	return u, nil
}

// Service returns the GATT service definition.
func (s *Server) Service() *ble.Service {
	return s.service
}

// Notifier returns the control notification fan-out.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Serve opens the adapter, registers the service and advertises until ctx
// is done. A cancelled ctx is not an error.
func (s *Server) Serve(ctx context.Context) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()

	if err := dev.AddService(s.service); err != nil {
		return fmt.Errorf("failed to add service %s: %w", s.svcUUID, err)
	}

	fields := logrus.Fields{
		"name":    s.cfg.DeviceName,
		"service": s.svcUUID.String(),
	}
	for {
		s.logger.WithFields(fields).Info("Advertising")
		err := dev.AdvertiseNameAndServices(ctx, s.cfg.DeviceName, s.svcUUID)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithFields(fields).WithError(err).Warn("Advertising stopped")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(readvertiseDelay):
		}
	}
}

// Close stops notifications and the adapter.
func (s *Server) Close() error {
	s.cancel()
	errs := []error{s.notifier.Close()}

	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()
	if dev != nil {
		errs = append(errs, dev.Stop())
	}
	return errors.Join(errs...)
}
