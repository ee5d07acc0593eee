package output

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/paws/pkg/config"
)

// Factory builds an Interface from its configuration entry.
type Factory func(cfg config.InterfaceConfig, logger *logrus.Logger) (Interface, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		config.KindFramebuffer: newFramebufferFromConfig,
		config.KindTerminal:    newTerminalFromConfig,
		config.KindOPC:         newOPCFromConfig,
		config.KindSerial:      newSerialFromConfig,
	}
)

// RegisterKind installs or replaces the factory for kind.
func RegisterKind(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(kind)] = f
}

func lookupKind(kind string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(kind)]
	return f, ok
}

// Build constructs every configured interface in order. On failure, the
// interfaces already built are closed.
func Build(cfgs []config.InterfaceConfig, logger *logrus.Logger) ([]Interface, error) {
	built := make([]Interface, 0, len(cfgs))
	for _, cfg := range cfgs {
		f, ok := lookupKind(cfg.Kind)
		if !ok {
			return nil, errors.Join(fmt.Errorf("interface %s: unknown kind %q", cfg.ID, cfg.Kind), closeAll(built))
		}
		iface, err := f(cfg, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("interface %s (%s): %w", cfg.ID, cfg.Kind, err), closeAll(built))
		}
		built = append(built, iface)
	}
	return built, nil
}

func closeAll(ifaces []Interface) error {
	var errs []error
	for i := len(ifaces) - 1; i >= 0; i-- {
		errs = append(errs, ifaces[i].Close())
	}
	return errors.Join(errs...)
}

func newFramebufferFromConfig(cfg config.InterfaceConfig, _ *logrus.Logger) (Interface, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	fb, err := OpenFramebuffer(FramebufferOptions{
		ID:          cfg.ID,
		Device:      cfg.Device,
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: format,
	})
	if err != nil {
		return nil, err
	}
	return fb, nil
}

func newTerminalFromConfig(cfg config.InterfaceConfig, logger *logrus.Logger) (Interface, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	opts := TerminalOptions{
		ID:          cfg.ID,
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: format,
	}
	var t *Terminal
	if cfg.PTY {
		t, err = NewPTYTerminal(opts, logger)
	} else {
		t, err = NewTerminal(opts)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newOPCFromConfig(cfg config.InterfaceConfig, logger *logrus.Logger) (Interface, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		return nil, errors.New("address is required")
	}
	if cfg.Channel < 0 || cfg.Channel > 255 {
		return nil, fmt.Errorf("channel must be in 0..255, got %d", cfg.Channel)
	}
	strip, err := DialOPCStrip(cfg.Address, uint8(cfg.Channel), StripOptions{
		ID:          cfg.ID,
		Pixels:      cfg.Width * cfg.Height,
		PixelFormat: format,
		Brightness:  cfg.Brightness,
	}, logger)
	if err != nil {
		return nil, err
	}
	return strip, nil
}

func newSerialFromConfig(cfg config.InterfaceConfig, _ *logrus.Logger) (Interface, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	strip, err := OpenSerialStrip(cfg.Device, cfg.BaudRate, StripOptions{
		ID:          cfg.ID,
		Pixels:      cfg.Width * cfg.Height,
		PixelFormat: format,
		Brightness:  cfg.Brightness,
	})
	if err != nil {
		return nil, err
	}
	return strip, nil
}

// Describe computes the descriptor cfg would produce without opening the
// device. Framebuffers may still refuse the geometry when opened.
func Describe(cfg config.InterfaceConfig) (Descriptor, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return Descriptor{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Descriptor{}, fmt.Errorf("interface %s: width and height must be > 0", cfg.ID)
	}
	return Descriptor{
		ID:          cfg.ID,
		ByteSize:    cfg.Width * cfg.Height * format.BytesPerPixel(),
		PixelFormat: format,
	}, nil
}
