package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/srg/paws/internal/events"
)

// registerSystemControls installs the controls of the "system" pseudo-scene.
func (m *Manager) registerSystemControls() error {
	t := m.system
	regs := []error{
		Register(t, "activate", String, func(_ context.Context, id string) (string, error) {
			if err := m.Activate(id); err != nil {
				return "", err
			}
			return m.Active(), nil
		}, String),
		Register(t, "scenes", None, func(context.Context, struct{}) (string, error) {
			return strings.Join(m.Scenes(), ","), nil
		}, String),
		Register(t, "active", None, func(context.Context, struct{}) (string, error) {
			return m.Active(), nil
		}, String),
		Register(t, "uptime", None, func(context.Context, struct{}) (float64, error) {
			return m.uptime()
		}, Float64),
		Register(t, "loadavg", None, func(context.Context, struct{}) (string, error) {
			return m.loadavg()
		}, String),
		Register(t, "temperature", None, func(context.Context, struct{}) (float64, error) {
			return m.temperature()
		}, Float64),
		Register(t, "errors", None, func(context.Context, struct{}) (string, error) {
			return events.FormatErrors(m.history.Drain()), nil
		}, String),
	}
	for _, err := range regs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readProc(rel string) (string, error) {
	b, err := os.ReadFile(filepath.Join(m.procRoot, rel))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// uptime reports system uptime in seconds, falling back to process uptime
// where /proc is unavailable.
func (m *Manager) uptime() (float64, error) {
	s, err := m.readProc("proc/uptime")
	if err != nil {
		return time.Since(m.started).Seconds(), nil
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// loadavg returns the 1, 5 and 15 minute load averages.
func (m *Manager) loadavg() (string, error) {
	s, err := m.readProc("proc/loadavg")
	if err != nil {
		return "", fmt.Errorf("read loadavg: %w", err)
	}
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected /proc/loadavg format %q", s)
	}
	return strings.Join(fields[:3], " "), nil
}

// temperature returns the first thermal zone in degrees Celsius.
func (m *Manager) temperature() (float64, error) {
	s, err := m.readProc("sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, fmt.Errorf("read temperature: %w", err)
	}
	milli, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", s, err)
	}
	return float64(milli) / 1000, nil
}
