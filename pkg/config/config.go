package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Interface kinds understood by the output factories.
const (
	KindFramebuffer = "framebuffer"
	KindTerminal    = "terminal"
	KindOPC         = "opc"
	KindSerial      = "serial"
)

// Config holds application configuration
type Config struct {
	LogLevel   string            `yaml:"log_level" default:"info"`
	TargetFPS  int               `yaml:"target_fps" default:"60"`
	Concurrent bool              `yaml:"concurrent_distribution"`
	ProcRoot   string            `yaml:"proc_root" default:"/"`
	BLE        BLEConfig         `yaml:"ble"`
	Scenes     SceneConfig       `yaml:"scenes"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// BLEConfig describes the advertised GATT service.
type BLEConfig struct {
	DeviceName      string `yaml:"device_name" default:"paws"`
	ServiceUUID     string `yaml:"service_uuid" default:"7a3f0000-5e1b-4c2d-9f6a-2b8c1d0e7f10"`
	StreamCharUUID  string `yaml:"stream_char_uuid" default:"7a3f0001-5e1b-4c2d-9f6a-2b8c1d0e7f10"`
	ControlCharUUID string `yaml:"control_char_uuid" default:"7a3f0002-5e1b-4c2d-9f6a-2b8c1d0e7f10"`
	MaxFrameLength  int    `yaml:"max_frame_length" default:"65535"`
	NotifyQueue     int    `yaml:"notify_queue" default:"32"`
}

// SceneConfig selects the scene drawn at startup.
type SceneConfig struct {
	Initial string `yaml:"initial" default:"stream"`
}

// InterfaceConfig declares one output sink. Which fields matter depends on Kind.
type InterfaceConfig struct {
	ID          string  `yaml:"id"`
	Kind        string  `yaml:"kind"`
	Width       int     `yaml:"width" default:"16"`
	Height      int     `yaml:"height" default:"16"`
	PixelFormat string  `yaml:"pixel_format" default:"rgb"`
	Device      string  `yaml:"device"`  // framebuffer device or serial port
	Address     string  `yaml:"address"` // OPC server host:port
	Channel     int     `yaml:"channel"`
	BaudRate    int     `yaml:"baud_rate" default:"115200"`
	Brightness  float64 `yaml:"brightness" default:"1"`
	PTY         bool    `yaml:"pty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// defaults does not descend into slices
	for i := range cfg.Interfaces {
		defaults.SetDefaults(&cfg.Interfaces[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.TargetFPS <= 0 || c.TargetFPS > 1000 {
		errs = append(errs, fmt.Errorf("target_fps must be in 1..1000, got %d", c.TargetFPS))
	}
	if c.BLE.MaxFrameLength <= 0 || c.BLE.MaxFrameLength > 65535 {
		errs = append(errs, fmt.Errorf("ble.max_frame_length must be in 1..65535, got %d", c.BLE.MaxFrameLength))
	}
	if c.BLE.NotifyQueue <= 0 {
		errs = append(errs, fmt.Errorf("ble.notify_queue must be > 0"))
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for i, iface := range c.Interfaces {
		if iface.ID == "" {
			errs = append(errs, fmt.Errorf("interfaces[%d]: id is required", i))
		} else if seen[iface.ID] {
			errs = append(errs, fmt.Errorf("interfaces[%d]: duplicate id %q", i, iface.ID))
		}
		seen[iface.ID] = true

		switch strings.ToLower(iface.Kind) {
		case KindFramebuffer, KindTerminal, KindOPC, KindSerial:
		default:
			errs = append(errs, fmt.Errorf("interfaces[%d]: unknown kind %q", i, iface.Kind))
		}
		if iface.Width <= 0 || iface.Height <= 0 {
			errs = append(errs, fmt.Errorf("interfaces[%d]: width and height must be > 0", i))
		}
		if iface.Brightness < 0 || iface.Brightness > 1 {
			errs = append(errs, fmt.Errorf("interfaces[%d]: brightness must be in 0..1", i))
		}
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
