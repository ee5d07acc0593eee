package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/paws/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise the display service and draw received frames",
	Long: `Opens the configured interfaces, registers the GATT service and advertises it.

Frames written to the stream characteristic are drawn at the configured frame
rate; control envelopes written to the control characteristic are dispatched to
scenes and their results notified back.

Example:
  pawsd serve --config /etc/pawsd.yaml
  pawsd serve --config pawsd.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "pawsd.yaml", "Configuration file")
}

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg.Level())
	if err != nil {
		return err
	}

	// Arguments are valid - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	runErr := d.Run(ctx)
	logger.Info("Shutting down...")
	if err := d.Close(); err != nil {
		logger.WithError(err).Warn("Shutdown was not clean")
	}
	return runErr
}
