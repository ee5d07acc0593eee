package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/paws/internal/output"
)

// interfacesCmd represents the interfaces command
var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "Show how a frame is split across the configured interfaces",
	Long: `Lists the configured interfaces in distribution order with the byte range
each one receives from a frame. No device is opened.

Example:
  pawsd interfaces --config pawsd.yaml`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

var interfacesConfigPath string

func init() {
	interfacesCmd.Flags().StringVarP(&interfacesConfigPath, "config", "c", "pawsd.yaml", "Configuration file")
}

func runInterfaces(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(interfacesConfigPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tFORMAT\tSIZE\tBYTES\tRANGE")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	offset := 0
	for _, ic := range cfg.Interfaces {
		d, err := output.Describe(ic)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%d\t%d..%d\n",
			d.ID, strings.ToLower(ic.Kind), d.PixelFormat, ic.Width, ic.Height, d.ByteSize, offset, offset+d.ByteSize)
		offset += d.ByteSize
	}
	if err := w.Flush(); err != nil {
		return err
	}

	total := color.New(color.Bold).Sprintf("frame size: %d bytes", offset)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), total)
	return err
}
