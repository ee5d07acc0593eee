package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/paws/internal/protocol"
)

// chunkCmd represents the chunk command
var chunkCmd = &cobra.Command{
	Use:   "chunk <hex|@file>",
	Short: "Split a frame into stream characteristic writes",
	Long: `Prints the writes a central sends for one frame, one hex line per write.

The frame is given as hex, or as @path to read raw bytes from a file.

Example:
  pawsd chunk 4142434445 --chunk 4
  pawsd chunk @frame.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

var chunkSize int

func init() {
	chunkCmd.Flags().IntVar(&chunkSize, "chunk", protocol.DefaultChunkSize, "Maximum bytes per write (ATT MTU - 3)")
}

// readFrameArg decodes a hex argument or reads the file named after '@'.
func readFrameArg(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		return b, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex frame: %w", err)
	}
	return b, nil
}

func runChunk(cmd *cobra.Command, args []string) error {
	frame, err := readFrameArg(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	writes, err := protocol.SplitFrame(frame, chunkSize)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, chunk := range writes {
		if _, err := fmt.Fprintln(w, hex.EncodeToString(chunk)); err != nil {
			return err
		}
	}
	return nil
}
