package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/srg/paws/internal/protocol"
)

// envelopeCmd represents the envelope command
var envelopeCmd = &cobra.Command{
	Use:   "envelope <scene> <control> [value]",
	Short: "Encode a control command envelope",
	Long: `Prints the hex envelope a central writes to the control characteristic.

The value is encoded according to --type; it may be omitted for controls that
take no value.

Example:
  pawsd envelope system activate solid
  pawsd envelope solid mode 2 --type int32
  pawsd envelope solid color ff8000 --type hex`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runEnvelope,
}

var envelopeType string

func init() {
	envelopeCmd.Flags().StringVarP(&envelopeType, "type", "t", "string", "Value type (int32, float64, bool, string, hex)")
}

// encodeValue converts a command-line value into control value bytes.
func encodeValue(typ, s string) ([]byte, error) {
	switch typ {
	case "int32":
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid int32 %q: %w", s, err)
		}
		return protocol.EncodeInt32(int32(v)), nil
	case "float64":
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float64 %q: %w", s, err)
		}
		return protocol.EncodeFloat64(v), nil
	case "bool":
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q: %w", s, err)
		}
		return protocol.EncodeBool(v), nil
	case "string":
		return protocol.EncodeString(s), nil
	case "hex":
		v, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", s, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value type %q (must be int32, float64, bool, string, or hex)", typ)
	}
}

func runEnvelope(cmd *cobra.Command, args []string) error {
	var value []byte
	if len(args) == 3 {
		var err error
		if value, err = encodeValue(envelopeType, args[2]); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	b, err := protocol.EncodeCommand(protocol.SceneCommand{SceneID: args[0], ControlID: args[1], Value: value})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
	return err
}
