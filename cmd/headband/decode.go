package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

var decodeValidate bool

var decodeCmd = &cobra.Command{
	Use:   "decode [capture-file]",
	Short: "Print the decoded frames of a capture log",
	Long: `Decode every frame of a capture log and print one JSON object per
line. Frames that fail to decode are reported on stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decodeCapture(args[0], cmd.OutOrStdout(), cmd.ErrOrStderr(), decodeValidate)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeValidate, "validate", false, "drop readings outside the sensor ranges")
}

// decodedFrame is one output line of the decode command
type decodedFrame struct {
	Sensor     protocol.SensorType `json:"sensor"`
	ReceivedAt string              `json:"received_at"`
	Frame      *protocol.Frame     `json:"frame"`
	Dropped    int                 `json:"dropped,omitempty"`
}

func decodeCapture(path string, out, errOut io.Writer, validate bool) error {
	reader, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	enc := json.NewEncoder(out)
	for i := 0; ; i++ {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}

		frame, err := record.Decode()
		if err != nil {
			fmt.Fprintf(errOut, "frame %d (%s): %v\n", i, record.Sensor, err)
			continue
		}

		line := decodedFrame{
			Sensor:     record.Sensor,
			ReceivedAt: record.Time().Format(time.RFC3339Nano),
			Frame:      frame,
		}
		if validate {
			line.Frame, line.Dropped = protocol.ValidateFrame(frame)
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
}
