package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/protocol"
	"github.com/skypro1111/headband-recorder/internal/recorder"
	"github.com/skypro1111/headband-recorder/internal/server"
)

var (
	replayOutput  string
	replaySensors []string
)

var replayCmd = &cobra.Command{
	Use:   "replay [capture-file]",
	Short: "Record a session from a capture log",
	Long: `Feed every frame of a capture log through the same decode and record
pipeline the relay uses, producing a complete session in the output
directory. Frames that fail to decode are logged and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sensors := cfg.Recording.SelectedSensors()
		if len(replaySensors) > 0 {
			var err error
			sensors, err = protocol.ParseSensorTypes(replaySensors)
			if err != nil {
				return err
			}
		}

		output := cfg.Recording.OutputDirectory
		if replayOutput != "" {
			output = replayOutput
		}

		files, err := replay(args[0], output, sensors)
		if err != nil {
			return err
		}

		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "output directory (overrides config)")
	replayCmd.Flags().StringSliceVarP(&replaySensors, "sensors", "s", nil, "sensors to record (overrides config)")
}

// replay records the frames of the capture at path into a new session
func replay(path, output string, sensors []protocol.SensorType) ([]string, error) {
	reader, err := capture.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	rec := recorder.NewRecorder(recorder.Config{OutputDirectory: output}, logger,
		recorder.WithExecutor(recorder.Inline),
	)
	defer rec.Close()

	if err := rec.StartRecording(sensors); err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}

	ingest := server.NewIngest(server.IngestConfig{DropInvalid: cfg.Recording.DropInvalid}, logger, nil, rec, nil)

	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rec.StopRecording()
			return nil, fmt.Errorf("failed to read capture: %w", err)
		}

		if _, err := ingest.Handle(record.Sensor, record.Payload, record.Time()); err != nil {
			logger.Debug("Skipping frame", slog.String("sensor", record.Sensor.String()), slog.String("error", err.Error()))
		}
	}

	files := rec.RecordedFiles()
	if err := rec.StopRecording(); err != nil {
		return files, fmt.Errorf("failed to finalize recording: %w", err)
	}

	stats := ingest.Statistics()
	logger.Info("Replay complete",
		slog.String("capture", path),
		slog.String("compression", reader.Compression().String()),
		slog.Uint64("frames", stats.FramesReceived),
		slog.Uint64("decoded", stats.FramesDecoded),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("invalid_readings", stats.InvalidReadings),
	)
	return files, nil
}
