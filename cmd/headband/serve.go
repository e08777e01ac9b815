package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/catalog"
	"github.com/skypro1111/headband-recorder/internal/metrics"
	"github.com/skypro1111/headband-recorder/internal/recorder"
	"github.com/skypro1111/headband-recorder/internal/server"
)

var serveRecord bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the frame relay and HTTP control API",
	Long: `Listen for headband notifications on the UDP relay and record them
while a session is active. Sessions are started and stopped through the
HTTP API, or immediately with --record.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveRecord, "record", false, "start a recording session with the configured sensors on startup")
}

// logDelegate reports session lifecycle events to the service log
type logDelegate struct {
	logger *slog.Logger
}

func (d logDelegate) RecordingStarted(sessionID string, at time.Time) {
	d.logger.Info("Session started",
		slog.String("session_id", sessionID),
		slog.Time("at", at),
	)
}

func (d logDelegate) RecordingStopped(sessionID string, at time.Time, files []string) {
	d.logger.Info("Session stopped",
		slog.String("session_id", sessionID),
		slog.Time("at", at),
		slog.Any("files", files),
	)
}

func (d logDelegate) RecordingFailed(sessionID string, err error) {
	d.logger.Warn("Session failure",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}

func runServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", cfgFile),
	)
	logger.Info("Configuration loaded",
		slog.String("udp_address", cfg.Server.Address()),
		slog.Int("workers", cfg.Server.Workers),
		slog.String("output_directory", cfg.Recording.OutputDirectory),
		slog.Any("sensors", cfg.Recording.Sensors),
		slog.Bool("drop_invalid", cfg.Recording.DropInvalid),
		slog.Bool("capture_enabled", cfg.Capture.Enabled),
		slog.Bool("catalog_enabled", cfg.Catalog.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	delegates := recorder.MultiDelegate{logDelegate{logger: logger}}

	var store *catalog.Store
	if cfg.Catalog.Enabled {
		var err error
		store, err = catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open session catalog: %w", err)
		}
		defer store.Close()
		delegates = append(delegates, catalog.NewTracker(store, logger))
		logger.Info("Session catalog opened", slog.String("path", cfg.Catalog.Path))
	}

	rec := recorder.NewRecorder(
		recorder.Config{OutputDirectory: cfg.Recording.OutputDirectory},
		logger,
		recorder.WithDelegate(delegates),
		recorder.WithMetrics(appMetrics),
	)

	var captureWriter *capture.Writer
	if cfg.Capture.Enabled {
		stamp := time.Now().Format("20060102_150405")
		w, path, err := capture.Create(cfg.Capture.Directory, stamp, cfg.Capture.GetCompression())
		if err != nil {
			rec.Close()
			return fmt.Errorf("failed to create capture log: %w", err)
		}
		captureWriter = w
		logger.Info("Capturing raw frames",
			slog.String("path", path),
			slog.String("compression", w.Compression().String()),
		)
	}

	ingest := server.NewIngest(
		server.IngestConfig{DropInvalid: cfg.Recording.DropInvalid},
		logger, appMetrics, rec, captureWriter,
	)
	go ingest.RunCaptureFlusher(ctx, cfg.Capture.GetFlushInterval())

	udpServer := server.NewUDPServer(&cfg.Server, logger, appMetrics, ingest)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.HTTPServerDeps{
			Recorder:       rec,
			Stats:          udpServer,
			Gatherer:       registry,
			DefaultSensors: cfg.Recording.SelectedSensors(),
		}
		if store != nil {
			deps.Catalog = store
		}
		httpServer = server.NewHTTPServer(&cfg.HTTP, logger, appMetrics, deps)
	}

	if err := udpServer.Start(); err != nil {
		rec.Close()
		closeCapture(captureWriter)
		return err
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			udpServer.Stop()
			rec.Close()
			closeCapture(captureWriter)
			return err
		}
	}

	if serveRecord || cfg.Recording.AutoStart {
		if err := rec.StartRecording(cfg.Recording.SelectedSensors()); err != nil {
			logger.Error("Failed to start recording", slog.String("error", err.Error()))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeout())
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Finalizes an active session and drains its notifications
	if err := rec.Close(); err != nil {
		logger.Error("Error finalizing recording", slog.String("error", err.Error()))
	}

	cancel()
	closeCapture(captureWriter)

	stats := udpServer.GetStatistics()
	logger.Info("Final relay statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
		slog.Uint64("frames_decoded", stats.FramesDecoded),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("frames_captured", stats.FramesCaptured),
	)

	logger.Info("Service stopped")
	return nil
}

func closeCapture(w *capture.Writer) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		logger.Error("Error closing capture log", slog.String("error", err.Error()))
	}
}
