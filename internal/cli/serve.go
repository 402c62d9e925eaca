package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skald-audio/capture-service/internal/capture"
	"github.com/skald-audio/capture-service/internal/codec"
	"github.com/skald-audio/capture-service/internal/config"
	"github.com/skald-audio/capture-service/internal/export"
	"github.com/skald-audio/capture-service/internal/gateway"
	"github.com/skald-audio/capture-service/internal/metrics"
	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/server"
	"github.com/skald-audio/capture-service/internal/transcode"
)

// bootstrap holds the collaborators shared by the service commands.
type bootstrap struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bridge   *transcode.Bridge
	platform *platform.Client
	exporter *export.Exporter
}

func newBootstrap(configPath string) (*bootstrap, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	format, err := transcode.ParseFormat(cfg.Capture.Format)
	if err != nil {
		return nil, err
	}
	quality, err := transcode.ParseQuality(cfg.Capture.Quality)
	if err != nil {
		return nil, err
	}

	bridge := transcode.NewBridge(format, quality)
	if err := bridge.CheckBinary(); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	m := metrics.NewMetrics()

	client, err := platform.NewClient(platform.Config{
		Endpoint:   cfg.Platform.Endpoint,
		APIKey:     cfg.Platform.APIKey,
		Timeout:    cfg.Platform.GetTimeoutDuration(),
		MaxRetries: cfg.Platform.MaxRetries,
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	exporter, err := export.NewExporter(bridge, client, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	return &bootstrap{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		bridge:   bridge,
		platform: client,
		exporter: exporter,
	}, nil
}

func NewServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	boot, err := newBootstrap(configPath)
	if err != nil {
		return err
	}
	logger := boot.logger
	cfg := boot.cfg

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("gateway_url", cfg.Gateway.URL),
		slog.String("platform_endpoint", cfg.Platform.Endpoint),
		slog.String("recordings_dir", cfg.Capture.RecordingsDir),
		slog.String("format", cfg.Capture.Format),
		slog.String("quality", cfg.Capture.Quality),
		slog.Int("silence_threshold_ms", cfg.Capture.SilenceThresholdMs),
		slog.Int("min_segment_duration_ms", cfg.Capture.MinSegmentDurationMs),
		slog.String("log_level", cfg.Logging.Level),
	)

	gw, err := gateway.NewClient(gateway.Config{
		URL:         cfg.Gateway.URL,
		Token:       cfg.Gateway.Token,
		DialTimeout: cfg.Gateway.GetDialTimeout(),
	}, logger, boot.metrics)
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	captureMgr, err := capture.NewManager(capture.ManagerConfig{
		RecordingsRoot:     cfg.Capture.RecordingsDir,
		SilenceThreshold:   cfg.Capture.GetSilenceThreshold(),
		MinSegmentDuration: cfg.Capture.GetMinSegmentDuration(),
		QueueSize:          cfg.Capture.QueueSize,
		StopTimeout:        cfg.Capture.GetStopTimeout(),
		IncludeBots:        cfg.Capture.IncludeBots,
		Dialer:             gatewayDialer{client: gw},
		Platform:           boot.platform,
		Encoder:            boot.bridge,
		Exporter:           boot.exporter,
		NewDecoder:         codec.NewOpus,
	}, logger, boot.metrics)
	if err != nil {
		return fmt.Errorf("failed to create capture manager: %w", err)
	}
	logger.Info("Capture manager initialized",
		slog.Duration("silence_threshold", cfg.Capture.GetSilenceThreshold()),
		slog.Duration("min_segment_duration", cfg.Capture.GetMinSegmentDuration()),
		slog.String("output_format", string(boot.bridge.Format())),
	)

	// Start control API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, captureMgr, boot.platform, boot.metrics)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop capture manager (saves every active session)
	captureMgr.Stop()

	if err := boot.platform.Close(); err != nil {
		logger.Error("Error closing platform client", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := boot.platform.GetStats()
	logger.Info("Final platform statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("uploaded_bytes", stats.UploadedBytes),
	)

	logger.Info("Service stopped")
	return nil
}
