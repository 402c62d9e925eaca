package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skald-audio/capture-service/internal/export"
)

func NewExportCmd(configPath *string) *cobra.Command {
	var (
		transcribe bool
		keep       bool
	)

	cmd := &cobra.Command{
		Use:   "export <session-dir>",
		Short: "Re-upload a retained session directory as a batch recording",
		Long: `Export reads the manifest of a session directory left behind by a failed
or offline stop, merges each speaker's retained segments into one track,
and uploads the session as a batch recording. The directory is removed
after a successful upload unless --keep is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(*configPath, args[0], transcribe, keep)
		},
	}

	cmd.Flags().BoolVar(&transcribe, "transcribe", false, "request transcription even if the session did not")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the local session directory after upload")
	return cmd
}

func runExport(configPath, sessionDir string, transcribe, keep bool) error {
	boot, err := newBootstrap(configPath)
	if err != nil {
		return err
	}
	logger := boot.logger

	manifest, err := export.LoadManifest(sessionDir)
	if err != nil {
		return fmt.Errorf("failed to load session manifest: %w", err)
	}

	req, err := export.RequestFromManifest(sessionDir, manifest)
	if err != nil {
		return err
	}
	if transcribe {
		req.AutoTranscribe = true
	}

	logger.Info("Exporting retained session",
		slog.String("session_id", manifest.SessionID),
		slog.String("channel_id", manifest.ChannelID),
		slog.Int("speakers", len(req.Speakers)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal, aborting export", slog.String("signal", sig.String()))
		cancel()
	}()

	summary, err := boot.exporter.ExportBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("export failed, session directory kept: %w", err)
	}

	if err := boot.platform.Close(); err != nil {
		logger.Error("Error closing platform client", slog.String("error", err.Error()))
	}

	if keep {
		logger.Info("Session directory kept",
			slog.String("dir", sessionDir),
			slog.String("recording_id", summary.RecordingID),
		)
		return nil
	}

	if err := os.RemoveAll(sessionDir); err != nil {
		logger.Error("Failed to remove session directory",
			slog.String("dir", sessionDir),
			slog.String("error", err.Error()),
		)
	}

	logger.Info("Session exported",
		slog.String("recording_id", summary.RecordingID),
		slog.String("view_url", summary.ViewURL),
	)
	return nil
}
