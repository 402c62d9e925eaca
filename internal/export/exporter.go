// Package export implements the batch delivery path. It persists
// session manifests, merges retained per-speaker segments into
// continuous tracks and uploads whole sessions in one multipart call
// when streaming delivery was unavailable or incomplete.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/skald-audio/capture-service/internal/capture"
	"github.com/skald-audio/capture-service/internal/metrics"
	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/transcode"
)

// ManifestFileName is the manifest's file name inside a session
// directory.
const ManifestFileName = "manifest.json"

// Merger joins encoded segment files into one continuous track.
type Merger interface {
	MergeSegments(ctx context.Context, segmentPaths []string, outPath string) (int64, error)
	Format() transcode.Format
}

// BatchUploader ships a complete session to the platform.
type BatchUploader interface {
	BatchUpload(ctx context.Context, req platform.BatchRequest) (*platform.RecordingSummary, error)
}

// Exporter writes manifests and runs batch exports. Merged track
// files are left in place; the caller owns the session directory's
// lifecycle.
type Exporter struct {
	merger   Merger
	uploader BatchUploader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewExporter(merger Merger, uploader BatchUploader, logger *slog.Logger, m *metrics.Metrics) (*Exporter, error) {
	if merger == nil {
		return nil, fmt.Errorf("merger is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}

	return &Exporter{
		merger:   merger,
		uploader: uploader,
		logger:   logger.With(slog.String("component", "batch_exporter")),
		metrics:  m,
	}, nil
}

// WriteManifest persists the session manifest next to the segment
// files so an interrupted export can be retried later.
func (e *Exporter) WriteManifest(sessionDir string, m *capture.Manifest) error {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(sessionDir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	e.logger.Debug("Session manifest written",
		slog.String("path", path),
		slog.Int("segments", len(m.Segments)),
	)
	return nil
}

// LoadManifest reads a previously written session manifest.
func LoadManifest(sessionDir string) (*capture.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m capture.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// RequestFromManifest rebuilds an export request from a session
// directory left behind by a failed upload. Only segments the
// manifest marks as retained are included; segments the platform
// already holds are not shipped twice.
func RequestFromManifest(sessionDir string, m *capture.Manifest) (capture.ExportRequest, error) {
	speakers := make(map[string]*capture.SpeakerExport)
	var order []string

	for _, seg := range m.Segments {
		if seg.Uploaded {
			continue
		}

		path := filepath.Join(sessionDir, filepath.FromSlash(seg.File))
		if _, err := os.Stat(path); err != nil {
			return capture.ExportRequest{}, fmt.Errorf("segment file missing: %w", err)
		}

		sp, ok := speakers[seg.SpeakerID]
		if !ok {
			sp = &capture.SpeakerExport{SpeakerID: seg.SpeakerID, DisplayName: seg.SpeakerName}
			speakers[seg.SpeakerID] = sp
			order = append(order, seg.SpeakerID)
		}
		sp.Segments = append(sp.Segments, capture.LocalSegment{
			Index:    seg.Index,
			Path:     path,
			Start:    time.Duration(seg.StartMs) * time.Millisecond,
			Duration: time.Duration(seg.Duration * float64(time.Second)),
			Size:     seg.Size,
		})
	}

	if len(order) == 0 {
		return capture.ExportRequest{}, fmt.Errorf("manifest has no retained segments")
	}

	req := capture.ExportRequest{
		SessionID:      m.SessionID,
		ChannelID:      m.ChannelID,
		GuildID:        m.GuildID,
		SessionDir:     sessionDir,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		AutoTranscribe: m.AutoTranscribe,
	}
	for _, id := range order {
		req.Speakers = append(req.Speakers, *speakers[id])
	}
	return req, nil
}

// ExportBatch merges each speaker's retained segments into one track
// and uploads the session in a single call.
func (e *Exporter) ExportBatch(ctx context.Context, req capture.ExportRequest) (*platform.RecordingSummary, error) {
	if len(req.Speakers) == 0 {
		return nil, fmt.Errorf("nothing to export")
	}

	format := e.merger.Format()
	tracks := make([]platform.TrackFile, 0, len(req.Speakers))

	for _, sp := range req.Speakers {
		track, err := e.mergeTrack(ctx, sp, format)
		if err != nil {
			return nil, fmt.Errorf("failed to merge track for %s: %w", sp.SpeakerID, err)
		}
		tracks = append(tracks, track)
	}

	summary, err := e.uploader.BatchUpload(ctx, platform.BatchRequest{
		ChannelID:        req.ChannelID,
		GuildID:          req.GuildID,
		SessionStartTime: req.StartTime,
		SessionEndTime:   req.EndTime,
		Duration:         req.EndTime.Sub(req.StartTime).Seconds(),
		Format:           string(format),
		AutoTranscribe:   req.AutoTranscribe,
		Tracks:           tracks,
	})
	if err != nil {
		return nil, fmt.Errorf("batch upload failed: %w", err)
	}

	e.logger.Info("Batch export uploaded",
		slog.String("session_id", req.SessionID),
		slog.String("recording_id", summary.RecordingID),
		slog.Int("tracks", len(tracks)),
	)
	return summary, nil
}

// mergeTrack re-encodes a speaker's segments, in index order, into a
// single track file placed alongside the segments.
func (e *Exporter) mergeTrack(ctx context.Context, sp capture.SpeakerExport, format transcode.Format) (platform.TrackFile, error) {
	if len(sp.Segments) == 0 {
		return platform.TrackFile{}, fmt.Errorf("speaker has no segments")
	}

	segments := make([]capture.LocalSegment, len(sp.Segments))
	copy(segments, sp.Segments)
	sort.Slice(segments, func(i, j int) bool { return segments[i].Index < segments[j].Index })

	paths := make([]string, len(segments))
	var duration time.Duration
	for i, seg := range segments {
		paths[i] = seg.Path
		duration += seg.Duration
	}

	outPath := transcode.TrackFileIn(filepath.Dir(paths[0]), format)

	start := time.Now()
	size, err := e.merger.MergeSegments(ctx, paths, outPath)
	if err != nil {
		return platform.TrackFile{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordEncode(time.Since(start).Seconds())
	}

	e.logger.Debug("Speaker track merged",
		slog.String("speaker_id", sp.SpeakerID),
		slog.Int("segments", len(paths)),
		slog.Int64("size_bytes", size),
		slog.Float64("duration_seconds", duration.Seconds()),
	)

	return platform.TrackFile{
		SpeakerID:   sp.SpeakerID,
		SpeakerName: sp.DisplayName,
		FileName:    transcode.SpeakerDir(sp.DisplayName, sp.SpeakerID) + "." + format.Extension(),
		Path:        outPath,
		ContentType: format.ContentType(),
		Duration:    duration.Seconds(),
		Size:        size,
	}, nil
}
