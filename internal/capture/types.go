package capture

import (
	"context"
	"time"

	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/protocol"
	"github.com/skald-audio/capture-service/internal/transcode"
)

// Mode describes how a session delivers segments to the platform.
type Mode string

const (
	// ModeStreaming uploads each segment as it closes, against a live
	// remote recording.
	ModeStreaming Mode = "streaming"
	// ModeBatch retains segments locally and exports them together at
	// session stop. Every session starts here until live registration
	// succeeds.
	ModeBatch Mode = "batch"
)

// VoiceSource is one live channel subscription delivering parsed
// gateway messages. The message channel closes when the source ends.
type VoiceSource interface {
	Messages() <-chan protocol.Message
	Close() error
}

// Dialer joins voice channels.
type Dialer interface {
	Join(ctx context.Context, channelID string) (VoiceSource, error)
}

// PlatformAPI is the remote recording platform surface the pipeline
// uses.
type PlatformAPI interface {
	LiveInit(ctx context.Context, req platform.LiveInitRequest) (*platform.LiveInitResponse, error)
	SegmentUploadURL(ctx context.Context, recordingID string, req platform.SegmentSlotRequest) (*platform.SegmentSlot, error)
	UploadSegment(ctx context.Context, slot *platform.SegmentSlot, filePath, contentType string) error
	Finalize(ctx context.Context, recordingID string, req platform.FinalizeRequest) (*platform.RecordingSummary, error)
	BatchUpload(ctx context.Context, req platform.BatchRequest) (*platform.RecordingSummary, error)
}

// Encoder turns a closed segment's PCM frames into an encoded file.
type Encoder interface {
	StreamEncode(ctx context.Context, frames [][]byte, outPath string) (int64, error)
	Encode(ctx context.Context, frames [][]byte, outPath string) (int64, error)
	Format() transcode.Format
}

// Exporter writes session manifests and runs the batch fallback.
type Exporter interface {
	WriteManifest(sessionDir string, m *Manifest) error
	ExportBatch(ctx context.Context, req ExportRequest) (*platform.RecordingSummary, error)
}

// StartRequest asks the manager to begin capturing a channel.
type StartRequest struct {
	ChannelID   string `json:"channel_id"`
	GuildID     string `json:"guild_id,omitempty"`
	InitiatedBy string `json:"initiated_by,omitempty"`
}

// StopOptions controls what happens to captured audio at session stop.
type StopOptions struct {
	// Save false discards all local audio and skips every remote call.
	Save bool `json:"save"`
	// Transcribe is forwarded to the platform as recording metadata.
	Transcribe bool `json:"transcribe"`
}

// StopResult summarizes a stopped session for the command layer.
type StopResult struct {
	SessionID        string        `json:"session_id"`
	ChannelID        string        `json:"channel_id"`
	Mode             Mode          `json:"mode"`
	RecordingID      string        `json:"recording_id,omitempty"`
	Duration         time.Duration `json:"duration"`
	ParticipantCount int           `json:"participant_count"`
	SegmentsUploaded int           `json:"segments_uploaded"`
	SegmentsRetained int           `json:"segments_retained"`
	TotalSize        int64         `json:"total_size_bytes"`

	// Batch export results, set when the fallback ran.
	OutputDir  string `json:"output_dir,omitempty"`
	TrackCount int    `json:"track_count,omitempty"`
	ViewURL    string `json:"view_url,omitempty"`

	// FullyUploaded means nothing is left on local disk.
	FullyUploaded bool `json:"fully_uploaded"`
}

// SessionInfo represents session state for monitoring and APIs
type SessionInfo struct {
	SessionID        string        `json:"session_id"`
	ChannelID        string        `json:"channel_id"`
	GuildID          string        `json:"guild_id,omitempty"`
	Mode             Mode          `json:"mode"`
	RecordingID      string        `json:"recording_id,omitempty"`
	StartTime        time.Time     `json:"start_time"`
	LastActivity     time.Time     `json:"last_activity"`
	Duration         time.Duration `json:"duration"`
	ParticipantCount int           `json:"participant_count"`
	FramesDropped    uint64        `json:"frames_dropped"`
	Speakers         []SpeakerInfo `json:"speakers"`
}

// SpeakerInfo represents per-speaker pipeline state for monitoring
type SpeakerInfo struct {
	SpeakerID         string `json:"speaker_id"`
	DisplayName       string `json:"display_name"`
	FramesProcessed   uint64 `json:"frames_processed"`
	DecodeErrors      uint64 `json:"decode_errors"`
	EncodeFailures    uint64 `json:"encode_failures"`
	SegmentsClosed    uint64 `json:"segments_closed"`
	SegmentsDiscarded uint64 `json:"segments_discarded"`
	SegmentsUploaded  int    `json:"segments_uploaded"`
	SegmentsRetained  int    `json:"segments_retained"`
}

// LocalSegment is one encoded segment file on local disk.
type LocalSegment struct {
	Index    int
	Path     string
	Start    time.Duration
	Duration time.Duration
	Size     int64
}

// SpeakerExport groups one speaker's retained segments for the batch
// fallback.
type SpeakerExport struct {
	SpeakerID   string
	DisplayName string
	Segments    []LocalSegment
}

// ExportRequest carries everything the batch exporter needs for one
// session.
type ExportRequest struct {
	SessionID      string
	ChannelID      string
	GuildID        string
	SessionDir     string
	StartTime      time.Time
	EndTime        time.Time
	AutoTranscribe bool
	Speakers       []SpeakerExport
}

// Manifest is the session-level summary written to the session
// directory at stop.
type Manifest struct {
	SessionID        string            `json:"session_id"`
	ChannelID        string            `json:"channel_id"`
	GuildID          string            `json:"guild_id,omitempty"`
	RecordingID      string            `json:"recording_id,omitempty"`
	Mode             Mode              `json:"mode"`
	Format           string            `json:"format"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Duration         float64           `json:"duration_seconds"`
	ParticipantCount int               `json:"participant_count"`
	TotalSize        int64             `json:"total_size_bytes"`
	AutoTranscribe   bool              `json:"auto_transcribe"`
	Segments         []ManifestSegment `json:"segments"`
}

// ManifestSegment is one finished segment in the manifest, ordered by
// speaker and index.
type ManifestSegment struct {
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name"`
	Index       int     `json:"index"`
	StartMs     int64   `json:"start_ms"`
	Duration    float64 `json:"duration_seconds"`
	Size        int64   `json:"size_bytes"`
	Uploaded    bool    `json:"uploaded"`
	BlobPath    string  `json:"blob_path,omitempty"`
	File        string  `json:"file,omitempty"`
}
