package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failed platform call and decides the retry policy.
type ErrorKind int

const (
	// KindTransient covers server errors and network failures; retried.
	KindTransient ErrorKind = iota
	// KindClient covers request/validation errors; never retried.
	KindClient
	// KindDuplicate is a conflict with existing remote state; treated as
	// success because the platform already holds the data.
	KindDuplicate
	// KindCanceled means the caller's context ended.
	KindCanceled
)

// String returns a human-readable error kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindClient:
		return "client"
	case KindDuplicate:
		return "duplicate"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned HTTP %d: %s", e.Status, e.Body)
}

// Kind maps the HTTP status to its retry classification.
func (e *APIError) Kind() ErrorKind {
	switch {
	case e.Status == http.StatusConflict:
		return KindDuplicate
	case e.Status == http.StatusTooManyRequests:
		return KindTransient
	case e.Status >= 500:
		return KindTransient
	default:
		return KindClient
	}
}

// Classify determines the kind of any error returned by a platform call.
// Network failures and per-request timeouts count as transient; only an
// ended caller context counts as canceled.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransient
}

// LiveInitRequest registers a streaming-mode recording before any
// segment exists.
type LiveInitRequest struct {
	ChannelID        string    `json:"channelId"`
	GuildID          string    `json:"guildId,omitempty"`
	SessionStartTime time.Time `json:"sessionStartTime"`
	Format           string    `json:"format"`
	InitiatedBy      string    `json:"initiatedBy,omitempty"`
}

// LiveInitResponse carries the remote recording identifier that all
// per-segment calls reference.
type LiveInitResponse struct {
	RecordingID string `json:"recordingId"`
}

// SegmentSlotRequest asks the platform for an upload slot for one
// closed segment.
type SegmentSlotRequest struct {
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	Index       int     `json:"segmentIndex"`
	StartMs     int64   `json:"startMs"`
	Duration    float64 `json:"duration"`
	Size        int64   `json:"sizeBytes"`
	ContentType string  `json:"contentType"`
}

// SegmentSlot is the platform's answer to a slot request: a pre-signed
// destination URL plus the blob path to reference at finalize time.
type SegmentSlot struct {
	UploadURL string `json:"uploadUrl"`
	BlobPath  string `json:"blobPath"`
}

// UploadedSegment records one confirmed segment upload for the
// finalize call.
type UploadedSegment struct {
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	Index       int     `json:"segmentIndex"`
	BlobPath    string  `json:"blobPath"`
	StartMs     int64   `json:"startMs"`
	Duration    float64 `json:"duration"`
	Size        int64   `json:"sizeBytes"`
}

// FinalizeRequest closes a streaming-mode recording.
type FinalizeRequest struct {
	SessionEndTime   time.Time         `json:"sessionEndTime"`
	Duration         float64           `json:"duration"`
	TotalSize        int64             `json:"totalSize"`
	ParticipantCount int               `json:"participantCount"`
	AutoTranscribe   bool              `json:"autoTranscribe"`
	Segments         []UploadedSegment `json:"segments"`
}

// TrackFile is one merged per-speaker audio file for the batch upload.
type TrackFile struct {
	SpeakerID   string
	SpeakerName string
	FileName    string
	Path        string
	ContentType string
	Duration    float64
	Size        int64
}

// BatchRequest uploads a whole session in one multipart call, used when
// streaming mode was unavailable or left retained segments behind.
type BatchRequest struct {
	ChannelID        string
	GuildID          string
	SessionStartTime time.Time
	SessionEndTime   time.Time
	Duration         float64
	Format           string
	AutoTranscribe   bool
	Tracks           []TrackFile
}

// RecordingSummary is the platform's view of a completed recording,
// returned by finalize and batch uploads.
type RecordingSummary struct {
	RecordingID  string            `json:"recordingId"`
	Duration     float64           `json:"duration,omitempty"`
	TotalSize    int64             `json:"totalSize,omitempty"`
	DownloadURLs map[string]string `json:"downloadUrls,omitempty"`
	ViewURL      string            `json:"viewUrl,omitempty"`
}

// batchMetadata is the JSON part of the multipart batch request.
type batchMetadata struct {
	ChannelID        string      `json:"channelId"`
	GuildID          string      `json:"guildId,omitempty"`
	SessionStartTime time.Time   `json:"sessionStartTime"`
	SessionEndTime   time.Time   `json:"sessionEndTime"`
	Duration         float64     `json:"duration"`
	Format           string      `json:"format"`
	AutoTranscribe   bool        `json:"autoTranscribe"`
	Tracks           []trackMeta `json:"tracks"`
}

// trackMeta links a file part to its speaker.
type trackMeta struct {
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	FileName    string  `json:"fileName"`
	Duration    float64 `json:"duration,omitempty"`
	Size        int64   `json:"sizeBytes,omitempty"`
}
