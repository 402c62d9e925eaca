package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skald-audio/capture-service/internal/codec"
	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/segment"
	"github.com/skald-audio/capture-service/internal/transcode"
)

// closedQueueSize buffers finished segments between the decode worker
// and the encode/upload pipeline.
const closedQueueSize = 16

// frameItem is one Opus frame tagged with its arrival offset relative
// to the session start.
type frameItem struct {
	at   time.Duration
	opus []byte
}

// SpeakerTrack owns the full pipeline for one speaker: decode,
// segment, encode and upload. Two goroutines run per track. The
// decode worker consumes the frame queue and feeds the segmenter; the
// pipeline worker encodes closed segments and ships them, so a slow
// encode or upload never stalls decoding.
type SpeakerTrack struct {
	SpeakerID   string
	DisplayName string

	session   *Session
	log       *slog.Logger
	decoder   codec.Decoder
	segmenter *segment.Segmenter

	frames chan frameItem
	closed chan *segment.Segment

	shutdownOnce sync.Once

	// Counters and outcomes guarded by mu.
	framesProcessed uint64
	decodeErrors    uint64
	encodeFailures  uint64
	uploaded        []platform.UploadedSegment
	retained        []LocalSegment

	mu sync.Mutex
}

func newSpeakerTrack(s *Session, speakerID, displayName string, decoder codec.Decoder) *SpeakerTrack {
	return &SpeakerTrack{
		SpeakerID:   speakerID,
		DisplayName: displayName,
		session:     s,
		log: s.log.With(
			slog.String("speaker_id", speakerID),
			slog.String("display_name", displayName),
		),
		decoder: decoder,
		segmenter: segment.NewSegmenter(segment.Config{
			SilenceThreshold:   s.manager.config.SilenceThreshold,
			MinSegmentDuration: s.manager.config.MinSegmentDuration,
		}),
		frames: make(chan frameItem, s.manager.config.QueueSize),
		closed: make(chan *segment.Segment, closedQueueSize),
	}
}

// start launches both track goroutines. The session's trackWG must
// already account for them.
func (t *SpeakerTrack) start() {
	go t.run()
	go t.pipeline()
}

// enqueue hands a frame to the decode worker without blocking. It
// reports false when the queue is full and the frame was dropped.
func (t *SpeakerTrack) enqueue(at time.Duration, opus []byte) bool {
	select {
	case t.frames <- frameItem{at: at, opus: opus}:
		return true
	default:
		return false
	}
}

// shutdown closes frame intake. Safe to call more than once.
func (t *SpeakerTrack) shutdown() {
	t.shutdownOnce.Do(func() {
		close(t.frames)
	})
}

// run decodes and segments queued frames until intake closes, then
// flushes the open segment through the pipeline.
func (t *SpeakerTrack) run() {
	defer t.session.trackWG.Done()
	defer close(t.closed)

	for item := range t.frames {
		t.processFrame(item)
	}

	if seg := t.segmenter.ForceClose(); seg != nil {
		t.dispatchSegment(seg)
	}
}

func (t *SpeakerTrack) processFrame(item frameItem) {
	pcm, err := t.decoder.Decode(item.opus)
	if err != nil {
		t.mu.Lock()
		t.decodeErrors++
		errs := t.decodeErrors
		t.mu.Unlock()

		if t.session.manager.metrics != nil {
			t.session.manager.metrics.RecordDecodeError()
		}
		t.log.Warn("Opus decode failed, skipping frame",
			slog.Uint64("decode_errors", errs),
			slog.String("error", err.Error()),
		)
		return
	}

	t.mu.Lock()
	t.framesProcessed++
	t.mu.Unlock()

	if seg := t.segmenter.ProcessFrame(item.at, pcm); seg != nil {
		t.dispatchSegment(seg)
	}
}

// dispatchSegment routes a finished segment to the encode pipeline.
// Discarded segments only update counters. The send blocks when the
// pipeline falls behind, which backs pressure up to the frame queue.
func (t *SpeakerTrack) dispatchSegment(seg *segment.Segment) {
	m := t.session.manager.metrics

	if seg.Discarded {
		if m != nil {
			m.RecordSegmentDiscarded()
		}
		t.log.Debug("Segment below minimum duration, discarded",
			slog.Duration("duration", seg.Duration),
		)
		return
	}

	if m != nil {
		m.RecordSegmentClosed(seg.Duration.Seconds(), int64(seg.ByteSize))
	}
	t.log.Debug("Segment closed",
		slog.Int("segment_index", seg.Index),
		slog.Duration("duration", seg.Duration),
		slog.Int("pcm_bytes", seg.ByteSize),
	)

	t.closed <- seg
}

// pipeline encodes and uploads finished segments in index order.
func (t *SpeakerTrack) pipeline() {
	defer t.session.trackWG.Done()

	for seg := range t.closed {
		t.handleClosedSegment(seg)
	}
}

func (t *SpeakerTrack) handleClosedSegment(seg *segment.Segment) {
	cfg := t.session.manager.config
	m := t.session.manager.metrics
	format := cfg.Encoder.Format()

	path := transcode.SegmentPath(cfg.RecordingsRoot, t.session.ID, t.DisplayName, t.SpeakerID, seg.Index, format)

	encodeStart := time.Now()
	size, err := cfg.Encoder.StreamEncode(t.session.ctx, seg.Frames, path)
	if err != nil {
		t.log.Warn("Streaming encode failed, retrying buffered",
			slog.Int("segment_index", seg.Index),
			slog.String("error", err.Error()),
		)
		size, err = cfg.Encoder.Encode(t.session.ctx, seg.Frames, path)
	}
	if err != nil {
		t.mu.Lock()
		t.encodeFailures++
		t.mu.Unlock()

		if m != nil {
			m.RecordEncodeFailure()
		}
		t.log.Error("Segment encode failed, audio lost",
			slog.Int("segment_index", seg.Index),
			slog.Duration("duration", seg.Duration),
			slog.String("error", err.Error()),
		)
		return
	}
	if m != nil {
		m.RecordEncode(time.Since(encodeStart).Seconds())
	}

	// Release the PCM as soon as the encoded file exists.
	seg.Frames = nil

	recordingID := t.session.currentRecordingID()
	if recordingID == "" {
		t.retain(seg, path, size)
		return
	}

	if err := t.uploadSegment(recordingID, seg, path, size); err != nil {
		t.log.Error("Segment upload failed, keeping local file",
			slog.Int("segment_index", seg.Index),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		t.retain(seg, path, size)
	}
}

// uploadSegment requests an upload slot, ships the file and removes
// the local copy once the platform holds the bytes.
func (t *SpeakerTrack) uploadSegment(recordingID string, seg *segment.Segment, path string, size int64) error {
	ctx := t.session.ctx
	api := t.session.manager.config.Platform
	contentType := t.session.manager.config.Encoder.Format().ContentType()

	slot, err := api.SegmentUploadURL(ctx, recordingID, platform.SegmentSlotRequest{
		SpeakerID:   t.SpeakerID,
		SpeakerName: t.DisplayName,
		Index:       seg.Index,
		StartMs:     seg.Start.Milliseconds(),
		Duration:    seg.Duration.Seconds(),
		Size:        size,
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("requesting upload slot: %w", err)
	}
	if slot == nil || slot.UploadURL == "" {
		return fmt.Errorf("platform returned no upload URL for segment %d", seg.Index)
	}

	if err := api.UploadSegment(ctx, slot, path, contentType); err != nil {
		return fmt.Errorf("uploading segment: %w", err)
	}

	t.mu.Lock()
	t.uploaded = append(t.uploaded, platform.UploadedSegment{
		SpeakerID:   t.SpeakerID,
		SpeakerName: t.DisplayName,
		Index:       seg.Index,
		BlobPath:    slot.BlobPath,
		StartMs:     seg.Start.Milliseconds(),
		Duration:    seg.Duration.Seconds(),
		Size:        size,
	})
	t.mu.Unlock()

	if err := os.Remove(path); err != nil {
		t.log.Warn("Failed to remove uploaded segment file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	t.log.Debug("Segment uploaded",
		slog.Int("segment_index", seg.Index),
		slog.String("blob_path", slot.BlobPath),
		slog.Int64("size_bytes", size),
	)
	return nil
}

func (t *SpeakerTrack) retain(seg *segment.Segment, path string, size int64) {
	t.mu.Lock()
	t.retained = append(t.retained, LocalSegment{
		Index:    seg.Index,
		Path:     path,
		Start:    seg.Start,
		Duration: seg.Duration,
		Size:     size,
	})
	t.mu.Unlock()
}

// results returns what this track uploaded and what stayed on disk.
// Call only after both workers have finished.
func (t *SpeakerTrack) results() ([]platform.UploadedSegment, []LocalSegment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	uploaded := make([]platform.UploadedSegment, len(t.uploaded))
	copy(uploaded, t.uploaded)
	retained := make([]LocalSegment, len(t.retained))
	copy(retained, t.retained)
	return uploaded, retained
}

func (t *SpeakerTrack) info() SpeakerInfo {
	stats := t.segmenter.GetStats()

	t.mu.Lock()
	defer t.mu.Unlock()

	return SpeakerInfo{
		SpeakerID:         t.SpeakerID,
		DisplayName:       t.DisplayName,
		FramesProcessed:   t.framesProcessed,
		DecodeErrors:      t.decodeErrors,
		EncodeFailures:    t.encodeFailures,
		SegmentsClosed:    stats.SegmentsClosed,
		SegmentsDiscarded: stats.SegmentsDiscarded,
		SegmentsUploaded:  len(t.uploaded),
		SegmentsRetained:  len(t.retained),
	}
}
