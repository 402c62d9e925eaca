package segment

import (
	"sync"
	"time"

	"github.com/skald-audio/capture-service/internal/audio"
)

// State represents the current state of the segmentation process
type State int

const (
	StateNoSegment State = iota
	StateAccumulating
)

// Segment is a closed run of speech from one speaker. All offsets are
// durations since the start of the capture session.
type Segment struct {
	Index    int           // per-speaker index, assigned to kept segments only (-1 when discarded)
	Start    time.Duration // arrival offset of the first frame
	End      time.Duration // Start + Duration
	Duration time.Duration // computed from accumulated PCM bytes, not wall span
	ByteSize int           // accumulated PCM bytes
	Frames   [][]byte      // decoded PCM frames in arrival order (nil when discarded)

	// Discarded marks a segment that fell below the minimum duration.
	// Discarded segments keep their metadata for logging but carry no
	// audio and consume no index.
	Discarded bool
}

// Config contains configuration for the segmentation process
type Config struct {
	SilenceThreshold   time.Duration // gap that closes the current segment
	MinSegmentDuration time.Duration // shorter segments are discarded
}

// Segmenter manages silence-gap segmentation for one speaker track.
type Segmenter struct {
	config Config
	state  State

	// Current accumulation
	frames    [][]byte
	byteSize  int
	start     time.Duration
	lastFrame time.Duration

	nextIndex int

	// Statistics
	segmentsClosed    uint64
	segmentsDiscarded uint64
	totalDuration     time.Duration

	mu sync.RWMutex
}

// Stats represents segmenter statistics
type Stats struct {
	State             string        `json:"state"`
	SegmentsClosed    uint64        `json:"segments_closed"`
	SegmentsDiscarded uint64        `json:"segments_discarded"`
	TotalDuration     time.Duration `json:"total_duration"`
	PendingBytes      int           `json:"pending_bytes"`
	AvgSegmentSeconds float64       `json:"avg_segment_duration_sec"`
}

// NewSegmenter creates a new segmenter
func NewSegmenter(config Config) *Segmenter {
	return &Segmenter{
		config: config,
		state:  StateNoSegment,
	}
}

// ProcessFrame feeds one decoded PCM frame that arrived at offset now.
// It returns a closed segment when the frame's arrival gap exceeds the
// silence threshold, and nil otherwise. The frame that reveals the gap
// becomes the first frame of the next segment. Empty frames are
// ignored.
func (s *Segmenter) ProcessFrame(now time.Duration, pcm []byte) *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}

	var closed *Segment

	switch s.state {
	case StateNoSegment:
		s.open(now)

	case StateAccumulating:
		if now-s.lastFrame > s.config.SilenceThreshold {
			closed = s.close()
			s.open(now)
		}
	}

	s.frames = append(s.frames, pcm)
	s.byteSize += len(pcm)
	s.lastFrame = now

	return closed
}

// ForceClose closes the current accumulation, if any. Used when the
// speaker track shuts down. The minimum-duration rule still applies.
func (s *Segmenter) ForceClose() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateNoSegment {
		return nil
	}

	return s.close()
}

// open starts a new accumulation whose first frame arrived at now.
func (s *Segmenter) open(now time.Duration) {
	s.state = StateAccumulating
	s.start = now
	s.lastFrame = now
}

// close finalizes the current accumulation and resets state.
func (s *Segmenter) close() *Segment {
	seg := &Segment{
		Index:    -1,
		Start:    s.start,
		Duration: audio.Duration(s.byteSize),
		ByteSize: s.byteSize,
	}
	seg.End = seg.Start + seg.Duration

	if seg.Duration >= s.config.MinSegmentDuration {
		seg.Index = s.nextIndex
		seg.Frames = s.frames
		s.nextIndex++
		s.segmentsClosed++
		s.totalDuration += seg.Duration
	} else {
		seg.Discarded = true
		s.segmentsDiscarded++
	}

	s.state = StateNoSegment
	s.frames = nil
	s.byteSize = 0
	s.start = 0
	s.lastFrame = 0

	return seg
}

// IsIdle returns whether no segment is currently accumulating
func (s *Segmenter) IsIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateNoSegment
}

// PendingDuration returns the audio duration accumulated so far in the
// open segment.
func (s *Segmenter) PendingDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return audio.Duration(s.byteSize)
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stateStr := "no_segment"
	if s.state == StateAccumulating {
		stateStr = "accumulating"
	}

	avgDuration := float64(0)
	if s.segmentsClosed > 0 {
		avgDuration = s.totalDuration.Seconds() / float64(s.segmentsClosed)
	}

	return Stats{
		State:             stateStr,
		SegmentsClosed:    s.segmentsClosed,
		SegmentsDiscarded: s.segmentsDiscarded,
		TotalDuration:     s.totalDuration,
		PendingBytes:      s.byteSize,
		AvgSegmentSeconds: avgDuration,
	}
}
