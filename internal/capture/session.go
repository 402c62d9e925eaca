package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/protocol"
	"github.com/skald-audio/capture-service/internal/transcode"
)

// liveInitTimeout bounds the background registration call so a slow
// platform cannot pin the init goroutine for the whole session.
const liveInitTimeout = 60 * time.Second

// rosterEntry holds what the gateway has told us about a speaker.
type rosterEntry struct {
	displayName string
	bot         bool
}

// Session captures a single voice channel. It consumes the gateway
// message stream, maintains one SpeakerTrack per participant, and on
// stop drains every track before finalizing the recording remotely.
type Session struct {
	ID        string
	ChannelID string
	GuildID   string
	StartTime time.Time

	initiatedBy string

	manager *Manager
	source  VoiceSource
	log     *slog.Logger

	// Remote recording state, set by the background registration.
	recordingID string
	mode        Mode

	roster  map[string]rosterEntry
	ignored map[string]struct{}
	tracks  map[string]*SpeakerTrack

	lastActivity  time.Time
	framesDropped uint64
	stopping      bool

	// Processing control
	ctx       context.Context
	cancel    context.CancelFunc
	consumeWG sync.WaitGroup
	initWG    sync.WaitGroup
	trackWG   sync.WaitGroup

	mu sync.RWMutex
}

func newSession(m *Manager, req StartRequest, source VoiceSource) *Session {
	ctx, cancel := context.WithCancel(m.ctx)
	now := time.Now()
	id := uuid.NewString()

	return &Session{
		ID:          id,
		ChannelID:   req.ChannelID,
		GuildID:     req.GuildID,
		StartTime:   now,
		initiatedBy: req.InitiatedBy,
		manager:     m,
		source:      source,
		log: m.logger.With(
			slog.String("session_id", id),
			slog.String("channel_id", req.ChannelID),
		),
		mode:         ModeBatch,
		roster:       make(map[string]rosterEntry),
		ignored:      make(map[string]struct{}),
		tracks:       make(map[string]*SpeakerTrack),
		lastActivity: now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// start launches the gateway consumer and the background live
// registration. The session records in batch mode until the
// registration succeeds.
func (s *Session) start() {
	s.consumeWG.Add(1)
	go s.consumeLoop()

	s.initWG.Add(1)
	go s.registerLiveRecording()
}

// consumeLoop drains the gateway message stream until it closes.
func (s *Session) consumeLoop() {
	defer s.consumeWG.Done()

	for msg := range s.source.Messages() {
		s.touch()

		switch msg.Type {
		case protocol.MsgTypeSpeaking:
			s.handleSpeaking(msg.Speaking)
		case protocol.MsgTypeAudio:
			s.handleAudio(msg.Audio)
		}
	}

	s.log.Debug("Gateway message stream ended")
}

func (s *Session) handleSpeaking(ev *protocol.SpeakingEvent) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	_, known := s.roster[ev.SpeakerID]
	s.roster[ev.SpeakerID] = rosterEntry{displayName: ev.DisplayName, bot: ev.Bot}
	s.mu.Unlock()

	if !known {
		s.log.Info("Speaker announced",
			slog.String("speaker_id", ev.SpeakerID),
			slog.String("display_name", ev.DisplayName),
			slog.Bool("bot", ev.Bot),
		)
	}
}

func (s *Session) handleAudio(frame *protocol.AudioFrame) {
	if frame == nil {
		return
	}

	track, ok := s.trackFor(frame.SpeakerID)
	if !ok {
		return
	}

	at := time.Since(s.StartTime)
	if !track.enqueue(at, frame.Opus) {
		s.mu.Lock()
		s.framesDropped++
		s.mu.Unlock()

		if s.manager.metrics != nil {
			s.manager.metrics.RecordFrameDropped()
		}
		s.log.Warn("Track queue full, dropping frame",
			slog.String("speaker_id", frame.SpeakerID),
			slog.Uint64("sequence", uint64(frame.Sequence)),
		)
	}
}

// trackFor returns the track for a speaker, creating it on the first
// audio frame. Bots are skipped unless the session is configured to
// include them.
func (s *Session) trackFor(speakerID string) (*SpeakerTrack, bool) {
	s.mu.RLock()
	track, exists := s.tracks[speakerID]
	s.mu.RUnlock()

	if exists {
		return track, true
	}
	return s.createTrack(speakerID)
}

func (s *Session) createTrack(speakerID string) (*SpeakerTrack, bool) {
	s.mu.Lock()

	if track, exists := s.tracks[speakerID]; exists {
		s.mu.Unlock()
		return track, true
	}
	if s.stopping {
		s.mu.Unlock()
		return nil, false
	}

	entry, known := s.roster[speakerID]
	if entry.bot && !s.manager.config.IncludeBots {
		_, seen := s.ignored[speakerID]
		s.ignored[speakerID] = struct{}{}
		s.mu.Unlock()

		if !seen {
			s.log.Info("Ignoring bot speaker",
				slog.String("speaker_id", speakerID),
				slog.String("display_name", entry.displayName),
			)
		}
		return nil, false
	}

	displayName := entry.displayName
	if !known || displayName == "" {
		displayName = speakerID
	}

	decoder, err := s.manager.decoderFactory()()
	if err != nil {
		s.mu.Unlock()
		s.log.Error("Failed to create decoder for speaker",
			slog.String("speaker_id", speakerID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	track := newSpeakerTrack(s, speakerID, displayName, decoder)
	s.tracks[speakerID] = track
	trackCount := len(s.tracks)
	s.trackWG.Add(2)
	s.mu.Unlock()

	track.start()

	if s.manager.metrics != nil {
		s.manager.metrics.RecordSpeakerTrackCreated()
		s.manager.metrics.SetActiveSpeakerTracks(s.manager.countActiveTracks())
	}

	s.log.Info("Speaker track created",
		slog.String("speaker_id", speakerID),
		slog.String("display_name", displayName),
		slog.Int("session_tracks", trackCount),
	)

	return track, true
}

// registerLiveRecording asks the platform for a live recording slot.
// Failure is not fatal: the session keeps recording locally and the
// segments are exported as a batch on stop.
func (s *Session) registerLiveRecording() {
	defer s.initWG.Done()

	ctx, cancel := context.WithTimeout(s.ctx, liveInitTimeout)
	defer cancel()

	resp, err := s.manager.config.Platform.LiveInit(ctx, platform.LiveInitRequest{
		ChannelID:        s.ChannelID,
		GuildID:          s.GuildID,
		SessionStartTime: s.StartTime,
		Format:           string(s.manager.config.Encoder.Format()),
		InitiatedBy:      s.initiatedBy,
	})
	if err == nil && resp.RecordingID == "" {
		err = fmt.Errorf("platform returned empty recording ID")
	}
	if err != nil {
		if s.manager.metrics != nil {
			s.manager.metrics.RecordLiveInitFallback()
		}
		s.log.Warn("Live registration failed, continuing in batch mode",
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	if s.stopping {
		// Too late, stop already snapshotted the mode.
		s.mu.Unlock()
		return
	}
	s.recordingID = resp.RecordingID
	s.mode = ModeStreaming
	s.mu.Unlock()

	s.log.Info("Live recording registered",
		slog.String("recording_id", resp.RecordingID),
	)
}

// stop force-closes all tracks, waits for the pipelines to drain and
// settles the recording remotely. It always returns a result, even
// when parts of the teardown fail.
func (s *Session) stop(ctx context.Context, opts StopOptions) *StopResult {
	s.mu.Lock()
	s.stopping = true
	mode := s.mode
	recordingID := s.recordingID
	tracks := make([]*SpeakerTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.mu.Unlock()

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].SpeakerID < tracks[j].SpeakerID
	})

	s.log.Info("Stopping capture session",
		slog.Bool("save", opts.Save),
		slog.Bool("transcribe", opts.Transcribe),
		slog.Int("tracks", len(tracks)),
	)

	// Leave the channel first. The consume loop drains whatever the
	// gateway already delivered and exits when its stream closes.
	if err := s.source.Close(); err != nil {
		s.log.Warn("Error closing gateway connection",
			slog.String("error", err.Error()),
		)
	}
	s.consumeWG.Wait()

	// Close ingestion on every track. The workers flush their open
	// segments and the pipelines finish encoding and uploading.
	for _, track := range tracks {
		track.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.trackWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.manager.config.StopTimeout):
		s.log.Error("Timed out waiting for track pipelines, aborting",
			slog.Duration("stop_timeout", s.manager.config.StopTimeout),
		)
		s.cancel()
		<-done
	}

	s.cancel()
	s.initWG.Wait()

	endTime := time.Now()
	duration := endTime.Sub(s.StartTime)
	uploaded, retained, totalSize := collectResults(tracks)

	result := &StopResult{
		SessionID:        s.ID,
		ChannelID:        s.ChannelID,
		Mode:             mode,
		RecordingID:      recordingID,
		Duration:         duration,
		ParticipantCount: len(tracks),
		SegmentsUploaded: len(uploaded),
		SegmentsRetained: countRetained(retained),
		TotalSize:        totalSize,
	}

	sessionDir := s.dir()

	if !opts.Save {
		if err := os.RemoveAll(sessionDir); err != nil {
			s.log.Warn("Failed to remove session directory",
				slog.String("dir", sessionDir),
				slog.String("error", err.Error()),
			)
		} else {
			result.FullyUploaded = true
		}
		s.log.Info("Session discarded without saving",
			slog.Int("segments_dropped", len(uploaded)+result.SegmentsRetained),
		)
		s.updateTrackGauge()
		return result
	}

	manifest := s.buildManifest(sessionDir, endTime, mode, recordingID, opts, uploaded, retained, totalSize)
	if err := s.manager.config.Exporter.WriteManifest(sessionDir, manifest); err != nil {
		s.log.Error("Failed to write session manifest",
			slog.String("error", err.Error()),
		)
	}

	remoteOK := true

	if recordingID != "" {
		summary, err := s.manager.config.Platform.Finalize(ctx, recordingID, platform.FinalizeRequest{
			SessionEndTime:   endTime,
			Duration:         duration.Seconds(),
			TotalSize:        totalSize,
			ParticipantCount: len(tracks),
			AutoTranscribe:   opts.Transcribe,
			Segments:         uploaded,
		})
		if err != nil {
			remoteOK = false
			s.log.Error("Failed to finalize recording",
				slog.String("recording_id", recordingID),
				slog.String("error", err.Error()),
			)
		} else {
			if summary != nil && summary.ViewURL != "" {
				result.ViewURL = summary.ViewURL
			}
			s.log.Info("Recording finalized",
				slog.String("recording_id", recordingID),
				slog.Int("segments", len(uploaded)),
				slog.Float64("duration_seconds", duration.Seconds()),
			)
		}
	}

	if len(retained) > 0 {
		summary, err := s.manager.config.Exporter.ExportBatch(ctx, ExportRequest{
			SessionID:      s.ID,
			ChannelID:      s.ChannelID,
			GuildID:        s.GuildID,
			SessionDir:     sessionDir,
			StartTime:      s.StartTime,
			EndTime:        endTime,
			AutoTranscribe: opts.Transcribe,
			Speakers:       retained,
		})
		if err != nil {
			remoteOK = false
			s.log.Error("Batch export failed, keeping local files",
				slog.String("dir", sessionDir),
				slog.String("error", err.Error()),
			)
		} else {
			if s.manager.metrics != nil {
				s.manager.metrics.RecordBatchExport()
			}
			result.TrackCount = len(retained)
			if summary != nil {
				if result.RecordingID == "" {
					result.RecordingID = summary.RecordingID
				}
				if result.ViewURL == "" {
					result.ViewURL = summary.ViewURL
				}
			}
			s.log.Info("Batch export completed",
				slog.Int("tracks", len(retained)),
				slog.Int("segments", result.SegmentsRetained),
			)
		}
	}

	if remoteOK {
		if err := os.RemoveAll(sessionDir); err != nil {
			s.log.Warn("Failed to remove uploaded session directory",
				slog.String("dir", sessionDir),
				slog.String("error", err.Error()),
			)
			result.OutputDir = sessionDir
		} else {
			result.FullyUploaded = true
		}
	} else {
		result.OutputDir = sessionDir
	}

	s.updateTrackGauge()
	return result
}

// dir returns the local directory holding this session's files.
func (s *Session) dir() string {
	return transcode.SessionDir(s.manager.config.RecordingsRoot, s.ID)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActivityTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) currentRecordingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordingID
}

func (s *Session) trackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

func (s *Session) updateTrackGauge() {
	if s.manager.metrics != nil {
		s.manager.metrics.SetActiveSpeakerTracks(s.manager.countActiveTracks())
	}
}

// Info returns a point-in-time snapshot for monitoring endpoints.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	speakers := make([]SpeakerInfo, 0, len(s.tracks))
	for _, track := range s.tracks {
		speakers = append(speakers, track.info())
	}
	sort.Slice(speakers, func(i, j int) bool {
		return speakers[i].SpeakerID < speakers[j].SpeakerID
	})

	return SessionInfo{
		SessionID:        s.ID,
		ChannelID:        s.ChannelID,
		GuildID:          s.GuildID,
		Mode:             s.mode,
		RecordingID:      s.recordingID,
		StartTime:        s.StartTime,
		LastActivity:     s.lastActivity,
		Duration:         time.Since(s.StartTime),
		ParticipantCount: len(s.tracks),
		FramesDropped:    s.framesDropped,
		Speakers:         speakers,
	}
}

// collectResults merges per-track outcomes in stable speaker order.
func collectResults(tracks []*SpeakerTrack) ([]platform.UploadedSegment, []SpeakerExport, int64) {
	var uploaded []platform.UploadedSegment
	var retained []SpeakerExport
	var totalSize int64

	for _, track := range tracks {
		up, kept := track.results()

		uploaded = append(uploaded, up...)
		for _, seg := range up {
			totalSize += seg.Size
		}

		if len(kept) > 0 {
			retained = append(retained, SpeakerExport{
				SpeakerID:   track.SpeakerID,
				DisplayName: track.DisplayName,
				Segments:    kept,
			})
			for _, seg := range kept {
				totalSize += seg.Size
			}
		}
	}

	return uploaded, retained, totalSize
}

func countRetained(retained []SpeakerExport) int {
	total := 0
	for _, sp := range retained {
		total += len(sp.Segments)
	}
	return total
}

// buildManifest assembles the on-disk session manifest. Segment
// entries are ordered by absolute start time so the timeline can be
// reconstructed by reading top to bottom.
func (s *Session) buildManifest(sessionDir string, endTime time.Time, mode Mode, recordingID string,
	opts StopOptions, uploaded []platform.UploadedSegment, retained []SpeakerExport, totalSize int64) *Manifest {

	m := &Manifest{
		SessionID:        s.ID,
		ChannelID:        s.ChannelID,
		GuildID:          s.GuildID,
		RecordingID:      recordingID,
		Mode:             mode,
		Format:           string(s.manager.config.Encoder.Format()),
		StartTime:        s.StartTime,
		EndTime:          endTime,
		Duration:         endTime.Sub(s.StartTime).Seconds(),
		ParticipantCount: s.trackCount(),
		TotalSize:        totalSize,
		AutoTranscribe:   opts.Transcribe,
	}

	for _, seg := range uploaded {
		m.Segments = append(m.Segments, ManifestSegment{
			SpeakerID:   seg.SpeakerID,
			SpeakerName: seg.SpeakerName,
			Index:       seg.Index,
			StartMs:     seg.StartMs,
			Duration:    seg.Duration,
			Size:        seg.Size,
			Uploaded:    true,
			BlobPath:    seg.BlobPath,
		})
	}

	for _, sp := range retained {
		for _, seg := range sp.Segments {
			file, err := filepath.Rel(sessionDir, seg.Path)
			if err != nil {
				file = filepath.Base(seg.Path)
			}
			m.Segments = append(m.Segments, ManifestSegment{
				SpeakerID:   sp.SpeakerID,
				SpeakerName: sp.DisplayName,
				Index:       seg.Index,
				StartMs:     seg.Start.Milliseconds(),
				Duration:    seg.Duration.Seconds(),
				Size:        seg.Size,
				Uploaded:    false,
				File:        file,
			})
		}
	}

	sort.Slice(m.Segments, func(i, j int) bool {
		a, b := m.Segments[i], m.Segments[j]
		if a.StartMs != b.StartMs {
			return a.StartMs < b.StartMs
		}
		if a.SpeakerID != b.SpeakerID {
			return a.SpeakerID < b.SpeakerID
		}
		return a.Index < b.Index
	})

	return m
}
