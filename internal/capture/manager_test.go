package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skald-audio/capture-service/internal/audio"
	"github.com/skald-audio/capture-service/internal/codec"
	"github.com/skald-audio/capture-service/internal/metrics"
	"github.com/skald-audio/capture-service/internal/platform"
	"github.com/skald-audio/capture-service/internal/protocol"
	"github.com/skald-audio/capture-service/internal/transcode"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource feeds scripted gateway messages into a session.
type fakeSource struct {
	messages  chan protocol.Message
	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{messages: make(chan protocol.Message, 256)}
}

func (f *fakeSource) Messages() <-chan protocol.Message { return f.messages }

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.messages) })
	return nil
}

func (f *fakeSource) speaking(id, name string, bot bool) {
	f.messages <- protocol.Message{
		Type:     protocol.MsgTypeSpeaking,
		Speaking: &protocol.SpeakingEvent{SpeakerID: id, DisplayName: name, Bot: bot},
	}
}

func (f *fakeSource) audio(id string, seq uint32, opus []byte) {
	f.messages <- protocol.Message{
		Type:  protocol.MsgTypeAudio,
		Audio: &protocol.AudioFrame{SpeakerID: id, Sequence: seq, Opus: opus},
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	sources map[string]*fakeSource
	joins   int
	err     error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sources: make(map[string]*fakeSource)}
}

func (d *fakeDialer) Join(ctx context.Context, channelID string) (VoiceSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	d.joins++
	source, ok := d.sources[channelID]
	if !ok {
		source = newFakeSource()
		d.sources[channelID] = source
	}
	return source, nil
}

func (d *fakeDialer) joinCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.joins
}

func (d *fakeDialer) sourceFor(channelID string) *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[channelID]
}

// fakePlatform records the calls a session makes against the platform
// API and can be told to fail specific operations.
type fakePlatform struct {
	mu sync.Mutex

	recordingID   string
	liveInitErr   error
	liveInitDelay time.Duration
	slotErr       error
	uploadErr     error
	finalizeErr   error

	liveInits     int
	slots         []platform.SegmentSlotRequest
	uploadedFiles []string
	finalized     *platform.FinalizeRequest
	finalizedID   string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{recordingID: "rec-123"}
}

func (p *fakePlatform) LiveInit(ctx context.Context, req platform.LiveInitRequest) (*platform.LiveInitResponse, error) {
	p.mu.Lock()
	p.liveInits++
	delay := p.liveInitDelay
	err := p.liveInitErr
	id := p.recordingID
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &platform.LiveInitResponse{RecordingID: id}, nil
}

func (p *fakePlatform) SegmentUploadURL(ctx context.Context, recordingID string, req platform.SegmentSlotRequest) (*platform.SegmentSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slotErr != nil {
		return nil, p.slotErr
	}
	p.slots = append(p.slots, req)
	return &platform.SegmentSlot{
		UploadURL: fmt.Sprintf("https://blob.example/%s/%d", req.SpeakerID, req.Index),
		BlobPath:  fmt.Sprintf("%s/%s/segment_%03d", recordingID, req.SpeakerID, req.Index),
	}, nil
}

func (p *fakePlatform) UploadSegment(ctx context.Context, slot *platform.SegmentSlot, filePath, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uploadErr != nil {
		return p.uploadErr
	}
	p.uploadedFiles = append(p.uploadedFiles, filePath)
	return nil
}

func (p *fakePlatform) Finalize(ctx context.Context, recordingID string, req platform.FinalizeRequest) (*platform.RecordingSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalizeErr != nil {
		return nil, p.finalizeErr
	}
	reqCopy := req
	p.finalized = &reqCopy
	p.finalizedID = recordingID
	return &platform.RecordingSummary{
		RecordingID: recordingID,
		ViewURL:     "https://app.example/recordings/" + recordingID,
	}, nil
}

func (p *fakePlatform) BatchUpload(ctx context.Context, req platform.BatchRequest) (*platform.RecordingSummary, error) {
	return nil, fmt.Errorf("sessions must upload batches through the exporter")
}

func (p *fakePlatform) liveInitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveInits
}

func (p *fakePlatform) slotRequests() []platform.SegmentSlotRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]platform.SegmentSlotRequest, len(p.slots))
	copy(out, p.slots)
	return out
}

func (p *fakePlatform) finalizedRequest() (*platform.FinalizeRequest, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized, p.finalizedID
}

func (p *fakePlatform) uploadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uploadedFiles)
}

// fakeEncoder concatenates the PCM frames into the target file, so
// the tests can verify paths and sizes without an ffmpeg binary.
type fakeEncoder struct {
	mu            sync.Mutex
	streamErr     error
	encodeErr     error
	streamCalls   int
	bufferedCalls int
}

func (e *fakeEncoder) writeOut(frames [][]byte, outPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	for _, frame := range frames {
		buf.Write(frame)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

func (e *fakeEncoder) StreamEncode(ctx context.Context, frames [][]byte, outPath string) (int64, error) {
	e.mu.Lock()
	e.streamCalls++
	err := e.streamErr
	e.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return e.writeOut(frames, outPath)
}

func (e *fakeEncoder) Encode(ctx context.Context, frames [][]byte, outPath string) (int64, error) {
	e.mu.Lock()
	e.bufferedCalls++
	err := e.encodeErr
	e.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return e.writeOut(frames, outPath)
}

func (e *fakeEncoder) Format() transcode.Format { return transcode.FormatOGG }

func (e *fakeEncoder) calls() (stream, buffered int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamCalls, e.bufferedCalls
}

type fakeExporter struct {
	mu          sync.Mutex
	manifestErr error
	batchErr    error
	manifests   []*Manifest
	batches     []ExportRequest
}

func (e *fakeExporter) WriteManifest(sessionDir string, m *Manifest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manifestErr != nil {
		return e.manifestErr
	}
	e.manifests = append(e.manifests, m)
	return nil
}

func (e *fakeExporter) ExportBatch(ctx context.Context, req ExportRequest) (*platform.RecordingSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.batchErr != nil {
		return nil, e.batchErr
	}
	e.batches = append(e.batches, req)
	return &platform.RecordingSummary{
		RecordingID: "batch-rec-1",
		ViewURL:     "https://app.example/recordings/batch-rec-1",
	}, nil
}

func (e *fakeExporter) batchRequests() []ExportRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExportRequest, len(e.batches))
	copy(out, e.batches)
	return out
}

func (e *fakeExporter) writtenManifests() []*Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Manifest, len(e.manifests))
	copy(out, e.manifests)
	return out
}

// fakeDecoder expands the first opus byte into a full PCM frame, so
// one queued frame contributes exactly 20ms of audio.
type fakeDecoder struct{}

func (fakeDecoder) Decode(opus []byte) ([]byte, error) {
	if len(opus) == 0 {
		return nil, fmt.Errorf("empty opus payload")
	}
	if opus[0] == 0xFF {
		return nil, fmt.Errorf("corrupt opus frame")
	}
	frame := make([]byte, audio.FrameSize)
	for i := range frame {
		frame[i] = opus[0]
	}
	return frame, nil
}

type harness struct {
	manager  *Manager
	dialer   *fakeDialer
	platform *fakePlatform
	encoder  *fakeEncoder
	exporter *fakeExporter
	root     string
}

func newHarness(t *testing.T, mutate func(*ManagerConfig)) *harness {
	t.Helper()

	h := &harness{
		dialer:   newFakeDialer(),
		platform: newFakePlatform(),
		encoder:  &fakeEncoder{},
		exporter: &fakeExporter{},
		root:     t.TempDir(),
	}

	config := ManagerConfig{
		RecordingsRoot:     h.root,
		SilenceThreshold:   50 * time.Millisecond,
		MinSegmentDuration: 0,
		QueueSize:          64,
		StopTimeout:        5 * time.Second,
		IdleTimeout:        time.Hour,
		Dialer:             h.dialer,
		Platform:           h.platform,
		Encoder:            h.encoder,
		Exporter:           h.exporter,
		NewDecoder:         func() (codec.Decoder, error) { return fakeDecoder{}, nil },
	}
	if mutate != nil {
		mutate(&config)
	}

	manager, err := NewManager(config, testLogger(), metrics.NewMetricsWith(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.Stop)

	h.manager = manager
	return h
}

func (h *harness) start(t *testing.T, channelID string) *fakeSource {
	t.Helper()

	_, err := h.manager.StartSession(context.Background(), StartRequest{
		ChannelID:   channelID,
		GuildID:     "guild-1",
		InitiatedBy: "tester",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return h.dialer.sourceFor(channelID)
}

// waitFor polls until cond holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func (h *harness) waitStreaming(t *testing.T, channelID string) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		session, ok := h.manager.GetSession(channelID)
		return ok && session.Info().Mode == ModeStreaming
	}, "session never entered streaming mode")
}

func (h *harness) waitFramesProcessed(t *testing.T, channelID string, want uint64) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		session, ok := h.manager.GetSession(channelID)
		if !ok {
			return false
		}
		var total uint64
		for _, sp := range session.Info().Speakers {
			total += sp.FramesProcessed
		}
		return total >= want
	}, fmt.Sprintf("fewer than %d frames processed", want))
}

func TestNewManagerValidation(t *testing.T) {
	valid := func() ManagerConfig {
		return ManagerConfig{
			RecordingsRoot: t.TempDir(),
			Dialer:         newFakeDialer(),
			Platform:       newFakePlatform(),
			Encoder:        &fakeEncoder{},
			Exporter:       &fakeExporter{},
			NewDecoder:     func() (codec.Decoder, error) { return fakeDecoder{}, nil },
		}
	}

	tests := []struct {
		name   string
		mutate func(*ManagerConfig)
	}{
		{"empty root", func(c *ManagerConfig) { c.RecordingsRoot = "" }},
		{"nil dialer", func(c *ManagerConfig) { c.Dialer = nil }},
		{"nil platform", func(c *ManagerConfig) { c.Platform = nil }},
		{"nil encoder", func(c *ManagerConfig) { c.Encoder = nil }},
		{"nil exporter", func(c *ManagerConfig) { c.Exporter = nil }},
		{"nil decoder factory", func(c *ManagerConfig) { c.NewDecoder = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			if _, err := NewManager(config, testLogger(), nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	manager, err := NewManager(valid(), testLogger(), nil)
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	manager.Stop()
}

func TestStartSessionIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	first, err := h.manager.StartSession(context.Background(), StartRequest{ChannelID: "chan-1"})
	if err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	second, err := h.manager.StartSession(context.Background(), StartRequest{ChannelID: "chan-1"})
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Errorf("expected same session, got %s and %s", first.SessionID, second.SessionID)
	}
	if got := h.dialer.joinCount(); got != 1 {
		t.Errorf("expected 1 gateway join, got %d", got)
	}
	if got := h.manager.GetActiveSessionCount(); got != 1 {
		t.Errorf("expected 1 active session, got %d", got)
	}

	if _, err := h.manager.StopSession(context.Background(), "chan-1", StopOptions{Save: true}); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if got := h.manager.GetActiveSessionCount(); got != 0 {
		t.Errorf("expected 0 active sessions after stop, got %d", got)
	}
}

func TestStartSessionRequiresChannel(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.manager.StartSession(context.Background(), StartRequest{}); err == nil {
		t.Error("expected error for empty channel ID")
	}
}

func TestStartSessionJoinFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.err = fmt.Errorf("gateway unreachable")

	if _, err := h.manager.StartSession(context.Background(), StartRequest{ChannelID: "chan-1"}); err == nil {
		t.Error("expected join error to propagate")
	}
	if got := h.manager.GetActiveSessionCount(); got != 0 {
		t.Errorf("expected no session after failed join, got %d", got)
	}
}

func TestStopSessionUnknownChannel(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.manager.StopSession(context.Background(), "no-such-channel", StopOptions{Save: true}); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestGetAllSessionInfos(t *testing.T) {
	h := newHarness(t, nil)

	h.start(t, "chan-1")
	h.start(t, "chan-2")

	infos := h.manager.GetAllSessionInfos()
	if len(infos) != 2 {
		t.Fatalf("expected 2 session infos, got %d", len(infos))
	}

	channels := map[string]bool{}
	for _, info := range infos {
		channels[info.ChannelID] = true
		if info.SessionID == "" {
			t.Error("session info missing session ID")
		}
	}
	if !channels["chan-1"] || !channels["chan-2"] {
		t.Errorf("unexpected channels in infos: %v", channels)
	}

	for _, ch := range []string{"chan-1", "chan-2"} {
		if _, err := h.manager.StopSession(context.Background(), ch, StopOptions{Save: true}); err != nil {
			t.Fatalf("StopSession(%s): %v", ch, err)
		}
	}
}

func TestIdleSessionAutoStops(t *testing.T) {
	h := newHarness(t, func(c *ManagerConfig) {
		c.IdleTimeout = 50 * time.Millisecond
	})
	h.platform.liveInitErr = fmt.Errorf("platform down")

	h.start(t, "chan-1")

	time.Sleep(120 * time.Millisecond)
	h.manager.stopIdleSessions()

	if got := h.manager.GetActiveSessionCount(); got != 0 {
		t.Errorf("expected idle session to be stopped, got %d active", got)
	}
	if got := len(h.exporter.writtenManifests()); got != 1 {
		t.Errorf("expected manifest for idle-stopped session, got %d", got)
	}
}

func TestManagerStopSavesActiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.liveInitErr = fmt.Errorf("platform down")

	h.start(t, "chan-1")
	h.start(t, "chan-2")

	h.manager.Stop()

	if got := h.manager.GetActiveSessionCount(); got != 0 {
		t.Errorf("expected all sessions stopped, got %d", got)
	}
	if got := len(h.exporter.writtenManifests()); got != 2 {
		t.Errorf("expected 2 manifests, got %d", got)
	}
}
