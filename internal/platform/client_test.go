package platform

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skald-audio/capture-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, endpoint string, maxRetries int) *Client {
	t.Helper()

	c, err := NewClient(Config{
		Endpoint:   endpoint,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	}, testLogger(), metrics.NewMetricsWith(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	c.backoffUnit = time.Millisecond
	return c
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: Config{Endpoint: "http://localhost:8080", APIKey: "key"},
		},
		{
			name:        "missing endpoint",
			config:      Config{APIKey: "key"},
			expectError: true,
			errorMsg:    "endpoint",
		},
		{
			name:        "missing API key",
			config:      Config{Endpoint: "http://localhost:8080"},
			expectError: true,
			errorMsg:    "API key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config, testLogger(), nil)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Defaults applied
			if c.config.Timeout != 60*time.Second {
				t.Errorf("expected default timeout 60s, got %v", c.config.Timeout)
			}
			if c.config.MaxConcurrent != 4 {
				t.Errorf("expected default max concurrent 4, got %d", c.config.MaxConcurrent)
			}
		})
	}
}

func TestLiveInit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings/live-init" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", auth)
		}

		var req LiveInitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.ChannelID != "chan-1" {
			t.Errorf("expected channel chan-1, got %q", req.ChannelID)
		}

		json.NewEncoder(w).Encode(LiveInitResponse{RecordingID: "rec-42"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	resp, err := client.LiveInit(context.Background(), LiveInitRequest{
		ChannelID:        "chan-1",
		SessionStartTime: time.Now(),
		Format:           "ogg",
	})
	if err != nil {
		t.Fatalf("LiveInit failed: %v", err)
	}
	if resp.RecordingID != "rec-42" {
		t.Errorf("expected recording rec-42, got %q", resp.RecordingID)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(LiveInitResponse{RecordingID: "rec-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	resp, err := client.LiveInit(context.Background(), LiveInitRequest{ChannelID: "c"})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if resp.RecordingID != "rec-1" {
		t.Errorf("unexpected recording ID %q", resp.RecordingID)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("expected 1 retry in stats, got %d", stats.TotalRetries)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.LiveInit(context.Background(), LiveInitRequest{ChannelID: "c"})
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if !strings.Contains(err.Error(), "rejected") {
		t.Errorf("expected rejection error, got %q", err.Error())
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 request, got %d", n)
	}
	if kind := Classify(err); kind != KindClient {
		t.Errorf("expected client error kind, got %v", kind)
	}
}

func TestDuplicateConflictTreatedAsSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "recording already exists", http.StatusConflict)
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "segment_000.ogg")
	if err := os.WriteFile(path, []byte("encoded"), 0o644); err != nil {
		t.Fatalf("failed to write segment file: %v", err)
	}

	client := newTestClient(t, server.URL, 3)
	slot := &SegmentSlot{UploadURL: server.URL + "/blob/1", BlobPath: "blob/1"}

	if err := client.UploadSegment(context.Background(), slot, path, "audio/ogg"); err != nil {
		t.Fatalf("expected duplicate conflict to succeed, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected no re-attempt after conflict, got %d requests", n)
	}
}

func TestUploadSegmentStreamsFile(t *testing.T) {
	content := []byte("fake encoded audio content")

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/flac" {
			t.Errorf("unexpected content type %q", ct)
		}
		if r.ContentLength != int64(len(content)) {
			t.Errorf("expected content length %d, got %d", len(content), r.ContentLength)
		}
		// Pre-signed URLs must not receive the API key.
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("unexpected authorization header %q on blob upload", auth)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "segment_000.flac")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write segment file: %v", err)
	}

	client := newTestClient(t, server.URL, 3)
	slot := &SegmentSlot{UploadURL: server.URL + "/blob/seg0", BlobPath: "blob/seg0"}

	if err := client.UploadSegment(context.Background(), slot, path, "audio/flac"); err != nil {
		t.Fatalf("UploadSegment failed: %v", err)
	}
	if string(gotBody) != string(content) {
		t.Errorf("uploaded body mismatch: got %d bytes", len(gotBody))
	}

	stats := client.GetStats()
	if stats.UploadedBytes != uint64(len(content)) {
		t.Errorf("expected %d uploaded bytes, got %d", len(content), stats.UploadedBytes)
	}
}

func TestUploadSegmentRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "segment_001.wav")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to write segment file: %v", err)
	}

	client := newTestClient(t, server.URL, 2)
	slot := &SegmentSlot{UploadURL: server.URL + "/blob/seg1"}

	err := client.UploadSegment(context.Background(), slot, path, "audio/wav")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("expected attempt count in error, got %q", err.Error())
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}

	// The caller keeps the local file on failure; the client must not
	// have touched it.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("segment file missing after failed upload: %v", err)
	}
}

func TestSegmentUploadURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings/rec-7/segment-upload-url" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var req SegmentSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Index != 3 || req.SpeakerID != "spk-1" {
			t.Errorf("unexpected slot request %+v", req)
		}

		json.NewEncoder(w).Encode(SegmentSlot{
			UploadURL: "http://blobs.example/seg3?sig=abc",
			BlobPath:  "rec-7/spk-1/3",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	slot, err := client.SegmentUploadURL(context.Background(), "rec-7", SegmentSlotRequest{
		SpeakerID:   "spk-1",
		SpeakerName: "alice",
		Index:       3,
		Duration:    2.0,
		Size:        4096,
		ContentType: "audio/ogg",
	})
	if err != nil {
		t.Fatalf("SegmentUploadURL failed: %v", err)
	}
	if slot.BlobPath != "rec-7/spk-1/3" {
		t.Errorf("unexpected blob path %q", slot.BlobPath)
	}
}

func TestFinalize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings/rec-9/finalize" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var req FinalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.ParticipantCount != 2 {
			t.Errorf("expected 2 participants, got %d", req.ParticipantCount)
		}
		if len(req.Segments) != 3 {
			t.Errorf("expected 3 segments, got %d", len(req.Segments))
		}

		json.NewEncoder(w).Encode(RecordingSummary{
			RecordingID: "rec-9",
			Duration:    125.5,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	summary, err := client.Finalize(context.Background(), "rec-9", FinalizeRequest{
		SessionEndTime:   time.Now(),
		Duration:         125.5,
		TotalSize:        1 << 20,
		ParticipantCount: 2,
		Segments: []UploadedSegment{
			{SpeakerID: "a", Index: 0, BlobPath: "p0"},
			{SpeakerID: "a", Index: 1, BlobPath: "p1"},
			{SpeakerID: "b", Index: 0, BlobPath: "p2"},
		},
	})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if summary.RecordingID != "rec-9" {
		t.Errorf("unexpected recording ID %q", summary.RecordingID)
	}
}

func TestBatchUploadMultipart(t *testing.T) {
	dir := t.TempDir()
	trackA := filepath.Join(dir, "track_a.ogg")
	trackB := filepath.Join(dir, "track_b.ogg")
	if err := os.WriteFile(trackA, []byte("audio-a"), 0o644); err != nil {
		t.Fatalf("failed to write track: %v", err)
	}
	if err := os.WriteFile(trackB, []byte("audio-b"), 0o644); err != nil {
		t.Fatalf("failed to write track: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}

		var meta batchMetadata
		if err := json.Unmarshal([]byte(r.FormValue("metadata")), &meta); err != nil {
			t.Errorf("failed to decode metadata: %v", err)
		}
		if meta.ChannelID != "chan-5" {
			t.Errorf("expected channel chan-5, got %q", meta.ChannelID)
		}
		if len(meta.Tracks) != 2 {
			t.Errorf("expected 2 track entries, got %d", len(meta.Tracks))
		}

		files := r.MultipartForm.File["tracks"]
		if len(files) != 2 {
			t.Fatalf("expected 2 file parts, got %d", len(files))
		}
		if files[0].Filename != "alice_1.ogg" {
			t.Errorf("unexpected first filename %q", files[0].Filename)
		}
		if ct := files[0].Header.Get("Content-Type"); ct != "audio/ogg" {
			t.Errorf("unexpected part content type %q", ct)
		}

		f, err := files[0].Open()
		if err != nil {
			t.Fatalf("failed to open part: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "audio-a" {
			t.Errorf("unexpected part content %q", data)
		}

		json.NewEncoder(w).Encode(RecordingSummary{
			RecordingID:  "rec-batch",
			DownloadURLs: map[string]string{"alice_1.ogg": "http://dl/a"},
			ViewURL:      "http://view/rec-batch",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	summary, err := client.BatchUpload(context.Background(), BatchRequest{
		ChannelID:        "chan-5",
		SessionStartTime: time.Now().Add(-time.Minute),
		SessionEndTime:   time.Now(),
		Duration:         60,
		Format:           "ogg",
		Tracks: []TrackFile{
			{SpeakerID: "1", SpeakerName: "alice", FileName: "alice_1.ogg", Path: trackA, ContentType: "audio/ogg", Size: 7},
			{SpeakerID: "2", SpeakerName: "bob", FileName: "bob_2.ogg", Path: trackB, ContentType: "audio/ogg", Size: 7},
		},
	})
	if err != nil {
		t.Fatalf("BatchUpload failed: %v", err)
	}
	if summary.ViewURL != "http://view/rec-batch" {
		t.Errorf("unexpected view URL %q", summary.ViewURL)
	}
	if len(summary.DownloadURLs) != 1 {
		t.Errorf("expected download URLs in summary, got %+v", summary.DownloadURLs)
	}
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := newTestClient(t, server.URL, 3)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := client.LiveInit(ctx, LiveInitRequest{ChannelID: "c"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
		if kind := Classify(err); kind != KindCanceled {
			t.Errorf("expected canceled kind, got %v", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("LiveInit did not return after cancellation")
	}
}

func TestErrorKindClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "server error", err: &APIError{Status: 500}, expected: KindTransient},
		{name: "bad gateway", err: &APIError{Status: 502}, expected: KindTransient},
		{name: "rate limited", err: &APIError{Status: 429}, expected: KindTransient},
		{name: "bad request", err: &APIError{Status: 400}, expected: KindClient},
		{name: "not found", err: &APIError{Status: 404}, expected: KindClient},
		{name: "conflict", err: &APIError{Status: 409}, expected: KindDuplicate},
		{name: "canceled", err: context.Canceled, expected: KindCanceled},
		{name: "network", err: io.ErrUnexpectedEOF, expected: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if kind := Classify(tt.err); kind != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, kind)
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LiveInitResponse{RecordingID: "rec-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	for i := 0; i < 3; i++ {
		if _, err := client.LiveInit(context.Background(), LiveInitRequest{ChannelID: "c"}); err != nil {
			t.Fatalf("LiveInit failed: %v", err)
		}
	}

	stats := client.GetStats()
	if stats.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", stats.TotalRequests)
	}
	if stats.SuccessRequests != 3 {
		t.Errorf("expected 3 successes, got %d", stats.SuccessRequests)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("expected 100%% success rate, got %.1f", stats.SuccessRate)
	}
	if stats.AvgResponseTime <= 0 {
		t.Error("expected non-zero average response time")
	}
}
