package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture service
type Metrics struct {
	// Gateway feed metrics
	FramesReceived prometheus.Counter
	ParseErrors    prometheus.Counter
	FramesDropped  prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram

	// Speaker track metrics
	ActiveSpeakerTracks  prometheus.Gauge
	SpeakerTracksCreated prometheus.Counter

	// Segment metrics
	SegmentsClosed    prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SegmentSize       prometheus.Histogram

	// Encoder metrics
	EncodeDuration prometheus.Histogram
	EncodeFailures prometheus.Counter

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadRetries   prometheus.Counter
	UploadDuration  prometheus.Histogram
	UploadedBytes   prometheus.Counter

	// Export fallback metrics
	BatchExports      prometheus.Counter
	LiveInitFallbacks prometheus.Counter

	// Runtime metrics
	HeapAllocBytes prometheus.Gauge
	Goroutines     prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them in the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics registered against reg. Tests use
// this with a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Gateway feed metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_gateway_frames_received_total",
			Help: "Total number of audio frames received from the voice gateway",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_gateway_parse_errors_total",
			Help: "Total number of malformed gateway messages",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_dropped_total",
			Help: "Total number of frames dropped due to full speaker queues",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_decode_errors_total",
			Help: "Total number of Opus frames that failed to decode",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_active_sessions",
			Help: "Current number of active capture sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_stopped_total",
			Help: "Total number of capture sessions stopped",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8), // 1 minute to ~2 hours
		}),

		// Speaker track metrics
		ActiveSpeakerTracks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_active_speaker_tracks",
			Help: "Current number of active per-speaker capture tracks",
		}),
		SpeakerTracksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_speaker_tracks_created_total",
			Help: "Total number of speaker tracks created",
		}),

		// Segment metrics
		SegmentsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_segments_closed_total",
			Help: "Total number of speech segments closed",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_segments_discarded_total",
			Help: "Total number of segments discarded for falling below the minimum duration",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_segment_duration_seconds",
			Help:    "Duration of closed speech segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_segment_size_bytes",
			Help:    "Encoded size of closed speech segments in bytes",
			Buckets: prometheus.ExponentialBuckets(16384, 2, 12), // 16KB to ~32MB
		}),

		// Encoder metrics
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_encode_duration_seconds",
			Help:    "Time spent encoding segments with ffmpeg",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		EncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_encode_failures_total",
			Help: "Total number of failed ffmpeg encodes",
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_requests_total",
			Help: "Total number of segment uploads attempted",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_successes_total",
			Help: "Total number of segment uploads completed",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_failures_total",
			Help: "Total number of segment uploads that exhausted retries",
		}),
		UploadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_retries_total",
			Help: "Total number of segment upload retries",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_upload_duration_seconds",
			Help:    "Duration of segment uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_uploaded_bytes_total",
			Help: "Total encoded bytes uploaded to the platform",
		}),

		// Export fallback metrics
		BatchExports: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_batch_exports_total",
			Help: "Total number of sessions exported through the batch path",
		}),
		LiveInitFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_live_init_fallbacks_total",
			Help: "Total number of sessions that fell back to batch mode after live-init failed",
		}),

		// Runtime metrics
		HeapAllocBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_heap_alloc_bytes",
			Help: "Heap bytes allocated as reported by the runtime",
		}),
		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_goroutines",
			Help: "Current number of goroutines",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSpeakerTracks sets the current number of speaker tracks
func (m *Metrics) SetActiveSpeakerTracks(count int) {
	m.ActiveSpeakerTracks.Set(float64(count))
}

// RecordSpeakerTrackCreated increments the speaker tracks created counter
func (m *Metrics) RecordSpeakerTrackCreated() {
	m.SpeakerTracksCreated.Inc()
}

// RecordSegmentClosed records a closed speech segment
func (m *Metrics) RecordSegmentClosed(durationSeconds float64, sizeBytes int64) {
	m.SegmentsClosed.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordSegmentDiscarded increments the discarded segments counter
func (m *Metrics) RecordSegmentDiscarded() {
	m.SegmentsDiscarded.Inc()
}

// RecordEncode records a completed ffmpeg encode
func (m *Metrics) RecordEncode(durationSeconds float64) {
	m.EncodeDuration.Observe(durationSeconds)
}

// RecordEncodeFailure increments the encode failures counter
func (m *Metrics) RecordEncodeFailure() {
	m.EncodeFailures.Inc()
}

// RecordUploadRequest increments the upload requests counter
func (m *Metrics) RecordUploadRequest() {
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a completed upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64, sizeBytes int64) {
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
	m.UploadedBytes.Add(float64(sizeBytes))
}

// RecordUploadFailure records an upload that exhausted its retries
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadRetry increments the upload retry counter
func (m *Metrics) RecordUploadRetry() {
	m.UploadRetries.Inc()
}

// RecordBatchExport increments the batch exports counter
func (m *Metrics) RecordBatchExport() {
	m.BatchExports.Inc()
}

// RecordLiveInitFallback increments the live-init fallback counter
func (m *Metrics) RecordLiveInitFallback() {
	m.LiveInitFallbacks.Inc()
}

// RecordMemorySample updates the runtime gauges
func (m *Metrics) RecordMemorySample(heapAlloc uint64, goroutines int) {
	m.HeapAllocBytes.Set(float64(heapAlloc))
	m.Goroutines.Set(float64(goroutines))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
