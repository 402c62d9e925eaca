package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skald-audio/capture-service/internal/metrics"
)

const (
	userAgent        = "capture-service/1.0"
	maxBackoff       = 30 * time.Second
	maxResponseBytes = 1 << 20
	maxErrorBodyLen  = 512
)

// Client provides HTTP client functionality for recording platform requests
type Client struct {
	config      Config
	httpClient  *http.Client
	semaphore   chan struct{} // Rate limiting semaphore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoffUnit time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	uploadedBytes   uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains platform client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	UploadedBytes   uint64        `json:"uploaded_bytes"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new platform HTTP client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Create semaphore for rate limiting
	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:      config,
		httpClient:  httpClient,
		semaphore:   semaphore,
		logger:      logger.With("component", "platform_client"),
		metrics:     m,
		backoffUnit: time.Second,
	}, nil
}

// LiveInit registers a streaming-mode recording and returns the remote
// recording identifier.
func (c *Client) LiveInit(ctx context.Context, req LiveInitRequest) (*LiveInitResponse, error) {
	var resp LiveInitResponse
	err := c.withRetry(ctx, "live-init", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, c.config.Endpoint+"/recordings/live-init", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SegmentUploadURL requests an upload slot for one closed segment.
func (c *Client) SegmentUploadURL(ctx context.Context, recordingID string, req SegmentSlotRequest) (*SegmentSlot, error) {
	endpoint := fmt.Sprintf("%s/recordings/%s/segment-upload-url",
		c.config.Endpoint, url.PathEscape(recordingID))

	var slot SegmentSlot
	err := c.withRetry(ctx, "segment-slot", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, endpoint, req, &slot)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// UploadSegment streams one encoded segment file to its pre-signed slot
// URL. The file is reopened per attempt so retries always send a
// complete body.
func (c *Client) UploadSegment(ctx context.Context, slot *SegmentSlot, filePath, contentType string) error {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordUploadRequest()
	}

	var size int64
	err := c.withRetry(ctx, "segment-upload", func(ctx context.Context) error {
		n, err := c.putFile(ctx, slot.UploadURL, filePath, contentType)
		size = n
		return err
	})

	elapsed := time.Since(start)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordUploadFailure(elapsed.Seconds())
		}
		return err
	}

	c.addUploadedBytes(uint64(size))
	if c.metrics != nil {
		c.metrics.RecordUploadSuccess(elapsed.Seconds(), size)
	}
	return nil
}

// Finalize closes a streaming-mode recording with the session's totals
// and its confirmed segment list.
func (c *Client) Finalize(ctx context.Context, recordingID string, req FinalizeRequest) (*RecordingSummary, error) {
	endpoint := fmt.Sprintf("%s/recordings/%s/finalize",
		c.config.Endpoint, url.PathEscape(recordingID))

	var summary RecordingSummary
	err := c.withRetry(ctx, "finalize", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, endpoint, req, &summary)
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// BatchUpload sends a whole session as one multipart request: a JSON
// metadata part followed by one file part per track.
func (c *Client) BatchUpload(ctx context.Context, req BatchRequest) (*RecordingSummary, error) {
	var summary RecordingSummary
	err := c.withRetry(ctx, "batch-upload", func(ctx context.Context) error {
		httpReq, err := c.newBatchRequest(ctx, req)
		if err != nil {
			return err
		}
		return c.do(httpReq, &summary)
	})
	if err != nil {
		return nil, err
	}

	for _, track := range req.Tracks {
		c.addUploadedBytes(uint64(track.Size))
	}
	return &summary, nil
}

// withRetry runs one logical platform call under the retry policy:
// transient failures back off exponentially, client errors surface
// immediately, and duplicate conflicts count as success.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordUploadRetry()
			}

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffUnit
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			c.logger.Warn("Retrying platform call",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(start))
			return nil
		}

		if ctx.Err() != nil {
			c.incrementFailedRequests()
			return fmt.Errorf("%s: %w", op, err)
		}

		switch Classify(err) {
		case KindDuplicate:
			c.logger.Info("Platform reported duplicate, treating as success",
				slog.String("operation", op))
			c.incrementSuccessRequests()
			return nil
		case KindClient:
			c.incrementFailedRequests()
			return fmt.Errorf("%s rejected: %w", op, err)
		}

		lastErr = err
	}

	c.incrementFailedRequests()
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

// doJSON performs a single JSON request against the platform API.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	return c.do(req, out)
}

// do executes the request and decodes a 2xx JSON body into out.
// Non-2xx responses become APIError values for classification.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := strings.TrimSpace(string(respBody))
		if len(body) > maxErrorBodyLen {
			body = body[:maxErrorBodyLen]
		}
		return &APIError{Status: resp.StatusCode, Body: body}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}
	return nil
}

// putFile streams filePath as the request body. Pre-signed URLs carry
// their own authorization, so no API key header is attached.
func (c *Client) putFile(ctx context.Context, uploadURL, filePath, contentType string) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat segment file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	if err := c.do(req, nil); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// newBatchRequest assembles the multipart body as a pipe so track files
// stream from disk instead of loading into memory.
func (c *Client) newBatchRequest(ctx context.Context, req BatchRequest) (*http.Request, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeBatchParts(writer, req)
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/recordings", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeaders(httpReq)

	return httpReq, nil
}

// writeBatchParts writes the metadata field and then one file part per
// track in speaker order.
func writeBatchParts(writer *multipart.Writer, req BatchRequest) error {
	meta := batchMetadata{
		ChannelID:        req.ChannelID,
		GuildID:          req.GuildID,
		SessionStartTime: req.SessionStartTime,
		SessionEndTime:   req.SessionEndTime,
		Duration:         req.Duration,
		Format:           req.Format,
		AutoTranscribe:   req.AutoTranscribe,
	}
	for _, track := range req.Tracks {
		meta.Tracks = append(meta.Tracks, trackMeta{
			SpeakerID:   track.SpeakerID,
			SpeakerName: track.SpeakerName,
			FileName:    track.FileName,
			Duration:    track.Duration,
			Size:        track.Size,
		})
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode batch metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(data)); err != nil {
		return fmt.Errorf("failed to write metadata field: %w", err)
	}

	for _, track := range req.Tracks {
		if err := writeTrackPart(writer, track); err != nil {
			return err
		}
	}
	return nil
}

// writeTrackPart copies one track file into its multipart section.
func writeTrackPart(writer *multipart.Writer, track TrackFile) error {
	f, err := os.Open(track.Path)
	if err != nil {
		return fmt.Errorf("failed to open track file: %w", err)
	}
	defer f.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="tracks"; filename=%q`, track.FileName))
	header.Set("Content-Type", track.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create track part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to write track data: %w", err)
	}
	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) addUploadedBytes(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadedBytes += n
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	activeRequests := len(c.semaphore)

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		UploadedBytes:   c.uploadedBytes,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  activeRequests,
	}
}

// Close gracefully shuts down the client
func (c *Client) Close() error {
	// Wait for all active requests to complete
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
