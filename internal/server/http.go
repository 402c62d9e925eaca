package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skald-audio/capture-service/internal/capture"
	"github.com/skald-audio/capture-service/internal/config"
	"github.com/skald-audio/capture-service/internal/metrics"
	"github.com/skald-audio/capture-service/internal/platform"
)

// HTTPServer provides the control API: session start/stop plus
// monitoring and management endpoints.
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	captureMgr *capture.Manager
	platform   *platform.Client
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new control API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, captureMgr *capture.Manager, platformClient *platform.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		captureMgr: captureMgr,
		platform:   platformClient,
		metrics:    m,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session management endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{channel}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Platform client statistics
	mux.HandleFunc("/stats/platform", h.withMetrics("/stats/platform", h.handlePlatformStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting control API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping control API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	platformStats := h.platform.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "capture-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"capture_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.captureMgr.GetActiveSessionCount(),
			},
			"platform": map[string]interface{}{
				"status":          "running",
				"total_requests":  platformStats.TotalRequests,
				"success_rate":    platformStats.SuccessRate,
				"active_requests": platformStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

type startSessionRequest struct {
	ChannelID   string `json:"channelId"`
	GuildID     string `json:"guildId"`
	InitiatedBy string `json:"initiatedBy"`
}

type stopSessionRequest struct {
	Save       bool `json:"save"`
	Transcribe bool `json:"transcribe"`
}

// handleSessions implements the /sessions endpoint: GET lists active
// sessions, POST starts a new capture.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		infos := h.captureMgr.GetAllSessionInfos()

		response := map[string]interface{}{
			"total_sessions": len(infos),
			"timestamp":      time.Now().UTC(),
			"sessions":       infos,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.ChannelID == "" {
			http.Error(w, "channelId is required", http.StatusBadRequest)
			return
		}

		info, err := h.captureMgr.StartSession(r.Context(), capture.StartRequest{
			ChannelID:   req.ChannelID,
			GuildID:     req.GuildID,
			InitiatedBy: req.InitiatedBy,
		})
		if err != nil {
			http.Error(w, "Failed to start session: "+err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(info)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionDetail implements /sessions/{channel} and
// /sessions/{channel}/stop.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		http.Error(w, "Channel ID required", http.StatusBadRequest)
		return
	}

	channelID, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		session, exists := h.captureMgr.GetSession(channelID)
		if !exists {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session.Info())

	case action == "stop" && r.Method == http.MethodPost:
		h.handleStop(w, r, channelID)

	case action != "" && action != "stop":
		http.NotFound(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request, channelID string) {
	// Stop saves by default; callers opt out explicitly.
	req := stopSessionRequest{Save: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.captureMgr.StopSession(r.Context(), channelID, capture.StopOptions{
		Save:       req.Save,
		Transcribe: req.Transcribe,
	})
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"gateway": map[string]interface{}{
			"url":          h.config.Gateway.URL,
			"dial_timeout": h.config.Gateway.DialTimeout,
			// Note: token is intentionally omitted for security
		},
		"platform": map[string]interface{}{
			"endpoint":    h.config.Platform.Endpoint,
			"timeout":     h.config.Platform.Timeout,
			"max_retries": h.config.Platform.MaxRetries,
			// Note: API key is intentionally omitted for security
		},
		"capture": map[string]interface{}{
			"recordings_dir":          h.config.Capture.RecordingsDir,
			"format":                  h.config.Capture.Format,
			"quality":                 h.config.Capture.Quality,
			"silence_threshold_ms":    h.config.Capture.SilenceThresholdMs,
			"min_segment_duration_ms": h.config.Capture.MinSegmentDurationMs,
			"queue_size":              h.config.Capture.QueueSize,
			"stop_timeout":            h.config.Capture.StopTimeout,
			"include_bots":            h.config.Capture.IncludeBots,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	infos := h.captureMgr.GetAllSessionInfos()

	var frameDrops uint64
	participants := 0
	for _, info := range infos {
		frameDrops += info.FramesDropped
		participants += info.ParticipantCount
	}

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count":        len(infos),
			"active_participants": participants,
			"frames_dropped":      frameDrops,
		},
		"platform": h.platform.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handlePlatformStats implements the /stats/platform endpoint
func (h *HTTPServer) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.platform.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Capture Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /sessions":                 "List active capture sessions",
			"POST /sessions":                "Start capturing a channel",
			"GET /sessions/{channel}":       "Get detailed session information",
			"POST /sessions/{channel}/stop": "Stop a capture session",
			"GET /config":                   "Get service configuration",
			"GET /stats":                    "Get service statistics",
			"GET /stats/platform":           "Get platform client statistics",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
