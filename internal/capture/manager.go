package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/skald-audio/capture-service/internal/codec"
	"github.com/skald-audio/capture-service/internal/metrics"
)

const maintenanceInterval = 30 * time.Second

// ManagerConfig contains configuration and collaborators for the
// capture manager.
type ManagerConfig struct {
	RecordingsRoot     string
	SilenceThreshold   time.Duration
	MinSegmentDuration time.Duration
	QueueSize          int
	StopTimeout        time.Duration
	IdleTimeout        time.Duration
	IncludeBots        bool

	Dialer     Dialer
	Platform   PlatformAPI
	Encoder    Encoder
	Exporter   Exporter
	NewDecoder codec.Factory
}

// Manager manages all active capture sessions
type Manager struct {
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessions map[string]*Session // keyed by channel ID
	mu       sync.RWMutex

	// Maintenance management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a new capture manager
func NewManager(config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if config.RecordingsRoot == "" {
		return nil, fmt.Errorf("recordings root cannot be empty")
	}
	if config.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if config.Platform == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if config.NewDecoder == nil {
		return nil, fmt.Errorf("decoder factory is required")
	}

	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = 2 * time.Second
	}
	if config.MinSegmentDuration < 0 {
		config.MinSegmentDuration = 500 * time.Millisecond
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 2 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:   config,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	// Start maintenance goroutine
	go mgr.maintenanceRoutine()

	return mgr, nil
}

// StartSession begins capturing a channel. Starting a channel that is
// already being captured returns the existing session.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*SessionInfo, error) {
	if req.ChannelID == "" {
		return nil, fmt.Errorf("channel ID cannot be empty")
	}

	m.mu.RLock()
	existing, exists := m.sessions[req.ChannelID]
	m.mu.RUnlock()
	if exists {
		m.logger.Warn("Session already active for channel, reusing",
			slog.String("channel_id", req.ChannelID),
			slog.String("session_id", existing.ID),
		)
		info := existing.Info()
		return &info, nil
	}

	// Join outside the lock; dialing can block up to the handshake
	// timeout.
	source, err := m.config.Dialer.Join(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to join channel: %w", err)
	}

	session := newSession(m, req, source)

	m.mu.Lock()
	if racing, exists := m.sessions[req.ChannelID]; exists {
		m.mu.Unlock()
		source.Close()
		m.logger.Warn("Lost session start race, reusing existing session",
			slog.String("channel_id", req.ChannelID),
			slog.String("session_id", racing.ID),
		)
		info := racing.Info()
		return &info, nil
	}
	m.sessions[req.ChannelID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	session.start()

	if m.metrics != nil {
		m.metrics.RecordSessionStarted()
		m.metrics.SetActiveSessions(count)
	}

	m.logger.Info("Capture session started",
		slog.String("session_id", session.ID),
		slog.String("channel_id", req.ChannelID),
		slog.String("guild_id", req.GuildID),
		slog.String("initiated_by", req.InitiatedBy),
	)

	info := session.Info()
	return &info, nil
}

// StopSession ends a channel's capture, flushes its open segments, and
// runs finalize or the batch fallback depending on how the session ran.
func (m *Manager) StopSession(ctx context.Context, channelID string, opts StopOptions) (*StopResult, error) {
	m.mu.Lock()
	session, exists := m.sessions[channelID]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("no active session for channel %s", channelID)
	}
	delete(m.sessions, channelID)
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(count)
	}

	result := session.stop(ctx, opts)

	if m.metrics != nil {
		m.metrics.RecordSessionStopped(result.Duration.Seconds())
	}

	m.logger.Info("Capture session stopped",
		slog.String("session_id", result.SessionID),
		slog.String("channel_id", channelID),
		slog.String("mode", string(result.Mode)),
		slog.Duration("duration", result.Duration),
		slog.Int("participants", result.ParticipantCount),
		slog.Int("segments_uploaded", result.SegmentsUploaded),
		slog.Int("segments_retained", result.SegmentsRetained),
		slog.Bool("fully_uploaded", result.FullyUploaded),
	)

	return result, nil
}

// GetSession retrieves an active session by channel ID
func (m *Manager) GetSession(channelID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[channelID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// countActiveTracks sums speaker tracks across all sessions.
func (m *Manager) countActiveTracks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, session := range m.sessions {
		total += session.trackCount()
	}
	return total
}

// GetAllSessionInfos returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessionInfos() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// Stop gracefully stops the manager, saving every active session.
func (m *Manager) Stop() {
	m.logger.Info("Stopping capture manager...")

	m.mu.RLock()
	channels := make([]string, 0, len(m.sessions))
	for ch := range m.sessions {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		if _, err := m.StopSession(context.Background(), ch, StopOptions{Save: true}); err != nil {
			m.logger.Warn("Failed to stop session during shutdown",
				slog.String("channel_id", ch),
				slog.String("error", err.Error()),
			)
		}
	}

	// Cancel context to stop maintenance routine
	m.cancel()
	<-m.cleanup

	m.logger.Info("Capture manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// maintenanceRoutine periodically stops idle sessions and samples
// process memory.
func (m *Manager) maintenanceRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	m.logger.Info("Session maintenance routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", maintenanceInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session maintenance routine stopping")
			return

		case <-ticker.C:
			m.stopIdleSessions()
			m.sampleMemory()
		}
	}
}

// stopIdleSessions saves and closes sessions whose gateway feed went
// quiet, so a dead gateway can never leak a recording forever.
func (m *Manager) stopIdleSessions() {
	now := time.Now()

	m.mu.RLock()
	idle := make([]string, 0)
	for ch, session := range m.sessions {
		if now.Sub(session.lastActivityTime()) > m.config.IdleTimeout {
			idle = append(idle, ch)
		}
	}
	m.mu.RUnlock()

	for _, ch := range idle {
		m.logger.Warn("Session idle beyond timeout, stopping with save",
			slog.String("channel_id", ch),
			slog.Duration("idle_timeout", m.config.IdleTimeout),
		)

		if _, err := m.StopSession(m.ctx, ch, StopOptions{Save: true}); err != nil {
			m.logger.Error("Failed to stop idle session",
				slog.String("channel_id", ch),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sampleMemory records heap and goroutine gauges.
func (m *Manager) sampleMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines := runtime.NumGoroutine()

	if m.metrics != nil {
		m.metrics.RecordMemorySample(ms.HeapAlloc, goroutines)
	}

	m.logger.Debug("Memory sample",
		slog.Uint64("heap_alloc_bytes", ms.HeapAlloc),
		slog.Int("goroutines", goroutines),
		slog.Int("active_sessions", m.GetActiveSessionCount()),
	)
}

// decoderFactory exposes the configured factory to tracks.
func (m *Manager) decoderFactory() codec.Factory {
	return m.config.NewDecoder
}
