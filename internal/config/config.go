package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Platform PlatformConfig `yaml:"platform"`
	Capture  CaptureConfig  `yaml:"capture"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig contains voice gateway connection configuration
type GatewayConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	DialTimeout int    `yaml:"dial_timeout"` // seconds
}

// PlatformConfig contains recording platform API configuration
type PlatformConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Timeout    int    `yaml:"timeout"` // seconds, per request attempt
	MaxRetries int    `yaml:"max_retries"`
}

// CaptureConfig contains capture pipeline parameters
type CaptureConfig struct {
	RecordingsDir        string `yaml:"recordings_dir"`
	Format               string `yaml:"format"`  // wav, flac, ogg
	Quality              string `yaml:"quality"` // low, medium, high
	SilenceThresholdMs   int    `yaml:"silence_threshold_ms"`
	MinSegmentDurationMs int    `yaml:"min_segment_duration_ms"`
	QueueSize            int    `yaml:"queue_size"`   // per-speaker frame queue depth
	StopTimeout          int    `yaml:"stop_timeout"` // seconds to wait for uploads on stop
	IncludeBots          bool   `yaml:"include_bots"`
}

// HTTPConfig contains control API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults applied by Load for omitted fields.
const (
	defaultDialTimeout          = 10
	defaultPlatformTimeout      = 60
	defaultMaxRetries           = 3
	defaultRecordingsDir        = "./recordings"
	defaultFormat               = "wav"
	defaultQuality              = "medium"
	defaultSilenceThresholdMs   = 2000
	defaultMinSegmentDurationMs = 500
	defaultQueueSize            = 256
	defaultStopTimeout          = 30
)

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.DialTimeout == 0 {
		c.Gateway.DialTimeout = defaultDialTimeout
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = defaultPlatformTimeout
	}
	if c.Platform.MaxRetries == 0 {
		c.Platform.MaxRetries = defaultMaxRetries
	}
	if c.Capture.RecordingsDir == "" {
		c.Capture.RecordingsDir = defaultRecordingsDir
	}
	if c.Capture.Format == "" {
		c.Capture.Format = defaultFormat
	}
	if c.Capture.Quality == "" {
		c.Capture.Quality = defaultQuality
	}
	if c.Capture.SilenceThresholdMs == 0 {
		c.Capture.SilenceThresholdMs = defaultSilenceThresholdMs
	}
	if c.Capture.MinSegmentDurationMs == 0 {
		c.Capture.MinSegmentDurationMs = defaultMinSegmentDurationMs
	}
	if c.Capture.QueueSize == 0 {
		c.Capture.QueueSize = defaultQueueSize
	}
	if c.Capture.StopTimeout == 0 {
		c.Capture.StopTimeout = defaultStopTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// applyEnv applies CAPTURE_* environment overrides. Credentials
// normally arrive this way rather than in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAPTURE_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv("CAPTURE_GATEWAY_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := os.Getenv("CAPTURE_PLATFORM_ENDPOINT"); v != "" {
		c.Platform.Endpoint = v
	}
	if v := os.Getenv("CAPTURE_PLATFORM_API_KEY"); v != "" {
		c.Platform.APIKey = v
	}
	if v := os.Getenv("CAPTURE_RECORDINGS_DIR"); v != "" {
		c.Capture.RecordingsDir = v
	}
	if v := os.Getenv("CAPTURE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates gateway configuration
func (g *GatewayConfig) Validate() error {
	if g.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if g.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", g.DialTimeout)
	}

	return nil
}

// Validate validates platform configuration
func (p *PlatformConfig) Validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if p.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	if p.MaxRetries < 1 || p.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 1 and 10, got %d", p.MaxRetries)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	validFormats := map[string]bool{"wav": true, "flac": true, "ogg": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("format must be one of [wav, flac, ogg], got '%s'", c.Format)
	}

	validQualities := map[string]bool{"low": true, "medium": true, "high": true}
	if !validQualities[c.Quality] {
		return fmt.Errorf("quality must be one of [low, medium, high], got '%s'", c.Quality)
	}

	if c.SilenceThresholdMs < 100 {
		return fmt.Errorf("silence_threshold_ms must be at least 100, got %d", c.SilenceThresholdMs)
	}

	if c.MinSegmentDurationMs < 0 {
		return fmt.Errorf("min_segment_duration_ms cannot be negative, got %d", c.MinSegmentDurationMs)
	}

	if c.QueueSize < 16 {
		return fmt.Errorf("queue_size must be at least 16, got %d", c.QueueSize)
	}

	if c.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", c.StopTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetDialTimeout returns the gateway dial timeout as a time.Duration
func (g *GatewayConfig) GetDialTimeout() time.Duration {
	return time.Duration(g.DialTimeout) * time.Second
}

// GetTimeoutDuration returns the per-request platform timeout as a time.Duration
func (p *PlatformConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetSilenceThreshold returns the silence gap that closes a segment as a time.Duration
func (c *CaptureConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdMs) * time.Millisecond
}

// GetMinSegmentDuration returns the minimum duration a segment must reach to be kept
func (c *CaptureConfig) GetMinSegmentDuration() time.Duration {
	return time.Duration(c.MinSegmentDurationMs) * time.Millisecond
}

// GetStopTimeout returns the bounded wait for in-flight uploads on stop
func (c *CaptureConfig) GetStopTimeout() time.Duration {
	return time.Duration(c.StopTimeout) * time.Second
}
