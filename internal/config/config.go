package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Dispatch transport modes
const (
	DispatchModeDirect = "direct"
	DispatchModeHTTP   = "http"
	DispatchModeStep   = "step"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Campaign/item persistence settings
	Redis    RedisConfig    `toml:"redis"`    // Shared cache and rate-limit store settings
	STT      STTConfig      `toml:"stt"`      // Transcription provider settings
	Dispatch DispatchConfig `toml:"dispatch"` // Invocation transport settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file holding campaigns, items, and failure records
}

// RedisConfig contains settings for the shared Redis store backing the
// result cache and the cross-process rate-limit counter
type RedisConfig struct {
	URL                 string `toml:"url"`                       // Redis connection URL (e.g., redis://localhost:6379/0)
	CacheTTLSecs        int    `toml:"cache_ttl_seconds"`         // Default TTL for cached transcription results
	RateLimitWindowSecs int    `toml:"rate_limit_window_seconds"` // Length of the fixed rate-limit window
}

// STTConfig contains settings for the transcription provider and the
// retry/rate-limit policy around it
type STTConfig struct {
	APIKey        string `toml:"api_key"`        // Provider API key
	BaseURL       string `toml:"base_url"`       // Provider API base URL (e.g., for proxies). Defaults to https://api.assemblyai.com
	LanguageCode  string `toml:"language_code"`  // Language code for transcription (e.g., "en_us")
	SpeakerLabels bool   `toml:"speaker_labels"` // Enable speaker diarization
	Punctuate     bool   `toml:"punctuate"`      // Enable automatic punctuation
	FormatText    bool   `toml:"format_text"`    // Enable text formatting (casing, numbers)

	RateLimitRequests int `toml:"rate_limit_requests"` // Max provider submissions per rate-limit window (shared across processes)

	// Retry settings for transient provider failures
	RetryMaxAttempts       int     `toml:"retry_max_attempts"`       // Total provider attempts before giving up
	RetryInitialDelayMs    int     `toml:"retry_initial_delay_ms"`   // Delay before the first retry
	RetryBackoffMultiplier float64 `toml:"retry_backoff_multiplier"` // Factor applied to the delay after each retry

	PollIntervalMs int `toml:"poll_interval_ms"` // How often to poll the provider for job completion
	TimeoutSeconds int `toml:"timeout_seconds"`  // HTTP timeout for provider API requests
}

// DispatchConfig contains settings for the invocation transport that
// routes process-item requests to wherever the handler runs
type DispatchConfig struct {
	Mode               string `toml:"mode"`                 // Transport mode: "direct", "http", or "step"
	HTTPBaseURL        string `toml:"http_base_url"`        // Base URL of the sibling service for the http transport
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"` // Timeout for the http transport (generous: transcription is slow)
	StateMachineARN    string `toml:"state_machine_arn"`    // Step Functions state machine ARN for the step transport
	AWSRegion          string `toml:"aws_region"`           // AWS region for the step transport
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path is required")
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Redis.CacheTTLSecs <= 0 {
		c.Redis.CacheTTLSecs = 3600
	}
	if c.Redis.RateLimitWindowSecs <= 0 {
		c.Redis.RateLimitWindowSecs = 1
	}

	if err := c.validateSTT(); err != nil {
		return err
	}

	return c.validateDispatch()
}

func (c *Config) validateSTT() error {
	if c.STT.LanguageCode == "" {
		c.STT.LanguageCode = "en_us"
	}
	if c.STT.RateLimitRequests <= 0 {
		c.STT.RateLimitRequests = 5
	}
	if c.STT.RetryMaxAttempts <= 0 {
		c.STT.RetryMaxAttempts = 3
	}
	if c.STT.RetryInitialDelayMs <= 0 {
		c.STT.RetryInitialDelayMs = 2000
	}
	if c.STT.RetryBackoffMultiplier <= 1 {
		c.STT.RetryBackoffMultiplier = 2.0
	}
	if c.STT.PollIntervalMs <= 0 {
		c.STT.PollIntervalMs = 3000
	}
	if c.STT.TimeoutSeconds <= 0 {
		c.STT.TimeoutSeconds = 30
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchModeDirect
	}
	switch c.Dispatch.Mode {
	case DispatchModeDirect, DispatchModeHTTP, DispatchModeStep:
	default:
		return fmt.Errorf("invalid dispatch mode: %s (must be %q, %q, or %q)",
			c.Dispatch.Mode, DispatchModeDirect, DispatchModeHTTP, DispatchModeStep)
	}

	if c.Dispatch.Mode == DispatchModeHTTP && c.Dispatch.HTTPBaseURL == "" {
		return fmt.Errorf("dispatch http_base_url is required for http mode")
	}
	if c.Dispatch.HTTPTimeoutSeconds <= 0 {
		c.Dispatch.HTTPTimeoutSeconds = 300
	}

	// A missing state_machine_arn in step mode is not a load-time error:
	// the step transport reports CONFIGURATION_ERROR per dispatch, so a
	// misconfigured pipeline still records a failure for every item.
	return nil
}
