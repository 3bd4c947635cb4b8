// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	GRPCPort           string
	FrontendURL        string
	MaxRequestBodySize int64
	Ollama             OllamaConfig
	Tutor              TutorConfig
	Transcript         TranscriptConfig
	RateLimit          RateLimitConfig
	SSE                SSEConfig
	Log                LogConfig
}

// OllamaConfig points at the model backend.
type OllamaConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// TutorConfig controls session behavior.
type TutorConfig struct {
	Mode              string // "chat" or "scripted"
	DefaultModel      string
	PlaybackDelay     time.Duration
	PlaybackAutostart bool
	LessonFile        string
	PromptsFile       string
	ReviewWordLimit   int
	SessionIdleTTL    time.Duration
}

// TranscriptConfig controls the SQLite transcript journal.
type TranscriptConfig struct {
	Enabled   bool
	DBPath    string
	QueueSize int
	Retention time.Duration
}

// RateLimitConfig bounds streaming requests per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// SSEConfig tunes server-sent event streams.
type SSEConfig struct {
	KeepAliveInterval time.Duration
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string
	File  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "9090"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		Ollama: OllamaConfig{
			BaseURL:        getEnv("OLLAMA_BASE_URL", defaultOllamaURL()),
			APIKey:         getEnv("OLLAMA_API_KEY", "ollama"),
			RequestTimeout: getEnvDuration("MODEL_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Tutor: TutorConfig{
			Mode:              getEnv("TUTOR_MODE", "chat"),
			DefaultModel:      getEnv("DEFAULT_MODEL", ""),
			PlaybackDelay:     getEnvDuration("PLAYBACK_DELAY", 3*time.Second),
			PlaybackAutostart: getEnvBool("PLAYBACK_AUTOSTART", true),
			LessonFile:        getEnv("LESSON_FILE", ""),
			PromptsFile:       getEnv("PROMPTS_FILE", ""),
			ReviewWordLimit:   getEnvInt("REVIEW_WORD_LIMIT", 100),
			SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", true),
			DBPath:    getEnv("DB_PATH", "./data/transcripts.db"),
			QueueSize: queueSize,
			Retention: getEnvDuration("TRANSCRIPT_RETENTION", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepAliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.Ollama.BaseURL == "" {
		errs = append(errs, errors.New("OLLAMA_BASE_URL cannot be empty"))
	}
	switch strings.ToLower(c.Tutor.Mode) {
	case "chat", "scripted":
	default:
		errs = append(errs, fmt.Errorf("TUTOR_MODE must be chat or scripted, got %q", c.Tutor.Mode))
	}
	if c.Tutor.PlaybackDelay < 0 {
		errs = append(errs, errors.New("PLAYBACK_DELAY cannot be negative"))
	}
	if c.Tutor.SessionIdleTTL <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL must be > 0"))
	}
	if c.Tutor.ReviewWordLimit <= 0 {
		errs = append(errs, errors.New("REVIEW_WORD_LIMIT must be > 0"))
	}
	if c.Transcript.Enabled && c.Transcript.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.Transcript.QueueSize <= 0 {
		errs = append(errs, errors.New("TRANSCRIPT_QUEUE_SIZE must be > 0"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.SSE.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("SSE_KEEPALIVE_INTERVAL must be > 0"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultOllamaURL() string {
	if IsContainer() {
		return "http://host.docker.internal:11434"
	}
	return "http://localhost:11434"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
