// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server  ServerConfig
	Moodle  MoodleConfig
	Sync    SyncConfig
	Upload  UploadConfig
	Rate    RateLimitConfig
	Logging LoggingConfig
	History HistoryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// MoodleConfig holds settings for the Moodle web-service API.
type MoodleConfig struct {
	// URL is the REST endpoint, e.g. https://moodle.example/webservice/rest/server.php (required)
	URL string `env:"MOODLE_URL" required:"true"`

	// Token is the web-service token with permission for the used functions (required)
	Token string `env:"MOODLE_TOKEN" required:"true"`

	// RoleID is the role assigned on enrolment (default: 5, Student)
	RoleID int `env:"MOODLE_ROLE_ID" default:"5"`

	// Timeout is the per-call HTTP timeout; calls are never retried (default: 30s)
	Timeout time.Duration `env:"MOODLE_TIMEOUT" default:"30s"`

	// MaxUsernameLen caps generated usernames; Moodle rejects usernames over 100 chars (default: 100)
	MaxUsernameLen int `env:"MOODLE_MAX_USERNAME_LEN" default:"100"`
}

// SyncConfig holds batch processing settings.
type SyncConfig struct {
	// MaxConcurrentJobs is the maximum number of parallel sync jobs (default: 3)
	MaxConcurrentJobs int `env:"SYNC_MAX_CONCURRENT_JOBS" default:"3"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"SYNC_MAX_WAIT_TIME" default:"30s"`

	// Workers is the number of rows processed in parallel within one job.
	// 1 keeps outcome events in row order (default: 1)
	Workers int `env:"SYNC_WORKERS" default:"1"`

	// JobTimeout is the maximum duration for a single batch (default: 30m)
	JobTimeout time.Duration `env:"SYNC_JOB_TIMEOUT" default:"30m"`
}

// UploadConfig holds CSV upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed roster file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// HistoryConfig holds optional batch history persistence settings.
type HistoryConfig struct {
	// DatabaseURL is a PostgreSQL connection string. When empty, batch
	// history persistence is disabled and the service runs stateless.
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
