// Package config provides configuration management for termpilot.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for termpilot.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Session   SessionConfig   `mapstructure:"session"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Detection DetectionConfig `mapstructure:"detection"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration. The server carries the
// completion push endpoint, so it binds loopback by default.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StorageConfig holds SQLite storage configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"` // database file path
}

// AgentConfig describes how the agent CLI process is spawned.
type AgentConfig struct {
	// Command is the agent binary name or path (resolved via PATH lookup).
	Command string `mapstructure:"command"`

	// Args are extra arguments always passed to the agent binary.
	Args []string `mapstructure:"args"`

	// ResumeFlag is the flag used to reattach to an external session id.
	ResumeFlag string `mapstructure:"resumeFlag"`

	// ExtraPathDirs are prepended to PATH so the agent binary and its
	// helpers are discoverable when the service runs outside a login shell.
	ExtraPathDirs []string `mapstructure:"extraPathDirs"`

	// Cols/Rows are the pty dimensions for spawned processes.
	Cols int `mapstructure:"cols"`
	Rows int `mapstructure:"rows"`
}

// SessionConfig holds session management configuration.
type SessionConfig struct {
	// MaxSessions bounds the number of concurrently open sessions.
	MaxSessions int `mapstructure:"maxSessions"`

	// RetentionDays controls the startup sweep of stale persisted records.
	RetentionDays int `mapstructure:"retentionDays"`

	// ResumeGraceMs is the window after a resume spawn during which output
	// is scanned for stale-resume markers.
	ResumeGraceMs int `mapstructure:"resumeGraceMs"`

	// StaleResumeMarkers are literal substrings that indicate the external
	// session id no longer resumes cleanly.
	StaleResumeMarkers []string `mapstructure:"staleResumeMarkers"`

	// TerminateTimeoutMs bounds graceful termination before escalating to a
	// forceful kill.
	TerminateTimeoutMs int `mapstructure:"terminateTimeoutMs"`
}

// ExecutionConfig holds execution state machine configuration.
type ExecutionConfig struct {
	// TimeoutMs is the default ceiling on the Executing state. Zero means
	// no timeout.
	TimeoutMs int `mapstructure:"timeoutMs"`

	// StepDelayMs is the delay between chained executions.
	StepDelayMs int `mapstructure:"stepDelayMs"`

	// QueueSize bounds the pending work queue.
	QueueSize int `mapstructure:"queueSize"`
}

// DetectionConfig holds completion detection configuration.
type DetectionConfig struct {
	// PollIntervalMs is the poll-path scan interval.
	PollIntervalMs int `mapstructure:"pollIntervalMs"`

	// IdleMarkers are literal strings matched near the tail of the rendered
	// terminal output to detect an idle prompt.
	IdleMarkers []string `mapstructure:"idleMarkers"`

	// TailLines is how many rendered lines from the bottom of the screen
	// are scanned for idle markers.
	TailLines int `mapstructure:"tailLines"`

	// DisablePollAfterPush skips starting the poll watcher for sessions
	// that have already delivered a push completion, treating the push path
	// as authoritative once observed.
	DisablePollAfterPush bool `mapstructure:"disablePollAfterPush"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Retention returns the retention window as a time.Duration.
func (s *SessionConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// ResumeGrace returns the stale-resume detection window as a time.Duration.
func (s *SessionConfig) ResumeGrace() time.Duration {
	return time.Duration(s.ResumeGraceMs) * time.Millisecond
}

// TerminateTimeout returns the graceful termination ceiling as a time.Duration.
func (s *SessionConfig) TerminateTimeout() time.Duration {
	return time.Duration(s.TerminateTimeoutMs) * time.Millisecond
}

// Timeout returns the execution ceiling as a time.Duration.
func (e *ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// StepDelay returns the inter-step delay as a time.Duration.
func (e *ExecutionConfig) StepDelay() time.Duration {
	return time.Duration(e.StepDelayMs) * time.Millisecond
}

// PollInterval returns the poll-path interval as a time.Duration.
func (d *DetectionConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("TERMPILOT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultStoragePath places the database under the user home directory.
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "termpilot.db"
	}
	return home + "/.termpilot/termpilot.db"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults - loopback only, the push endpoint trusts localhost
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 48752)
	v.SetDefault("server.readTimeout", 30)
	// The synchronous execute endpoint blocks for the length of an agent
	// turn; zero disables the write deadline.
	v.SetDefault("server.writeTimeout", 0)

	// Storage defaults
	v.SetDefault("storage.path", defaultStoragePath())

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.resumeFlag", "-r")
	v.SetDefault("agent.extraPathDirs", []string{"/usr/local/bin", "/opt/homebrew/bin"})
	v.SetDefault("agent.cols", 120)
	v.SetDefault("agent.rows", 40)

	// Session defaults
	v.SetDefault("session.maxSessions", 4)
	v.SetDefault("session.retentionDays", 7)
	v.SetDefault("session.resumeGraceMs", 2000)
	v.SetDefault("session.staleResumeMarkers", []string{
		"No conversation found",
		"session not found",
		"is not a valid session",
	})
	v.SetDefault("session.terminateTimeoutMs", 3000)

	// Execution defaults - no timeout unless configured
	v.SetDefault("execution.timeoutMs", 0)
	v.SetDefault("execution.stepDelayMs", 1000)
	v.SetDefault("execution.queueSize", 100)

	// Detection defaults
	v.SetDefault("detection.pollIntervalMs", 1500)
	v.SetDefault("detection.idleMarkers", []string{
		"? for shortcuts",
		"/ for commands",
		"esc to undo",
	})
	v.SetDefault("detection.tailLines", 8)
	v.SetDefault("detection.disablePollAfterPush", false)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "termpilot")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TERMPILOT_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or ~/.termpilot/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TERMPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("session.maxSessions", "TERMPILOT_SESSION_MAX_SESSIONS")
	_ = v.BindEnv("agent.command", "TERMPILOT_AGENT_COMMAND")
	_ = v.BindEnv("storage.path", "TERMPILOT_STORAGE_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.termpilot")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command is required")
	}

	if cfg.Session.MaxSessions <= 0 {
		errs = append(errs, "session.maxSessions must be positive")
	}
	if cfg.Session.RetentionDays <= 0 {
		errs = append(errs, "session.retentionDays must be positive")
	}

	if cfg.Detection.PollIntervalMs <= 0 {
		errs = append(errs, "detection.pollIntervalMs must be positive")
	}
	if cfg.Detection.TailLines <= 0 {
		errs = append(errs, "detection.tailLines must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
