package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment
// variables.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Session  SessionConfig
	Approval ApprovalConfig
	Chat     ChatConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecret string //nolint:gosec // G117: JWT signing secret config
	APIKeys   []string
}

// SessionConfig holds session store and persistence settings.
type SessionConfig struct {
	DataDir          string
	SaveTimeout      time.Duration
	AutoSaveInterval time.Duration
	FlushTimeout     time.Duration
	SweepInterval    time.Duration
	MaxAge           time.Duration
}

// ApprovalConfig holds tool-approval correlator settings.
type ApprovalConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

// ChatConfig holds chat transport settings.
type ChatConfig struct {
	EngineType        string
	HeartbeatInterval time.Duration
}

// Load reads configuration from environment variables. Defaults are safe for
// local development only; in production the JWT secret or an API key list
// must be set explicitly.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("TRIAGE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TRIAGE_SERVER_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	saveTimeout, err := getEnvDuration("TRIAGE_SESSION_SAVE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	autoSaveInterval, err := getEnvDuration("TRIAGE_SESSION_AUTOSAVE_INTERVAL", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	flushTimeout, err := getEnvDuration("TRIAGE_SESSION_FLUSH_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sweepInterval, err := getEnvDuration("TRIAGE_SESSION_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAge, err := getEnvDuration("TRIAGE_SESSION_MAX_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	approvalTimeout, err := getEnvDuration("TRIAGE_APPROVAL_TIMEOUT", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	approvalSweep, err := getEnvDuration("TRIAGE_APPROVAL_SWEEP_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	heartbeat, err := getEnvDuration("TRIAGE_WS_HEARTBEAT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("TRIAGE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("TRIAGE_CORS_ORIGINS", []string{"http://localhost:5173"}),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("TRIAGE_JWT_SECRET", ""),
			APIKeys:   getEnvList("TRIAGE_API_KEYS", nil),
		},
		Session: SessionConfig{
			DataDir:          getEnv("TRIAGE_DATA_DIR", "./data/sessions"),
			SaveTimeout:      saveTimeout,
			AutoSaveInterval: autoSaveInterval,
			FlushTimeout:     flushTimeout,
			SweepInterval:    sweepInterval,
			MaxAge:           maxAge,
		},
		Approval: ApprovalConfig{
			Timeout:       approvalTimeout,
			SweepInterval: approvalSweep,
		},
		Chat: ChatConfig{
			EngineType:        getEnv("TRIAGE_ENGINE", "loopback"),
			HeartbeatInterval: heartbeat,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return errors.New("TRIAGE_JWT_SECRET or TRIAGE_API_KEYS is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("TRIAGE_JWT_SECRET must be at least 32 characters")
	}

	if c.Session.DataDir == "" {
		return errors.New("TRIAGE_DATA_DIR must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TRIAGE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	// The write timeout may be zero: chat websockets are long-lived and a
	// server-level write deadline would sever them.
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("TRIAGE_SERVER_WRITE_TIMEOUT must not be negative, got %s", c.Server.WriteTimeout)
	}
	if c.Session.SaveTimeout <= 0 {
		return fmt.Errorf("TRIAGE_SESSION_SAVE_TIMEOUT must be positive, got %s", c.Session.SaveTimeout)
	}
	if c.Session.AutoSaveInterval <= 0 {
		return fmt.Errorf("TRIAGE_SESSION_AUTOSAVE_INTERVAL must be positive, got %s", c.Session.AutoSaveInterval)
	}
	if c.Session.FlushTimeout <= 0 {
		return fmt.Errorf("TRIAGE_SESSION_FLUSH_TIMEOUT must be positive, got %s", c.Session.FlushTimeout)
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("TRIAGE_SESSION_MAX_AGE must be positive, got %s", c.Session.MaxAge)
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("TRIAGE_APPROVAL_TIMEOUT must be positive, got %s", c.Approval.Timeout)
	}
	if c.Chat.HeartbeatInterval <= 0 {
		return fmt.Errorf("TRIAGE_WS_HEARTBEAT must be positive, got %s", c.Chat.HeartbeatInterval)
	}
	if c.Chat.EngineType == "" {
		return errors.New("TRIAGE_ENGINE must not be empty")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
