// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	Backend     BackendConfig
	Welcome     string
	MaxClipMB   int
}

// BackendConfig points at the upstream CDSS service.
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/consult.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Backend: BackendConfig{
			BaseURL:        getEnv("CDSS_API_URL", "http://localhost:8000"),
			RequestTimeout: getEnvDuration("CDSS_REQUEST_TIMEOUT", 120*time.Second),
		},
		Welcome:   getEnv("WELCOME_MESSAGE", "您好，我是您的智能医疗助理。请描述您的症状，或上传病历资料。"),
		MaxClipMB: getEnvInt("MAX_VOICE_CLIP_MB", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("CDSS_API_URL cannot be empty")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("CDSS_REQUEST_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.MaxClipMB <= 0 {
		return fmt.Errorf("MAX_VOICE_CLIP_MB must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
