package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds validator configuration.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	CountryPolicy string        `yaml:"country_policy"` // "narrow" | "reject"
	BaseURL       string        `yaml:"base_url"`       // package server
	FetchRPS      float64       `yaml:"fetch_rps"`      // 0 = unlimited
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	Store         string        `yaml:"store"` // "memory" | "sqlite" | "postgres" | "redis"
	StoreDSN      string        `yaml:"store_dsn"`
	OTLPEndpoint  string        `yaml:"otlp_endpoint"`
	Telemetry     bool          `yaml:"telemetry"`
}

func defaults() *Config {
	return &Config{
		LogLevel:      "INFO",
		CountryPolicy: "narrow",
		BaseURL:       "http://localhost:8080/",
		FetchTimeout:  30 * time.Second,
		Store:         "memory",
		OTLPEndpoint:  "localhost:4317",
	}
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults. Environment variables still
// take precedence over the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HCERT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HCERT_COUNTRY_POLICY"); v != "" {
		c.CountryPolicy = v
	}
	if v := os.Getenv("HCERT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("HCERT_FETCH_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.FetchRPS = rps
		}
	}
	if v := os.Getenv("HCERT_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FetchTimeout = d
		}
	}
	if v := os.Getenv("HCERT_STORE"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("HCERT_STORE_DSN"); v != "" {
		c.StoreDSN = v
	}
	if v := os.Getenv("HCERT_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("HCERT_TELEMETRY"); v != "" {
		c.Telemetry = v == "true" || v == "1"
	}
}

// Level maps LogLevel to a slog level. Unknown values mean INFO.
func (c *Config) Level() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds a JSON logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}
