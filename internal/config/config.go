package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Predictor PredictorConfig `yaml:"predictor"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	LogLevel  string          `yaml:"log_level"`
}

// PredictorConfig points at the remote inference endpoint.
type PredictorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig configures the web server and the gRPC health listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	HealthAddr      string        `yaml:"health_addr"` // empty disables the gRPC health service
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig selects the analysis log store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres|none
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the result cache. An empty address disables it.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

// AuthConfig protects the analysis log API. An empty secret leaves it open.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

// SessionConfig bounds how long an idle browser session keeps its workflow
// and how many sessions may be live at once (0 for no cap).
type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	CookieName  string        `yaml:"cookie_name"`
	MaxSessions int           `yaml:"max_sessions"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Predictor: PredictorConfig{
			URL:     "http://localhost:5000/predict",
			Timeout: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			HealthAddr:      ":9090",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "neuroscan.db",
		},
		Redis: RedisConfig{
			TTL: 10 * time.Minute,
		},
		Session: SessionConfig{
			TTL:         30 * time.Minute,
			CookieName:  "neuroscan_session",
			MaxSessions: 1000,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file in the working directory and the process environment,
// in that order of precedence (later wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Predictor.URL = getEnv("NEUROSCAN_PREDICT_URL", c.Predictor.URL)
	c.Predictor.Timeout = getEnvAsDuration("NEUROSCAN_PREDICT_TIMEOUT", c.Predictor.Timeout)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.HealthAddr = getEnv("GRPC_HEALTH_ADDR", c.HTTP.HealthAddr)
	c.HTTP.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	c.HTTP.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", c.HTTP.MaxUploadBytes)
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.TTL = getEnvAsDuration("REDIS_TTL", c.Redis.TTL)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Session.TTL = getEnvAsDuration("SESSION_TTL", c.Session.TTL)
	c.Session.MaxSessions = int(getEnvAsInt64("MAX_SESSIONS", int64(c.Session.MaxSessions)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Predictor.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("predictor url %q must be an absolute http(s) url", c.Predictor.URL)
	}
	if c.Predictor.Timeout < 0 {
		return errors.New("predictor timeout must not be negative")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http addr is required")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	case "none", "":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("session cookie name is required")
	}
	if c.Session.MaxSessions < 0 {
		return errors.New("max sessions must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
