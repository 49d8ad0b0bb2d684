package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// AppConfig is read from an optional .env file, an optional YAML file named
// by CUBE_DUEL_CONFIG, then the environment. Later sources win.
type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	Store       string `yaml:"store"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	ScrambleLength int           `yaml:"scramble_length"`
	RoundTTL       time.Duration `yaml:"round_ttl"`

	APIBaseURL string `yaml:"api_base_url"`
	APIWSURL   string `yaml:"api_ws_url"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:       ":8080",
		Store:          StoreRedis,
		PollInterval:   3 * time.Second,
		ScrambleLength: 12,
	}
}

// Load builds the server configuration.
func Load() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	switch cfg.Store {
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE must be redis or postgres, got %q", cfg.Store)
	}
	return cfg, nil
}

// LoadClient builds the configuration used by cubectl. API_WS_URL defaults to
// API_BASE_URL with a ws scheme.
func LoadClient() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	if cfg.APIWSURL == "" {
		cfg.APIWSURL = "ws" + strings.TrimPrefix(cfg.APIBaseURL, "http")
	}
	return cfg, nil
}

func read() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CUBE_DUEL_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.PollInterval <= 0 {
		return nil, errors.New("POLL_INTERVAL must be positive")
	}
	if cfg.ScrambleLength <= 0 {
		return nil, errors.New("SCRAMBLE_LENGTH must be positive")
	}
	if cfg.RoundTTL < 0 {
		return nil, errors.New("ROUND_TTL must not be negative")
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("HTTP_ADDR", &c.HTTPAddr)
	setString("STORE", &c.Store)
	setString("REDIS_URL", &c.RedisURL)
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("API_BASE_URL", &c.APIBaseURL)
	setString("API_WS_URL", &c.APIWSURL)

	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("ROUND_TTL")); v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("ROUND_TTL: %w", err)
		}
		c.RoundTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("SCRAMBLE_LENGTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCRAMBLE_LENGTH: %w", err)
		}
		c.ScrambleLength = n
	}
	return nil
}

// parseSecondsOrDuration accepts "3600" as well as "1h".
func parseSecondsOrDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
