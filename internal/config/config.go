// Package config loads runtime settings for the readaloud CLI and its dev backend.
//
// Sources, highest priority first:
//  1. the --config flag;
//  2. CONFIG_PATH;
//  3. ./readaloud.yaml;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "readaloud.yaml"

// Config captures the runtime configuration for the client and dev backend.
type Config struct {
	LogLevel string `yaml:"log_level" env:"READALOUD_LOG_LEVEL" env-default:"warn"`

	API         APIConfig         `yaml:"api"`
	Polling     PollingConfig     `yaml:"polling"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Server      ServerConfig      `yaml:"server"`
}

// APIConfig controls how the client reaches the backend.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"        env:"READALOUD_API_BASE_URL"    env-default:"http://localhost:8080/api/v1/"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"READALOUD_REQUEST_TIMEOUT" env-default:"30s"`
	// SessionPath is where credentials persist between runs. Empty keeps them in memory.
	SessionPath    string        `yaml:"session_path"    env:"READALOUD_SESSION_PATH"`
	BooksCacheTTL  time.Duration `yaml:"books_cache_ttl" env:"READALOUD_BOOKS_CACHE_TTL" env-default:"1m"`
}

// PollingConfig controls job progress polling.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval" env:"READALOUD_POLL_INTERVAL" env-default:"30s"`
	// Rate is the number of progress polls per minute allowed across all jobs.
	Rate     int           `yaml:"rate"     env:"READALOUD_POLL_RATE"     env-default:"20"`
	Burst    int           `yaml:"burst"    env:"READALOUD_POLL_BURST"    env-default:"5"`
}

// ObjectStoreConfig points the uploader at an S3-compatible bucket.
type ObjectStoreConfig struct {
	Bucket        string `yaml:"bucket"          env:"READALOUD_S3_BUCKET"`
	Region        string `yaml:"region"          env:"READALOUD_S3_REGION"          env-default:"us-east-1"`
	Endpoint      string `yaml:"endpoint"        env:"READALOUD_S3_ENDPOINT"`
	PublicBaseURL string `yaml:"public_base_url" env:"READALOUD_S3_PUBLIC_BASE_URL"`
	Prefix        string `yaml:"prefix"          env:"READALOUD_S3_PREFIX"          env-default:"uploads"`
}

// ServerConfig configures the local dev backend.
type ServerConfig struct {
	Port            int           `yaml:"port"             env:"READALOUD_PORT"             env-default:"8080"`
	DatabaseURL     string        `yaml:"database_url"     env:"READALOUD_DATABASE_URL"`
	AccessTTL       time.Duration `yaml:"access_ttl"       env:"READALOUD_ACCESS_TTL"       env-default:"15m"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"      env:"READALOUD_REFRESH_TTL"      env-default:"720h"`
	StepDelay       time.Duration `yaml:"step_delay"       env:"READALOUD_STEP_DELAY"       env-default:"3s"`
	PipelineWorkers int           `yaml:"pipeline_workers" env:"READALOUD_PIPELINE_WORKERS" env-default:"2"`
	SignupCredits   int           `yaml:"signup_credits"   env:"READALOUD_SIGNUP_CREDITS"   env-default:"3"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"  env:"READALOUD_METRICS_ENABLED"  env-default:"true"`
	LoginRate       int           `yaml:"login_rate"       env:"READALOUD_LOGIN_RATE"       env-default:"10"`
}

// Load reads configuration from path, CONFIG_PATH, ./readaloud.yaml or the
// environment, in that order.
func Load(path string) (Config, error) {
	var cfg Config

	switch {
	case path != "":
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH"), &cfg); err != nil {
			return Config{}, err
		}
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			if err := readFile(DefaultFile, &cfg); err != nil {
				return Config{}, err
			}
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env config: %w", err)
		}
	}

	if cfg.API.SessionPath == "" && os.Getenv("READALOUD_SESSION_PATH") == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.API.SessionPath = filepath.Join(home, ".readaloud", "session.json")
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	// ReadConfig applies the env overlay after parsing the file.
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	return nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL))
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, errors.New("api.request_timeout must be positive"))
	}
	if c.Polling.Interval <= 0 {
		errs = append(errs, errors.New("polling.interval must be positive"))
	}
	if c.Polling.Rate <= 0 {
		errs = append(errs, errors.New("polling.rate must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	return errors.Join(errs...)
}
