package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultContentDir      = "/app/site/content/recipes"
	defaultSiteConfigPath  = "/app/site/config.toml"
	defaultSiteBaseURL     = "http://127.0.0.1:8080"
	defaultImagePath       = "/app/default.jpg"
	defaultListenAddr      = ":8000"
	defaultBatchTTL        = 3600
	defaultBulkConcurrency = 4
	defaultFetchTimeout    = 10
	defaultCurlTimeout     = 15
	defaultPollIntervalMS  = 500
	defaultPollAttempts    = 20
	defaultMaxUploadBytes  = 20 << 20
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
)

// Config holds everything the ingestion service needs at startup.
type Config struct {
	ContentDir          string `toml:"content_dir"`
	SiteConfigPath      string `toml:"site_config_path"`
	SiteBaseURL         string `toml:"site_base_url"`
	DefaultImage        string `toml:"default_image"`
	ListenAddr          string `toml:"listen_addr"`
	DBPath              string `toml:"db_path"`
	BatchTTLSeconds     int    `toml:"batch_ttl_seconds"`
	BulkConcurrency     int    `toml:"bulk_concurrency"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	CurlTimeoutSeconds  int    `toml:"curl_timeout_seconds"`
	ReadyPollIntervalMS int    `toml:"ready_poll_interval_ms"`
	ReadyPollAttempts   int    `toml:"ready_poll_attempts"`
	MaxUploadBytes      int64  `toml:"max_upload_bytes"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Config{
		ContentDir:          defaultContentDir,
		SiteConfigPath:      defaultSiteConfigPath,
		SiteBaseURL:         defaultSiteBaseURL,
		DefaultImage:        defaultImagePath,
		ListenAddr:          defaultListenAddr,
		DBPath:              filepath.Join(home, ".recipebox", "journal.db"),
		BatchTTLSeconds:     defaultBatchTTL,
		BulkConcurrency:     defaultBulkConcurrency,
		FetchTimeoutSeconds: defaultFetchTimeout,
		CurlTimeoutSeconds:  defaultCurlTimeout,
		ReadyPollIntervalMS: defaultPollIntervalMS,
		ReadyPollAttempts:   defaultPollAttempts,
		MaxUploadBytes:      defaultMaxUploadBytes,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
	}
}

// LoadConfig starts from DefaultConfig, applies the TOML file named by
// RECIPEBOX_CONFIG (when set) and then RECIPEBOX_* environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv("RECIPEBOX_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.normalize()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			// ignore garbage, keep the previous value
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("RECIPEBOX_CONTENT_DIR", &c.ContentDir)
	setString("RECIPEBOX_SITE_CONFIG", &c.SiteConfigPath)
	setString("RECIPEBOX_SITE_URL", &c.SiteBaseURL)
	setString("RECIPEBOX_DEFAULT_IMAGE", &c.DefaultImage)
	setString("RECIPEBOX_LISTEN_ADDR", &c.ListenAddr)
	setString("RECIPEBOX_DB_PATH", &c.DBPath)
	setString("RECIPEBOX_LOG_LEVEL", &c.LogLevel)
	setString("RECIPEBOX_LOG_FORMAT", &c.LogFormat)
	setInt("RECIPEBOX_BATCH_TTL_SECONDS", &c.BatchTTLSeconds)
	setInt("RECIPEBOX_BULK_CONCURRENCY", &c.BulkConcurrency)
	setInt("RECIPEBOX_READY_POLL_ATTEMPTS", &c.ReadyPollAttempts)
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BatchTTLSeconds <= 0 {
		c.BatchTTLSeconds = d.BatchTTLSeconds
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = d.BulkConcurrency
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = d.FetchTimeoutSeconds
	}
	if c.CurlTimeoutSeconds <= 0 {
		c.CurlTimeoutSeconds = d.CurlTimeoutSeconds
	}
	if c.ReadyPollIntervalMS <= 0 {
		c.ReadyPollIntervalMS = d.ReadyPollIntervalMS
	}
	if c.ReadyPollAttempts < 0 {
		c.ReadyPollAttempts = 0
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	c.SiteBaseURL = strings.TrimRight(c.SiteBaseURL, "/")
}

func (c Config) BatchTTL() time.Duration {
	return time.Duration(c.BatchTTLSeconds) * time.Second
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) CurlTimeout() time.Duration {
	return time.Duration(c.CurlTimeoutSeconds) * time.Second
}

func (c Config) ReadyPollInterval() time.Duration {
	return time.Duration(c.ReadyPollIntervalMS) * time.Millisecond
}
