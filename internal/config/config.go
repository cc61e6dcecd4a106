// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// DefaultURL is fetched when no URL is given on the command line.
const DefaultURL = "https://en.wikipedia.org/wiki/2023_in_film"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig configures the Chrome instances launched per run.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// CaptureConfig bounds the settle waits and tunes artifact capture.
type CaptureConfig struct {
	DOMContentLoadedTimeout time.Duration `mapstructure:"dom_content_loaded_timeout"`
	NetworkIdleTimeout      time.Duration `mapstructure:"network_idle_timeout"`
	ScreenshotQuality       int           `mapstructure:"screenshot_quality"`
	BlockedResourceTypes    []string      `mapstructure:"blocked_resource_types"`
}

// PipelineConfig governs fan-out and per-URL deadlines.
type PipelineConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Deadline    time.Duration `mapstructure:"deadline"`
	DefaultURLs []string      `mapstructure:"default_urls"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	S3      S3Config    `mapstructure:"s3"`
	Local   LocalConfig `mapstructure:"local"`
}

// S3Config points at an S3-compatible endpoint.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// LocalConfig stores objects under a directory.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for outcome notifications. Empty disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DatabaseConfig controls the outcome ledger. An empty DSN disables it.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// LoadDotEnv exports the variables of each env file that exists without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindProviderEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("capture.dom_content_loaded_timeout", "2s")
	v.SetDefault("capture.network_idle_timeout", "2s")
	v.SetDefault("capture.screenshot_quality", 80)
	v.SetDefault("capture.blocked_resource_types", []string{"image", "media", "font"})
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.deadline", "60s")
	v.SetDefault("pipeline.default_urls", []string{DefaultURL})
	v.SetDefault("storage.backend", BackendS3)
	v.SetDefault("storage.bucket", "aletis")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "auto")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("storage.local.base_dir", "archive")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "fetch_outcomes")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("logging.development", false)
	v.SetDefault("telemetry.service_name", "page-archiver")
}

// bindProviderEnv lets the conventional S3 variables configure the store when
// the prefixed ones are unset.
func bindProviderEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.s3.endpoint":          {"ARCHIVER_STORAGE_S3_ENDPOINT", "ENDPOINT_URL"},
		"storage.s3.access_key_id":     {"ARCHIVER_STORAGE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"},
		"storage.s3.secret_access_key": {"ARCHIVER_STORAGE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.Deadline <= 0 {
		return fmt.Errorf("pipeline.deadline must be > 0")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Capture.DOMContentLoadedTimeout <= 0 || c.Capture.NetworkIdleTimeout <= 0 {
		return fmt.Errorf("capture settle timeouts must be > 0")
	}
	if c.Capture.ScreenshotQuality < 1 || c.Capture.ScreenshotQuality > 100 {
		return fmt.Errorf("capture.screenshot_quality must be within [1,100]")
	}
	switch c.Storage.Backend {
	case BackendS3, BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", c.Storage.Backend)
		}
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of s3, gcs, local, memory", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
