// Package config loads configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/blobtext/internal/blobapi"
	"github.com/fruitsalade/blobtext/internal/gateway"
	s3gateway "github.com/fruitsalade/blobtext/internal/gateway/s3"
)

// Config holds all blobtext configuration.
type Config struct {
	// Server
	ListenAddr    string `yaml:"listen_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Gateway ("memory", "local", "s3", "postgres" or "remote")
	Gateway        string        `yaml:"gateway"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`

	// Local storage
	LocalStoragePath string `yaml:"local_storage_path"`

	// S3 storage
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Region    string `yaml:"s3_region"`
	S3PublicURL string `yaml:"s3_public_url"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Remote blob API
	RemoteBlobURL   string `yaml:"remote_blob_url"`
	RemoteBlobToken string `yaml:"remote_blob_token"`

	// Auth (optional: the explorer API is open when empty)
	JWTSecret string `yaml:"jwt_secret"`

	// Behaviour
	BlobAPIEnabled bool  `yaml:"blob_api_enabled"`
	PruneStale     bool  `yaml:"prune_stale"`
	MaxContentSize int64 `yaml:"max_content_size"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
		PublicBaseURL:  "http://localhost:8080",
		LogLevel:       "info",
		LogFormat:      "json",
		Gateway:        "memory",
		GatewayTimeout: 10 * time.Second,
		S3Region:       "us-east-1",
		BlobAPIEnabled: true,
		MaxContentSize: 10 * 1024 * 1024, // 10MB
	}
}

// Load reads configuration. CONFIG_FILE, when set, is applied over the
// defaults and environment variables are applied over the file.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides before calling Validate.
func Read() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.PublicBaseURL = strings.TrimRight(envOr("PUBLIC_BASE_URL", c.PublicBaseURL), "/")
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.Gateway = strings.ToLower(envOr("GATEWAY", c.Gateway))
	c.GatewayTimeout = envDuration("GATEWAY_TIMEOUT", c.GatewayTimeout)
	c.LocalStoragePath = envOr("LOCAL_STORAGE_PATH", c.LocalStoragePath)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = envOr("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envOr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = envOr("S3_REGION", c.S3Region)
	c.S3PublicURL = envOr("S3_PUBLIC_URL", c.S3PublicURL)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.RemoteBlobURL = envOr("REMOTE_BLOB_URL", c.RemoteBlobURL)
	c.RemoteBlobToken = envOr("REMOTE_BLOB_TOKEN", c.RemoteBlobToken)
	c.JWTSecret = envOr("JWT_SECRET", c.JWTSecret)
	c.BlobAPIEnabled = envBool("BLOB_API_ENABLED", c.BlobAPIEnabled)
	c.PruneStale = envBool("PRUNE_STALE", c.PruneStale)
	c.MaxContentSize = envInt64("MAX_CONTENT_SIZE", c.MaxContentSize)
}

// Validate checks the settings required by the selected gateway.
func (c *Config) Validate() error {
	switch c.Gateway {
	case "memory":
	case "local":
		if c.LocalStoragePath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required for the local gateway")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 gateway")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres gateway")
		}
	case "remote":
		if c.RemoteBlobURL == "" {
			return fmt.Errorf("REMOTE_BLOB_URL is required for the remote gateway")
		}
	default:
		return fmt.Errorf("unknown gateway %q", c.Gateway)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	return nil
}

// ObjectBaseURL is the URL prefix of objects stored by the memory, local and
// postgres gateways.
func (c *Config) ObjectBaseURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + blobapi.ObjectPrefix
}

// GatewayConfig returns the gateway factory settings.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Backend:       c.Gateway,
		Timeout:       c.GatewayTimeout,
		ObjectBaseURL: c.ObjectBaseURL(),
		LocalPath:     c.LocalStoragePath,
		S3: s3gateway.Config{
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Region:    c.S3Region,
			PublicURL: c.S3PublicURL,
		},
		DatabaseURL: c.DatabaseURL,
		RemoteURL:   c.RemoteBlobURL,
		RemoteToken: c.RemoteBlobToken,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
