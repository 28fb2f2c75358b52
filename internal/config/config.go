package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
)

// Config holds all application configuration
type Config struct {
	Database    DatabaseConfig
	Remote      RemoteConfig
	ObjectStore ObjectStoreConfig
	Sync        SyncConfig
	Server      ServerConfig
	Log         LogConfig
}

// DatabaseConfig holds the on-device store location
type DatabaseConfig struct {
	DataDir string
}

// RemoteConfig holds the remote mutation service connection
type RemoteConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ObjectStoreConfig holds the image storage bucket
type ObjectStoreConfig struct {
	Provider  string // aws, minio, r2 or custom
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	AccountID string // r2 only
	PublicURL string
	UseSSL    bool
}

// SyncConfig holds drain and connectivity tuning
type SyncConfig struct {
	MaxRetries            int
	Interval              time.Duration
	ProbeURL              string
	ProbeInterval         time.Duration
	StatusRefreshInterval time.Duration
}

// ServerConfig holds the local API listener
type ServerConfig struct {
	Port string
}

// LogConfig holds logging output settings
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	remoteBase := strings.TrimSuffix(getEnv("REMOTE_BASE_URL", "http://localhost:3000"), "/")

	cfg := &Config{
		Database: DatabaseConfig{
			DataDir: getEnv("DATA_DIR", "./data"),
		},
		Remote: RemoteConfig{
			BaseURL:           remoteBase,
			Timeout:           getDuration("REMOTE_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getFloat("REMOTE_RPS", 10),
			Burst:             getInt("REMOTE_BURST", 5),
		},
		ObjectStore: ObjectStoreConfig{
			Provider:  getEnv("S3_PROVIDER", "custom"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Bucket:    getEnv("S3_BUCKET", "item-photos"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccountID: os.Getenv("S3_ACCOUNT_ID"),
			PublicURL: os.Getenv("S3_PUBLIC_URL"),
			UseSSL:    getEnv("S3_USE_SSL", "true") == "true",
		},
		Sync: SyncConfig{
			MaxRetries:            getInt("SYNC_MAX_RETRIES", 3),
			Interval:              getDuration("SYNC_INTERVAL", time.Minute),
			ProbeURL:              getEnv("PROBE_URL", remoteBase+"/api/health"),
			ProbeInterval:         getDuration("PROBE_INTERVAL", 30*time.Second),
			StatusRefreshInterval: getDuration("STATUS_REFRESH_INTERVAL", 5*time.Second),
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "8090"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "INFO"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the sync core misbehave.
func (c *Config) Validate() error {
	if c.Database.DataDir == "" {
		return apperrors.New(apperrors.ErrConfig, "DATA_DIR is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return apperrors.New(apperrors.ErrConfig, fmt.Sprintf("REMOTE_BASE_URL must be an http(s) URL, got %q", c.Remote.BaseURL))
	}
	if c.Sync.MaxRetries < 1 {
		return apperrors.New(apperrors.ErrConfig, "SYNC_MAX_RETRIES must be at least 1")
	}
	if c.Remote.RequestsPerSecond <= 0 || c.Remote.Burst < 1 {
		return apperrors.New(apperrors.ErrConfig, "REMOTE_RPS and REMOTE_BURST must be positive")
	}
	return nil
}

// ImagesEnabled reports whether enough object store settings are present to upload photos.
func (c *Config) ImagesEnabled() bool {
	o := c.ObjectStore
	if o.Bucket == "" || o.AccessKey == "" || o.SecretKey == "" {
		return false
	}
	switch o.Provider {
	case "aws":
		return true
	case "r2":
		return o.AccountID != ""
	default:
		return o.Endpoint != ""
	}
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
