// Package config assembles runtime settings from three layers, each
// overriding the previous: built-in defaults, the TOML config directory
// (config.toml plus an optional secrets.toml overlay), and command-line
// flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

// Sync backends.
const (
	SyncFile   = "file"
	SyncWebDAV = "webdav"
	SyncCloud  = "cloud"
)

// WebDAVConfig is the webdav sync backend's connection settings.
type WebDAVConfig struct {
	Url      string
	Username string
	Password string
}

// S3Config is the cloud sync backend's connection settings. Endpoint may
// point at any S3-compatible server (e.g. MinIO).
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Config holds every runtime setting of the engine.
type Config struct {
	// DataDir holds the local snapshot store and the attachment blobs.
	DataDir string
	// StoreBackend selects the local store: StoreSQLite or StoreJSON.
	StoreBackend string

	// SyncBackend selects the remote: SyncFile, SyncWebDAV or SyncCloud.
	SyncBackend string
	// SyncPath is the sync directory for the file backend.
	SyncPath string
	WebDAV   WebDAVConfig
	S3       S3Config

	// RequestTimeout bounds each attachment transfer end to end.
	RequestTimeout time.Duration
	// ChunkSize is the streaming chunk for attachment transfers, in bytes.
	ChunkSize int

	// MissingBackoff is how long a confirmed-absent resource is not retried.
	MissingBackoff time.Duration
	// ErrorBackoff is how long a failing resource is not retried.
	ErrorBackoff time.Duration

	// PushRetries is the number of re-attempts after the first failed
	// snapshot push; RetryBase is the initial exponential delay.
	PushRetries uint64
	RetryBase   time.Duration

	// TransferWorkers bounds concurrent attachment transfers.
	TransferWorkers int

	// LogFile receives a rotated copy of the log; empty disables it.
	LogFile string
}

// LoadDefaults populates c with the built-in defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = defaultDataDir()
	c.StoreBackend = StoreSQLite
	c.SyncBackend = SyncFile
	c.RequestTimeout = 30 * time.Second
	c.ChunkSize = 64 * 1024
	c.MissingBackoff = 30 * time.Second
	c.ErrorBackoff = 5 * time.Minute
	c.PushRetries = 4
	c.RetryBase = 500 * time.Millisecond
	c.TransferWorkers = 3
}

// LoadConfig constructs a Config: defaults, then the TOML files, then flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseToml(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreJSON:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.SyncBackend {
	case SyncFile:
		if c.SyncPath == "" {
			return fmt.Errorf("sync backend %q requires a sync path", SyncFile)
		}
	case SyncWebDAV:
		if c.WebDAV.Url == "" {
			return fmt.Errorf("sync backend %q requires a webdav url", SyncWebDAV)
		}
	case SyncCloud:
		if c.S3.Bucket == "" {
			return fmt.Errorf("sync backend %q requires an s3 bucket", SyncCloud)
		}
	default:
		return fmt.Errorf("unknown sync backend %q", c.SyncBackend)
	}
	return nil
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "mindwtr"
	}
	return filepath.Join(base, "mindwtr")
}
