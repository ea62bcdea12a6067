package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mindwtr/mindwtr/internal/flagx"
)

// duration lets TOML spell intervals as strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// tomlConfig mirrors the on-disk layout. Credentials live in secrets.toml,
// which uses the same layout and overlays config.toml, so config.toml can be
// kept in a dotfiles repo without leaking passwords.
type tomlConfig struct {
	DataDir      string `toml:"data_dir"`
	StoreBackend string `toml:"store_backend"`
	LogFile      string `toml:"log_file"`

	Sync struct {
		Backend         string   `toml:"backend"`
		Path            string   `toml:"path"`
		RequestTimeout  duration `toml:"request_timeout"`
		ChunkSize       int      `toml:"chunk_size"`
		MissingBackoff  duration `toml:"missing_backoff"`
		ErrorBackoff    duration `toml:"error_backoff"`
		PushRetries     int      `toml:"push_retries"`
		RetryBase       duration `toml:"retry_base"`
		TransferWorkers int      `toml:"transfer_workers"`
	} `toml:"sync"`

	WebDAV struct {
		Url      string `toml:"url"`
		Username string `toml:"username"`
		Password string `toml:"password"`
	} `toml:"webdav"`

	S3 struct {
		Endpoint  string `toml:"endpoint"`
		Region    string `toml:"region"`
		Bucket    string `toml:"bucket"`
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
	} `toml:"s3"`
}

// parseToml overlays cfg with config.toml and then secrets.toml from the
// config directory (resolved via -c/-config, defaulting next to the data
// dir). Missing files are fine; malformed ones are not.
func parseToml(cfg *Config) error {
	dir := flagx.ConfigFlags()
	if dir == "" {
		dir = defaultDataDir()
	}

	for _, name := range []string{"config.toml", "secrets.toml"} {
		var tc tomlConfig
		path := filepath.Join(dir, name)
		if _, err := toml.DecodeFile(path, &tc); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("parse %s: %w", path, err)
		}
		applyToml(cfg, &tc)
	}
	return nil
}

func applyToml(cfg *Config, tc *tomlConfig) {
	setString(&cfg.DataDir, expandHome(tc.DataDir))
	setString(&cfg.StoreBackend, tc.StoreBackend)
	setString(&cfg.LogFile, tc.LogFile)

	setString(&cfg.SyncBackend, tc.Sync.Backend)
	setString(&cfg.SyncPath, expandHome(tc.Sync.Path))
	setDuration(&cfg.RequestTimeout, tc.Sync.RequestTimeout)
	if tc.Sync.ChunkSize > 0 {
		cfg.ChunkSize = tc.Sync.ChunkSize
	}
	setDuration(&cfg.MissingBackoff, tc.Sync.MissingBackoff)
	setDuration(&cfg.ErrorBackoff, tc.Sync.ErrorBackoff)
	if tc.Sync.PushRetries > 0 {
		cfg.PushRetries = uint64(tc.Sync.PushRetries)
	}
	setDuration(&cfg.RetryBase, tc.Sync.RetryBase)
	if tc.Sync.TransferWorkers > 0 {
		cfg.TransferWorkers = tc.Sync.TransferWorkers
	}

	setString(&cfg.WebDAV.Url, tc.WebDAV.Url)
	setString(&cfg.WebDAV.Username, tc.WebDAV.Username)
	setString(&cfg.WebDAV.Password, tc.WebDAV.Password)

	setString(&cfg.S3.Endpoint, tc.S3.Endpoint)
	setString(&cfg.S3.Region, tc.S3.Region)
	setString(&cfg.S3.Bucket, tc.S3.Bucket)
	setString(&cfg.S3.AccessKey, tc.S3.AccessKey)
	setString(&cfg.S3.SecretKey, tc.S3.SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

// expandHome is a convenience for paths written as ~/... in TOML.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
