package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default sync tunables. PageSize matches the upstream API's maximum
// batch size for history listing.
const (
	DefaultPageSize = 100
)

// Config represents the global ~/.telvault/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Sync   SyncConfig   `toml:"sync"`
	Bridge BridgeConfig `toml:"bridge"`
}

// SyncConfig holds per-run sync engine tunables.
type SyncConfig struct {
	// PageSize is the message batch size per remote listing call.
	PageSize int `toml:"page_size"`
	// DownloadMedia enables attachment download during sync passes.
	DownloadMedia bool `toml:"download_media"`
	// MediaDir overrides the default media root inside the session dir.
	MediaDir string `toml:"media_dir"`
}

// BridgeConfig points at the local MTProto bridge sidecar that owns the
// remote connection and credentials.
type BridgeConfig struct {
	URL string `toml:"url"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Bridge.URL == "" {
		c.Bridge.URL = "http://127.0.0.1:8118"
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
