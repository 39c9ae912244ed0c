// Package config loads and validates the TOML configuration file that
// drives a sync run: which root descriptor to fetch, where to install
// files, which scan policy to apply, and scheduler/transport tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// ManifestConfig identifies the remote dataset to sync (spec §4.1, §4.3).
type ManifestConfig struct {
	RootURL   string `toml:"root_url"`
	Selection string `toml:"selection"` // "full", "main_only", "launcher_only"
	UseBackup bool   `toml:"use_backup"`
}

// InstallConfig controls where files land on disk and where the digest
// cache persists (spec §4.2, §4.6).
type InstallConfig struct {
	InstallRoot string `toml:"install_root"`
	CacheFile   string `toml:"cache_file"`
}

// ScanConfig mirrors model.ScanPolicy's independent bits (spec §4.4).
type ScanConfig struct {
	MissingOnly    bool `toml:"missing_only"`
	CompareSize    bool `toml:"compare_size"`
	CompareDigest  bool `toml:"compare_digest"`
	ForceRehash    bool `toml:"force_rehash"`
	TrustCacheOnly bool `toml:"trust_cache_only"`
}

// SchedulerConfig tunes retry and bandwidth behavior. Worker counts and
// tier thresholds are not exposed here: the 16/6/6 split and the 50MiB /
// 5MiB thresholds are fixed by spec §4.5 and not meant to be operator
// tunables.
type SchedulerConfig struct {
	// MaxRetries overrides the per-task retry count. Zero (the default)
	// means the operator hasn't overridden it, so the orchestrator uses
	// the root descriptor's advisory RetryNum instead (spec §4.7 step 3).
	MaxRetries     int    `toml:"max_retries"`
	BandwidthLimit string `toml:"bandwidth_limit"` // e.g. "10MB", empty = unlimited
}

// HTTPConfig holds the [http] table. UserAgent is parsed but not passed to
// the manifest client, which always sends manifestclient.UserAgent.
type HTTPConfig struct {
	UserAgent string `toml:"user_agent"`
}

// Config is the top-level configuration document.
type Config struct {
	Manifest  ManifestConfig  `toml:"manifest"`
	Install   InstallConfig   `toml:"install"`
	Scan      ScanConfig      `toml:"scan"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	HTTP      HTTPConfig      `toml:"http"`
}

const defaultCacheFile = "stardriver-cache.json"

// DefaultConfigPath returns the platform-appropriate config file path.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stardriver", "config.toml")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "stardriver", "config.toml")
}

// Load reads and parses a TOML config file, applying defaults and
// validating required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Install.CacheFile == "" {
		c.Install.CacheFile = defaultCacheFile
	}
	if c.Manifest.Selection == "" {
		c.Manifest.Selection = "full"
	}
	if !c.Scan.CompareSize && !c.Scan.CompareDigest && !c.Scan.MissingOnly && !c.Scan.TrustCacheOnly {
		c.Scan.CompareSize = true
		c.Scan.CompareDigest = true
	}
}

func (c *Config) validate() error {
	if c.Manifest.RootURL == "" {
		return fmt.Errorf("config: manifest.root_url is required")
	}
	if c.Install.InstallRoot == "" {
		return fmt.Errorf("config: install.install_root is required")
	}
	switch c.Manifest.Selection {
	case "full", "main_only", "launcher_only":
	default:
		return fmt.Errorf("config: manifest.selection must be one of full, main_only, launcher_only, got %q", c.Manifest.Selection)
	}
	return nil
}

// Write serializes cfg to TOML at path, creating parent directories and
// restricting permissions since the document may carry a root URL that
// should not be world-readable.
func Write(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// CachePath returns the absolute path of the digest cache file.
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.Install.CacheFile) {
		return c.Install.CacheFile
	}
	return filepath.Join(c.Install.InstallRoot, c.Install.CacheFile)
}

// SelectionValue converts the configured selection string to its
// model.ClientSelection enum value.
func (c *Config) SelectionValue() model.ClientSelection {
	switch c.Manifest.Selection {
	case "main_only":
		return model.MainOnly
	case "launcher_only":
		return model.LauncherOnly
	default:
		return model.FullDataset
	}
}

// Policy converts the Scan section's independent toggles into a
// model.ScanPolicy bitmask (spec §4.4).
func (c *Config) Policy() model.ScanPolicy {
	var p model.ScanPolicy
	if c.Scan.MissingOnly {
		p |= model.MissingOnly
	}
	if c.Scan.CompareSize {
		p |= model.CompareSize
	}
	if c.Scan.CompareDigest {
		p |= model.CompareDigest
	}
	if c.Scan.ForceRehash {
		p |= model.ForceRehash
	}
	if c.Scan.TrustCacheOnly {
		p |= model.TrustCacheOnly
	}
	return p
}

// ParseBandwidthLimit parses a human string like "10MB", "512KB", or a
// bare byte count into bytes-per-second. An empty string means unlimited
// (returns 0, nil).
func ParseBandwidthLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ToUpper(s)

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	s = strings.TrimSpace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing bandwidth limit %q: %w", s, err)
	}
	return int64(n * float64(multiplier)), nil
}
