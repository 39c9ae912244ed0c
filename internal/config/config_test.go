package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

const validTOML = `
[manifest]
root_url = "https://cdn.example.invalid/client"
selection = "main_only"

[install]
install_root = "/tmp/game"

[scan]
compare_size = true
compare_digest = true

[scheduler]
max_retries = 5
bandwidth_limit = "10MB"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validTOML))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.invalid/client", cfg.Manifest.RootURL)
	assert.Equal(t, model.MainOnly, cfg.SelectionValue())
	assert.Equal(t, model.CompareSize|model.CompareDigest, cfg.Policy())
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
}

func TestLoadMissingRootURL(t *testing.T) {
	toml := `
[install]
install_root = "/tmp/game"
`
	_, err := Load(writeTempConfig(t, toml))
	assert.Error(t, err)
}

func TestLoadMissingInstallRoot(t *testing.T) {
	toml := `
[manifest]
root_url = "https://cdn.example.invalid/client"
`
	_, err := Load(writeTempConfig(t, toml))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownSelection(t *testing.T) {
	toml := `
[manifest]
root_url = "https://cdn.example.invalid/client"
selection = "everything"

[install]
install_root = "/tmp/game"
`
	_, err := Load(writeTempConfig(t, toml))
	assert.Error(t, err)
}

func TestLoadDefaultsScanPolicyWhenUnset(t *testing.T) {
	toml := `
[manifest]
root_url = "https://cdn.example.invalid/client"

[install]
install_root = "/tmp/game"
`
	cfg, err := Load(writeTempConfig(t, toml))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultScanPolicy, cfg.Policy())
	assert.Equal(t, defaultCacheFile, cfg.Install.CacheFile)
	assert.Zero(t, cfg.Scheduler.MaxRetries, "unset max_retries defers to the manifest's advisory RetryNum")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.toml")

	cfg := &Config{
		Manifest: ManifestConfig{RootURL: "https://cdn.example.invalid/client", Selection: "full"},
		Install:  InstallConfig{InstallRoot: "/tmp/game", CacheFile: "cache.json"},
	}

	require.NoError(t, Write(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Manifest.RootURL, loaded.Manifest.RootURL)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCachePathJoinsInstallRoot(t *testing.T) {
	cfg := &Config{Install: InstallConfig{InstallRoot: "/tmp/game", CacheFile: "cache.json"}}
	assert.Equal(t, filepath.Join("/tmp/game", "cache.json"), cfg.CachePath())
}

func TestCachePathRespectsAbsoluteOverride(t *testing.T) {
	cfg := &Config{Install: InstallConfig{InstallRoot: "/tmp/game", CacheFile: "/var/cache/stardriver.json"}}
	assert.Equal(t, "/var/cache/stardriver.json", cfg.CachePath())
}

func TestParseBandwidthLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"10MB", 10 * 1024 * 1024},
		{"512KB", 512 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"100", 100},
	}
	for _, c := range cases {
		got, err := ParseBandwidthLimit(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestParseBandwidthLimitRejectsGarbage(t *testing.T) {
	_, err := ParseBandwidthLimit("not-a-number")
	assert.Error(t, err)
}
