package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/config"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dwn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: /var/lib/dwn
logLevel: debug
seedTenants:
  - did:key:abc
  - did:key:def
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/dwn", cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"did:key:abc", "did:key:def"}, cfg.SeedTenants)
	require.False(t, cfg.LogJSON)
}

func TestLoadRejectsMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dwn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: info\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := config.Default()
	lc := cfg.LogConfig()
	require.Equal(t, config.Default().LogLevel, string(lc.Level))
	require.False(t, lc.JSONOutput)
}
