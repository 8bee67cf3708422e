package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Server.Addr)
	assert.Equal(t, 5000, cfg.Locks.TTLMs)
	assert.Equal(t, "distributed", cfg.Tasks.SwarmMode)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  addr: \":9000\"\ntasks:\n  timeout_s: 60\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 60, cfg.Tasks.TimeoutS)
	// untouched sections keep their defaults
	assert.Equal(t, 256, cfg.Server.QueueSize)
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":{"addr":":9100"},"diversity":{"strict_mode":true}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.True(t, cfg.Diversity.StrictMode)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  addr: \":9000\"\n")
	t.Setenv("HARMONY_ADDR", ":7000")
	t.Setenv("HARMONY_LOCK_TTL_MS", "2500")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2500, cfg.Locks.TTLMs)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Tasks.TimeoutS = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.QueueSize = -1
	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "5s", cfg.LockTTL().String())
	assert.Equal(t, "1s", cfg.SweepPeriod().String())
	assert.Equal(t, "5m0s", cfg.TaskTimeout().String())
	assert.Equal(t, "5s", cfg.ConflictWindow().String())
}
