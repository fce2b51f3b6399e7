package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://api.openai.com/v1", cfg.BackendBaseURL)
	assert.Equal(t, int64(10485760), cfg.MaxImageBytes)
	assert.Equal(t, int64(64), cfg.DeltaBuffer)
	assert.Equal(t, 5*time.Minute, cfg.ModelCacheTTL)
	assert.Empty(t, cfg.StoreDSN)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MINSTREL_ADDR", ":9999")
	t.Setenv("MINSTREL_MODEL", "gpt-4o")
	t.Setenv("MINSTREL_MODEL_CACHE_TTL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.ModelCacheTTL)
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	t.Setenv("MINSTREL_ADDR", ":9999")

	path := filepath.Join(t.TempDir(), "minstrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":7070\"\nmodel: claude-sonnet\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "claude-sonnet", cfg.Model)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minstrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxImageBytes: -1\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limits")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
