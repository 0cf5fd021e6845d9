package config

import (
	"os"
	"path/filepath"
	"testing"

	"patchpack/internal/compression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9000},
		"compression": {"codec": "zstd", "level": 19},
		"workers": 4,
		"log_level": "debug"
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.CacheSize)

	opts, err := cfg.CompressionOptions()
	require.NoError(t, err)
	assert.Equal(t, compression.Options{Algorithm: compression.Zstd, Level: 19}, opts)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"compression": {"codec": "rar"}}`), 0644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, compression.ErrUnknownFormat)
}

func TestLoadDefaultPath(t *testing.T) {
	t.Setenv("PATCHPACK_ENV", "nonexistent-env")
	assert.Equal(t, "config/config.nonexistent-env.json", Path())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
