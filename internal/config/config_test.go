package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DENSITY_MCP_LOG_LEVEL":   "debug",
		"DENSITY_MCP_LOG_FORMAT":  "json",
		"DENSITY_MCP_TILE_SIZE":   "64",
		"DENSITY_MCP_WORKERS":     "3",
		"DENSITY_MCP_DEBOUNCE_MS": "40",
		"DENSITY_MCP_DB_PATH":     "",
		"DENSITY_MCP_TILE_CACHE":  "5",
	}))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 64, cfg.TileSize)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 40*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "", cfg.DBPath)
	assert.Equal(t, 5, cfg.TileCache)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"DENSITY_MCP_TILE_SIZE":    "big",
		"DENSITY_MCP_WORKERS":      "-1",
		"DENSITY_MCP_DEBOUNCE_MS":  "0",
		"DENSITY_MCP_MINMAX_CACHE": "0",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(map[string]string{name: value}))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DENSITY_MCP_TILE_SIZE=32\n"), 0o644))
	t.Setenv("DENSITY_MCP_TILE_SIZE", "")
	os.Unsetenv("DENSITY_MCP_TILE_SIZE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.TileSize)
}
