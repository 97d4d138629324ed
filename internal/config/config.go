// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "DENSITY_MCP_"

// Config holds the server settings.
type Config struct {
	LogLevel  string
	LogFormat string
	// TileSize is the density map build tile edge in output pixels.
	TileSize int
	// Workers is the number of concurrent tile builders; 0 means GOMAXPROCS.
	Workers  int
	Debounce time.Duration
	// DBPath is the SQLite database; empty disables persistence tools.
	DBPath      string
	RasterCache int
	MinMaxCache int
	TileCache   int
	ImageCache  int
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "console",
		TileSize:    256,
		Debounce:    250 * time.Millisecond,
		DBPath:      "density-mcp.db",
		RasterCache: 8,
		MinMaxCache: 32,
		TileCache:   64,
		ImageCache:  10,
	}
}

// Load reads an optional .env file from the working directory, then the
// environment. Missing files are ignored; malformed values are errors.
func Load(files ...string) (Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load(files...)
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(name string) (string, bool) { return lookup(Prefix + name) }

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := get("DB_PATH"); ok {
		cfg.DBPath = v
	}

	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{"TILE_SIZE", &cfg.TileSize, 1},
		{"WORKERS", &cfg.Workers, 0},
		{"RASTER_CACHE", &cfg.RasterCache, 1},
		{"MINMAX_CACHE", &cfg.MinMaxCache, 1},
		{"TILE_CACHE", &cfg.TileCache, 1},
		{"IMAGE_CACHE", &cfg.ImageCache, 1},
	}
	for _, f := range ints {
		v, ok := get(f.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s%s %q: %w", Prefix, f.name, v, err)
		}
		if n < f.min {
			return Config{}, fmt.Errorf("invalid %s%s %d: must be >= %d", Prefix, f.name, n, f.min)
		}
		*f.dst = n
	}

	if v, ok := get("DEBOUNCE_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid %sDEBOUNCE_MS %q: must be a positive integer", Prefix, v)
		}
		cfg.Debounce = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}
