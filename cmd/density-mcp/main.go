package main

import (
	"fmt"
	"os"

	"github.com/ironsheep/density-tools-mcp/internal/config"
	"github.com/ironsheep/density-tools-mcp/internal/logger"
	"github.com/ironsheep/density-tools-mcp/internal/server"
	"github.com/ironsheep/density-tools-mcp/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("density-tools-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("density-tools-mcp - MCP server for object density maps")
			fmt.Println()
			fmt.Println("Usage: density-tools-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables (also read from .env):")
			fmt.Println("  DENSITY_MCP_LOG_LEVEL=debug       Log level (debug, info, warn, error)")
			fmt.Println("  DENSITY_MCP_LOG_FORMAT=json       Log format (console, json)")
			fmt.Println("  DENSITY_MCP_TILE_SIZE=256         Build tile edge in output pixels")
			fmt.Println("  DENSITY_MCP_WORKERS=0             Concurrent tile builders (0 = all CPUs)")
			fmt.Println("  DENSITY_MCP_DEBOUNCE_MS=250       Rebuild delay after object changes")
			fmt.Println("  DENSITY_MCP_DB_PATH=density-mcp.db  SQLite store (empty disables)")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	// Log to stderr (stdout is for MCP protocol)
	log, err := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Debug().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("commit", GitCommit).
		Msg("density MCP server starting")

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
		}
		defer st.Close()
	}

	server.Version = Version
	srv := server.New(cfg, log, st)
	if err := srv.Run(); err != nil {
		log.Error().Err(err).Msg("server error")
		if st != nil {
			st.Close()
		}
		os.Exit(1)
	}
}
