// Package server implements the MCP (Model Context Protocol) server for
// object density maps.
//
// This package provides a JSON-RPC 2.0 server that loads classified objects
// (detections, cells and annotations) for an image, builds density maps
// over them and turns the maps into renderings, hotspots and contours.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Objects:
//   - objects_load: Load GeoJSON objects into a fresh hierarchy
//   - objects_summary: Counts per kind and classification
//   - objects_export: Write the hierarchy, including hotspots and contours, as GeoJSON
//   - objects_save_db, objects_load_db: SQLite snapshots
//   - store_list: List saved snapshots and specs
//
// Specs:
//   - spec_save, spec_load: Named density map specs
//
// Density maps:
//   - density_build: Build a map, cancelling any build in progress
//   - density_minmax: Per-channel ranges
//   - density_render: Colored PNG of a channel, optionally over the background
//   - density_hotspots: Add peak annotations
//   - density_contours: Add threshold outline annotations
//   - density_export: Channel PNGs with a JSON sidecar, or a rendered image
//   - density_import: Load exported channels back as a density map
//
// # Workspace
//
// One workspace is active at a time: the object hierarchy of the last
// objects_load or objects_load_db call and a build session watching it.
// Adding hotspots or contours changes the hierarchy, and the session
// rebuilds the latest map after a quiet period (DENSITY_MCP_DEBOUNCE_MS).
// Built and imported maps are kept in a bounded cache keyed by raster_id;
// tools that take a raster_id default to the latest map of the workspace.
// Snapshots reloaded with objects_load_db keep their object IDs, so parent
// references of saved hotspots and contours stay valid.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	srv := server.New(cfg, log, st)
//	if err := srv.Run(); err != nil {
//	    log.Fatal().Err(err).Msg("server error")
//	}
package server
