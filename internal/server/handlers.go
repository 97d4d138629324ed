package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb/planar"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "objects_load", "density_build").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn().Err(err).Str("tool", params.Name).Msg("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}
	s.log.Debug().Str("tool", params.Name).Dur("elapsed", time.Since(start)).Msg("tool done")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
// A panicking handler fails its own call instead of the server.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("tool", name).Interface("panic", r).Msg("tool panicked")
			result, err = nil, fmt.Errorf("internal error in %s: %v", name, r)
		}
	}()

	switch name {
	// Objects
	case "objects_load":
		return s.handleObjectsLoad(args)
	case "objects_summary":
		return s.handleObjectsSummary(args)
	case "objects_export":
		return s.handleObjectsExport(args)
	case "objects_save_db":
		return s.handleObjectsSaveDB(ctx, args)
	case "objects_load_db":
		return s.handleObjectsLoadDB(ctx, args)
	case "store_list":
		return s.handleStoreList(ctx, args)

	// Specs
	case "spec_save":
		return s.handleSpecSave(ctx, args)
	case "spec_load":
		return s.handleSpecLoad(ctx, args)

	// Density maps
	case "density_build":
		return s.handleDensityBuild(ctx, args)
	case "density_minmax":
		return s.handleDensityMinMax(ctx, args)
	case "density_render":
		return s.handleDensityRender(ctx, args)
	case "density_hotspots":
		return s.handleDensityHotspots(ctx, args)
	case "density_contours":
		return s.handleDensityContours(ctx, args)
	case "density_export":
		return s.handleDensityExport(ctx, args)
	case "density_import":
		return s.handleDensityImport(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments. Missing arguments leave v untouched.
func decodeArgs(args json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) requireStore() error {
	if s.store == nil {
		return fmt.Errorf("persistence disabled: set DENSITY_MCP_DB_PATH to enable the SQLite store")
	}
	return nil
}

// objectInfo is the client view of one object.
type objectInfo struct {
	ID       int64      `json:"id"`
	Kind     string     `json:"kind"`
	Class    string     `json:"class,omitempty"`
	Name     string     `json:"name,omitempty"`
	ParentID int64      `json:"parent_id,omitempty"`
	Centroid [2]float64 `json:"centroid"`
	Area     float64    `json:"area,omitempty"`
}

func describeObjects(objs []*objects.Object) []objectInfo {
	out := make([]objectInfo, 0, len(objs))
	for _, o := range objs {
		c := o.Centroid()
		info := objectInfo{
			ID:       o.ID,
			Kind:     o.Kind.String(),
			Class:    o.Class,
			Name:     o.Name,
			ParentID: o.ParentID,
			Centroid: [2]float64{c[0], c[1]},
		}
		if o.IsArea() {
			info.Area = math.Abs(planar.Area(o.Geometry))
		}
		out = append(out, info)
	}
	return out
}

// === Object Handlers ===

type objectsLoadArgs struct {
	Path       string  `json:"path"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelSize  float64 `json:"pixel_size"`
	Background string  `json:"background"`
	Z          int     `json:"z"`
	T          int     `json:"t"`
}

type workspaceInfo struct {
	Objects    int           `json:"objects"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	PixelSize  float64       `json:"pixel_size"`
	Plane      objects.Plane `json:"plane"`
	Background string        `json:"background,omitempty"`
}

func (w *workspace) info() workspaceInfo {
	return workspaceInfo{
		Objects:    w.hierarchy.Len(),
		Width:      w.data.Width,
		Height:     w.data.Height,
		PixelSize:  w.data.PixelSize,
		Plane:      w.data.Plane,
		Background: w.background,
	}
}

func (s *Server) handleObjectsLoad(args json.RawMessage) (interface{}, error) {
	var a objectsLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open objects: %w", err)
	}
	defer f.Close()
	objs, err := objects.ReadGeoJSON(f)
	if err != nil {
		return nil, err
	}

	if a.Background != "" && (a.Width <= 0 || a.Height <= 0) {
		info, err := imaging.LoadImageInfo(s.images, a.Background)
		if err != nil {
			return nil, err
		}
		a.Width, a.Height = info.Width, info.Height
	}
	if a.PixelSize <= 0 {
		a.PixelSize = 1
	}

	ws := s.openWorkspace(objs, a.Width, a.Height, a.PixelSize, objects.Plane{Z: a.Z, T: a.T}, a.Background)
	return ws.info(), nil
}

type objectsSummary struct {
	workspaceInfo
	Kinds   map[string]int `json:"kinds"`
	Classes map[string]int `json:"classes"`
	Raster  string         `json:"raster_id,omitempty"`
}

func (s *Server) handleObjectsSummary(args json.RawMessage) (interface{}, error) {
	ws, err := s.current()
	if err != nil {
		return nil, err
	}

	out := objectsSummary{
		workspaceInfo: ws.info(),
		Kinds:         make(map[string]int),
		Classes:       make(map[string]int),
	}
	for _, o := range ws.hierarchy.Objects(objects.Any) {
		out.Kinds[o.Kind.String()]++
		class := o.Class
		if class == "" {
			class = "Unclassified"
		}
		out.Classes[class]++
	}
	if r := ws.session.Current(); r != nil {
		out.Raster = r.ID().String()
	}
	return out, nil
}

type objectsExportArgs struct {
	Path  string `json:"path"`
	Class string `json:"class"`
}

func (s *Server) handleObjectsExport(args json.RawMessage) (interface{}, error) {
	var a objectsExportArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}

	pred := objects.Any
	if a.Class != "" {
		pred = objects.ClassIs(a.Class).Selector()
	}
	objs := ws.hierarchy.Objects(pred)

	f, err := os.Create(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	if err := objects.WriteGeoJSON(f, objs); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}
	return map[string]interface{}{
		"path":    a.Path,
		"objects": len(objs),
	}, nil
}

type nameArgs struct {
	Name string `json:"name"`
}

func (s *Server) handleObjectsSaveDB(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	var a nameArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}
	objs := ws.hierarchy.Objects(objects.Any)
	if err := s.store.SaveSnapshot(ctx, a.Name, ws.data.Width, ws.data.Height, objs); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name":    a.Name,
		"objects": len(objs),
	}, nil
}

type objectsLoadDBArgs struct {
	Name       string  `json:"name"`
	PixelSize  float64 `json:"pixel_size"`
	Background string  `json:"background"`
	Z          *int    `json:"z"`
	T          *int    `json:"t"`
}

// plane picks the plane to build maps on: the requested one, falling back
// per axis to the plane of the first saved object.
func (a objectsLoadDBArgs) plane(objs []*objects.Object) objects.Plane {
	var p objects.Plane
	if len(objs) > 0 {
		p = objs[0].Plane
	}
	if a.Z != nil {
		p.Z = *a.Z
	}
	if a.T != nil {
		p.T = *a.T
	}
	return p
}

func (s *Server) handleObjectsLoadDB(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	var a objectsLoadDBArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	snap, err := s.store.LoadSnapshot(ctx, a.Name)
	if err != nil {
		return nil, err
	}
	if a.PixelSize <= 0 {
		a.PixelSize = 1
	}
	ws := s.openWorkspace(snap.Objects, snap.Width, snap.Height, a.PixelSize, a.plane(snap.Objects), a.Background)
	return ws.info(), nil
}

func (s *Server) handleStoreList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	snaps, err := s.store.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	specs, err := s.store.Specs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(specs)
	return map[string]interface{}{
		"snapshots": snaps,
		"specs":     specs,
	}, nil
}

// === Spec Handlers ===

type specSaveArgs struct {
	Name string          `json:"name"`
	Spec json.RawMessage `json:"spec"`
}

func (s *Server) handleSpecSave(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	var a specSaveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if len(a.Spec) == 0 {
		return nil, fmt.Errorf("spec is required")
	}
	spec, err := densitymap.ParseSpec(a.Spec)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSpec(ctx, a.Name, spec); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name": a.Name,
		"spec": spec,
	}, nil
}

func (s *Server) handleSpecLoad(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	var a nameArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	spec, err := s.store.LoadSpec(ctx, a.Name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name":     a.Name,
		"spec":     spec,
		"channels": spec.ChannelNames(),
	}, nil
}
