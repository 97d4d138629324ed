package server

import (
	"strings"

	"github.com/ironsheep/density-tools-mcp/internal/imaging"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var rasterIDProperty = map[string]interface{}{
	"type":        "string",
	"description": "Density map ID returned by density_build. Defaults to the latest map of the loaded objects.",
}

var channelProperties = map[string]interface{}{
	"channel": map[string]interface{}{
		"type":        "integer",
		"description": "Channel index (0-based). Default 0",
	},
	"channel_name": map[string]interface{}{
		"type":        "string",
		"description": "Channel name, e.g. \"Positive\" or \"All objects\". Overrides channel.",
	},
}

var specProperty = map[string]interface{}{
	"type":        "object",
	"description": "Density map spec: object_type (detections|cells|point_annotations|all), density_classes ([{name, match: exact|base|component|any_positive}]), radius (calibrated units), kernel (box|gaussian), pixel_size (0 = automatic), normalization (raw|percent|gaussian_weighted|area_normalized), area_mode (centroid|footprint)",
	"properties": map[string]interface{}{
		"object_type":     map[string]interface{}{"type": "string"},
		"density_classes": map[string]interface{}{"type": "array"},
		"radius":          map[string]interface{}{"type": "number"},
		"kernel":          map[string]interface{}{"type": "string"},
		"pixel_size":      map[string]interface{}{"type": "number"},
		"normalization":   map[string]interface{}{"type": "string"},
		"area_mode":       map[string]interface{}{"type": "string"},
	},
}

func withProperties(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Objects
		{
			Name:        "objects_load",
			Description: "Load objects from a GeoJSON FeatureCollection into a fresh hierarchy. Feature properties: objectType (detection|cell|tile|annotation), classification, name, plane {z, t}. The image size comes from width/height, the background image, or the object bounds.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the GeoJSON file",
					},
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Full-resolution image width in pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Full-resolution image height in pixels",
					},
					"pixel_size": map[string]interface{}{
						"type":        "number",
						"description": "Calibrated size of one image pixel (e.g. microns). Default 1",
					},
					"background": map[string]interface{}{
						"type":        "string",
						"description": "Optional image used for overlays and, when width/height are omitted, for the image size",
					},
					"z": map[string]interface{}{"type": "integer", "description": "Plane z index. Default 0"},
					"t": map[string]interface{}{"type": "integer", "description": "Plane t index. Default 0"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "objects_summary",
			Description: "Count the loaded objects per kind and per classification.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "objects_export",
			Description: "Write the loaded objects, including hotspots and contours, as a GeoJSON FeatureCollection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path of the GeoJSON file to write",
					},
					"class": map[string]interface{}{
						"type":        "string",
						"description": "Optional classification filter (exact match)",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "objects_save_db",
			Description: "Save the loaded objects as a named snapshot in the SQLite store.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "description": "Snapshot name"},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "objects_load_db",
			Description: "Load a named snapshot from the SQLite store into a fresh hierarchy.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":       map[string]interface{}{"type": "string", "description": "Snapshot name"},
					"pixel_size": map[string]interface{}{"type": "number", "description": "Calibrated pixel size. Default 1"},
					"background": map[string]interface{}{"type": "string", "description": "Optional background image"},
					"z":          map[string]interface{}{"type": "integer", "description": "Plane z index. Default: plane of the first saved object"},
					"t":          map[string]interface{}{"type": "integer", "description": "Plane t index. Default: plane of the first saved object"},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "store_list",
			Description: "List the snapshots and specs saved in the SQLite store.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Specs
		{
			Name:        "spec_save",
			Description: "Validate a density map spec and save it under a name.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "description": "Spec name"},
					"spec": specProperty,
				},
				"required": []string{"name", "spec"},
			},
		},
		{
			Name:        "spec_load",
			Description: "Return a saved density map spec.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "description": "Spec name"},
				},
				"required": []string{"name"},
			},
		},

		// Density maps
		{
			Name:        "density_build",
			Description: "Build a density map for the loaded objects. A new build cancels any build in progress. The map is rebuilt automatically when objects change.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"spec":      specProperty,
					"spec_name": map[string]interface{}{"type": "string", "description": "Name of a saved spec, used when spec is omitted"},
				},
			},
		},
		{
			Name:        "density_minmax",
			Description: "Per-channel minimum and maximum of a density map, ignoring pixels whose count channel is below min_count.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"raster_id": rasterIDProperty,
					"count_channel": map[string]interface{}{
						"type":        "integer",
						"description": "Channel used as the count mask. Default: the all-objects channel when present; -1 disables masking",
					},
					"min_count": map[string]interface{}{"type": "number", "description": "Minimum count. Default 0"},
				},
			},
		},
		{
			Name:        "density_render",
			Description: "Render a density map channel through a color ramp and return it as base64-encoded PNG, optionally over the background image.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(channelProperties, map[string]interface{}{
					"raster_id": rasterIDProperty,
					"ramp": map[string]interface{}{
						"type":        "string",
						"description": "Color ramp: " + strings.Join(imaging.RampNames(), ", ") + ", or a hex color for a single hue. Default " + imaging.DefaultRamp,
					},
					"region": map[string]interface{}{
						"type":        "object",
						"description": "Render only this full-resolution image rectangle (x2, y2 exclusive)",
						"properties": map[string]interface{}{
							"x1": map[string]interface{}{"type": "integer"},
							"y1": map[string]interface{}{"type": "integer"},
							"x2": map[string]interface{}{"type": "integer"},
							"y2": map[string]interface{}{"type": "integer"},
						},
					},
					"min":          map[string]interface{}{"type": "number", "description": "Display minimum (with max disables auto range)"},
					"max":          map[string]interface{}{"type": "number", "description": "Display maximum"},
					"gamma":        map[string]interface{}{"type": "number", "description": "Alpha gamma; <= 0 gives a hard cutoff. Default 1"},
					"min_count":    map[string]interface{}{"type": "number", "description": "Mask value at or below which pixels are transparent. Default 0"},
					"mask_channel": map[string]interface{}{"type": "integer", "description": "Channel driving alpha. Default: all-objects channel, else the rendered channel"},
					"max_alpha":    map[string]interface{}{"type": "number", "description": "Mask value where alpha saturates. Default: observed maximum"},
					"overlay":      map[string]interface{}{"type": "boolean", "description": "Draw over the background image at full resolution"},
					"opacity":      map[string]interface{}{"type": "number", "description": "Overlay opacity (0-1]. Default 1"},
					"grid_spacing": map[string]interface{}{"type": "integer", "description": "Draw a labelled grid every N output pixels"},
					"max_size":     map[string]interface{}{"type": "integer", "description": "Fit the result within N pixels on the longer side"},
				}),
			},
		},
		{
			Name:        "density_hotspots",
			Description: "Find up to n density peaks and add them as annotations classified \"<channel> hotspot\". Peaks closer than radius are suppressed unless allow_overlap is set.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(channelProperties, map[string]interface{}{
					"raster_id":       rasterIDProperty,
					"n":               map[string]interface{}{"type": "integer", "description": "Maximum number of hotspots across all parents. Default 1"},
					"radius":          map[string]interface{}{"type": "number", "description": "Hotspot radius in calibrated units. Default: the map radius"},
					"min_density":     map[string]interface{}{"type": "number", "description": "Lowest accepted peak value. Default 0"},
					"allow_overlap":   map[string]interface{}{"type": "boolean", "description": "Allow hotspots closer than radius"},
					"delete_existing": map[string]interface{}{"type": "boolean", "description": "Remove existing hotspots of this channel first. Default true"},
					"points_only":     map[string]interface{}{"type": "boolean", "description": "Create point annotations instead of circles"},
					"parent_ids": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "integer"},
						"description": "Restrict peaks to these area objects",
					},
					"parent_class": map[string]interface{}{"type": "string", "description": "Restrict peaks to area annotations with this classification"},
				}),
			},
		},
		{
			Name:        "density_contours",
			Description: "Trace the pixels of a channel at or above threshold into polygon annotations.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(channelProperties, map[string]interface{}{
					"raster_id":  rasterIDProperty,
					"threshold":  map[string]interface{}{"type": "number", "description": "Density threshold"},
					"split":      map[string]interface{}{"type": "boolean", "description": "One annotation per connected region instead of one multipolygon"},
					"class_name": map[string]interface{}{"type": "string", "description": "Classification. Default \"<channel> hotspot\""},
					"simplify":   map[string]interface{}{"type": "number", "description": "Douglas-Peucker tolerance in image pixels. Default 0"},
					"backend":    map[string]interface{}{"type": "string", "description": "Tracer backend. Default edges"},
					"add":        map[string]interface{}{"type": "boolean", "description": "Add the annotations to the hierarchy. Default true"},
				}),
				"required": []string{"threshold"},
			},
		},
		{
			Name:        "density_export",
			Description: "Export a density map: mode \"channels\" writes one 16-bit PNG per channel plus a JSON sidecar into dir; mode \"rendered\" writes a colored rendering to path.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(channelProperties, map[string]interface{}{
					"raster_id": rasterIDProperty,
					"mode": map[string]interface{}{
						"type": "string",
						"enum": []string{"channels", "rendered"},
					},
					"dir":       map[string]interface{}{"type": "string", "description": "Output directory for channels mode"},
					"prefix":    map[string]interface{}{"type": "string", "description": "File name prefix for channels mode. Default density"},
					"path":      map[string]interface{}{"type": "string", "description": "Output image path for rendered mode (format from extension)"},
					"ramp":      map[string]interface{}{"type": "string", "description": "Color ramp for rendered mode"},
					"full_size": map[string]interface{}{"type": "boolean", "description": "Upscale the rendering to the full image size"},
					"overlay":   map[string]interface{}{"type": "boolean", "description": "Draw over the background image"},
					"opacity":   map[string]interface{}{"type": "number", "description": "Overlay opacity (0-1]. Default 1"},
				}),
				"required": []string{"mode"},
			},
		},
		{
			Name:        "density_import",
			Description: "Load a density map written by density_export in channels mode. The map keeps its spec and plane, gets a new raster_id and can be used by the other density tools.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sidecar": map[string]interface{}{"type": "string", "description": "Path to the JSON sidecar"},
				},
				"required": []string{"sidecar"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
