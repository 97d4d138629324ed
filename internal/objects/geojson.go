package objects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
)

// ReadGeoJSON decodes objects from a FeatureCollection, a single Feature or a
// bare array of features.
//
// Recognised feature properties:
//   - objectType: "detection", "cell", "tile" or "annotation" (default "detection")
//   - classification: either {"name": "..."} or a plain string
//   - name: optional object name
//   - plane: optional {"z": n, "t": n}
//
// Features without geometry are skipped.
func ReadGeoJSON(r io.Reader) ([]*Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GeoJSON: %w", err)
	}
	features, err := decodeFeatures(data)
	if err != nil {
		return nil, err
	}

	out := make([]*Object, 0, len(features))
	for i, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		o, err := objectFromFeature(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func decodeFeatures(data []byte) ([]*geojson.Feature, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty GeoJSON document")
	}
	if trimmed[0] == '[' {
		var features []*geojson.Feature
		if err := json.Unmarshal(trimmed, &features); err != nil {
			return nil, fmt.Errorf("failed to decode feature array: %w", err)
		}
		return features, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("failed to decode GeoJSON: %w", err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to decode feature collection: %w", err)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to decode feature: %w", err)
		}
		return []*geojson.Feature{f}, nil
	}
	return nil, fmt.Errorf("unsupported GeoJSON type %q", head.Type)
}

func objectFromFeature(f *geojson.Feature) (*Object, error) {
	kind := KindDetection
	if s, ok := f.Properties["objectType"].(string); ok && s != "" {
		k, err := ParseKind(s)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	var class string
	switch c := f.Properties["classification"].(type) {
	case string:
		class = c
	case map[string]interface{}:
		if name, ok := c["name"].(string); ok {
			class = name
		}
	}

	var plane Plane
	if p, ok := f.Properties["plane"].(map[string]interface{}); ok {
		if z, ok := p["z"].(float64); ok {
			plane.Z = int(z)
		}
		if t, ok := p["t"].(float64); ok {
			plane.T = int(t)
		}
	}

	o, err := New(kind, f.Geometry, class, plane)
	if err != nil {
		return nil, err
	}
	if name, ok := f.Properties["name"].(string); ok {
		o.Name = name
	}
	return o, nil
}

// WriteGeoJSON encodes objects as a FeatureCollection using the same
// property layout ReadGeoJSON accepts.
func WriteGeoJSON(w io.Writer, objs []*Object) error {
	fc := geojson.NewFeatureCollection()
	for _, o := range objs {
		f := geojson.NewFeature(o.Geometry)
		if o.ID != 0 {
			f.ID = o.ID
		}
		f.Properties["objectType"] = o.Kind.String()
		if o.Class != "" {
			f.Properties["classification"] = map[string]interface{}{"name": o.Class}
		}
		if o.Name != "" {
			f.Properties["name"] = o.Name
		}
		if o.ParentID != 0 {
			f.Properties["parentId"] = o.ParentID
		}
		if o.Plane != (Plane{}) {
			f.Properties["plane"] = map[string]interface{}{"z": o.Plane.Z, "t": o.Plane.T}
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write GeoJSON: %w", err)
	}
	return nil
}
