package objects

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Kind identifies the role of an object in the hierarchy.
type Kind int

const (
	KindDetection Kind = iota
	KindCell
	KindTile
	KindAnnotation
)

var kindNames = map[Kind]string{
	KindDetection:  "detection",
	KindCell:       "cell",
	KindTile:       "tile",
	KindAnnotation: "annotation",
}

// String returns the lowercase name used in GeoJSON "objectType" properties.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts an "objectType" string to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object type %q", s)
}

// IsDetection reports whether the kind belongs to the detection family
// (detections, cells and tiles).
func (k Kind) IsDetection() bool {
	return k == KindDetection || k == KindCell || k == KindTile
}

// Plane identifies a z-slice and timepoint.
type Plane struct {
	Z int `json:"z"`
	T int `json:"t"`
}

// Object is a classified object with a spatial footprint.
//
// Objects are immutable once added to a Hierarchy. The centroid and bound are
// computed once by New.
type Object struct {
	ID       int64
	Kind     Kind
	Geometry orb.Geometry
	Class    string
	Plane    Plane
	ParentID int64
	Name     string

	centroid orb.Point
	bound    orb.Bound
}

// New creates an object and precomputes its centroid and bound.
//
// The geometry must be non-nil and use full-resolution image pixel
// coordinates. The ID is left at zero until the object is added to a Hierarchy.
func New(kind Kind, geom orb.Geometry, class string, plane Plane) (*Object, error) {
	if geom == nil {
		return nil, fmt.Errorf("object geometry is nil")
	}
	o := &Object{
		Kind:     kind,
		Geometry: geom,
		Class:    strings.TrimSpace(class),
		Plane:    plane,
	}
	o.bound = geom.Bound()
	o.centroid = centroidOf(geom)
	return o, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(kind Kind, geom orb.Geometry, class string, plane Plane) *Object {
	o, err := New(kind, geom, class, plane)
	if err != nil {
		panic(err)
	}
	return o
}

// Centroid returns the representative point of the object.
func (o *Object) Centroid() orb.Point { return o.centroid }

// Bound returns the axis-aligned bounding box of the geometry.
func (o *Object) Bound() orb.Bound { return o.bound }

// Point implements orb.Pointer so objects can live in an orb quadtree.
func (o *Object) Point() orb.Point { return o.centroid }

// IsPoint reports whether the geometry is a point or a point set.
func (o *Object) IsPoint() bool {
	switch o.Geometry.(type) {
	case orb.Point, orb.MultiPoint:
		return true
	}
	return false
}

// IsArea reports whether the geometry encloses an area.
func (o *Object) IsArea() bool {
	switch o.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return true
	}
	return false
}

// Points returns the individual points of a point or point-set geometry.
// For every other geometry it returns the centroid.
func (o *Object) Points() []orb.Point {
	switch g := o.Geometry.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return []orb.Point(g)
	}
	return []orb.Point{o.centroid}
}

// Contains reports whether p lies inside an area geometry. Non-area
// geometries never contain a point.
func (o *Object) Contains(p orb.Point) bool {
	if !o.bound.Contains(p) {
		return false
	}
	switch g := o.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	case orb.Bound:
		return true
	}
	return false
}

// DistanceTo returns the planar distance in image pixels from p to the
// geometry: zero inside an area, the boundary distance outside it.
func (o *Object) DistanceTo(p orb.Point) float64 {
	if o.IsArea() && o.Contains(p) {
		return 0
	}
	switch g := o.Geometry.(type) {
	case orb.Point:
		return planar.Distance(g, p)
	case orb.Bound:
		return planar.DistanceFrom(g.ToPolygon(), p)
	}
	return planar.DistanceFrom(o.Geometry, p)
}

// WithID returns a copy of the object carrying the given ID.
func (o *Object) WithID(id int64) *Object {
	c := *o
	c.ID = id
	return &c
}

func (o *Object) String() string {
	class := o.Class
	if class == "" {
		class = "Unclassified"
	}
	return fmt.Sprintf("%s#%d[%s]", o.Kind, o.ID, class)
}

func centroidOf(geom orb.Geometry) orb.Point {
	switch g := geom.(type) {
	case orb.Point:
		return g
	case orb.Bound:
		return g.Center()
	}
	c, _ := planar.CentroidArea(geom)
	return c
}
