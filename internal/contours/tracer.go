// Package contours traces thresholded density channels into polygon
// annotations.
package contours

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/hotspots"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// BackendEdges is the built-in pixel-edge tracer.
const BackendEdges = "edges"

// Params configures a contour trace.
type Params struct {
	Channel   int
	Threshold float32
	// Split creates one annotation per connected component instead of a
	// single MultiPolygon annotation.
	Split bool
	// ClassName defaults to "<channel> hotspot".
	ClassName string
	// Simplify is a Douglas-Peucker tolerance in image pixels. Zero keeps
	// every pixel-edge vertex.
	Simplify float64
	// Backend selects the tracer; empty means BackendEdges.
	Backend string
}

// Component is the traced outline of one connected region of the mask, in
// full-resolution image pixels.
type Component struct {
	Polygons orb.MultiPolygon
	Pixels   int
}

// backend traces mask into components. Mask is row-major width*height.
type backend func(ctx context.Context, mask []bool, width, height int) ([]Component, error)

var backends = map[string]backend{
	BackendEdges: traceEdges,
}

// Backends lists the available tracer backends.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tracer converts density channels to annotations.
type Tracer struct {
	log zerolog.Logger
}

// NewTracer creates a Tracer.
func NewTracer(log zerolog.Logger) *Tracer {
	return &Tracer{log: log.With().Str("component", "contours").Logger()}
}

// Trace thresholds a channel (value >= Threshold) and returns annotations
// covering the mask. The objects are not added to any hierarchy. A mask with
// no pixels yields no objects and no error.
func (t *Tracer) Trace(ctx context.Context, raster *densitymap.Raster, p Params) ([]*objects.Object, error) {
	if raster == nil {
		return nil, errors.Wrap(densitymap.ErrDataUnavailable, "no density map")
	}
	if p.Channel < 0 || p.Channel >= raster.NumChannels() {
		return nil, errors.Errorf("channel %d out of range [0, %d)", p.Channel, raster.NumChannels())
	}
	if p.Simplify < 0 {
		return nil, errors.Errorf("simplify tolerance must be >= 0, got %v", p.Simplify)
	}
	name := p.Backend
	if name == "" {
		name = BackendEdges
	}
	trace, ok := backends[name]
	if !ok {
		return nil, errors.Errorf("unknown contour backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}

	w, h := raster.Width(), raster.Height()
	values, err := raster.ReadRegion(p.Channel, raster.Bounds())
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(values))
	count := 0
	for i, v := range values {
		if v >= p.Threshold {
			mask[i] = true
			count++
		}
	}
	if count == 0 {
		t.log.Debug().Float32("threshold", p.Threshold).Msg("empty contour mask")
		return nil, nil
	}

	comps, err := trace(ctx, mask, w, h)
	if err != nil {
		return nil, err
	}

	class := p.ClassName
	if class == "" {
		class = hotspots.ClassName(raster.ChannelName(p.Channel))
	}
	toImage := imageTransform(raster)

	var out []*objects.Object
	var merged orb.MultiPolygon
	for _, c := range comps {
		polys := finishPolygons(c.Polygons, toImage, p.Simplify)
		if len(polys) == 0 {
			continue
		}
		if !p.Split {
			merged = append(merged, polys...)
			continue
		}
		var geom orb.Geometry = polys
		if len(polys) == 1 {
			geom = polys[0]
		}
		o, err := objects.New(objects.KindAnnotation, geom, class, raster.Plane())
		if err != nil {
			return nil, err
		}
		o.Name = fmt.Sprintf("%s %d", class, len(out)+1)
		out = append(out, o)
	}
	if !p.Split && len(merged) > 0 {
		o, err := objects.New(objects.KindAnnotation, merged, class, raster.Plane())
		if err != nil {
			return nil, err
		}
		o.Name = class
		out = append(out, o)
	}

	t.log.Info().
		Int("components", len(comps)).
		Int("pixels", count).
		Int("annotations", len(out)).
		Str("backend", name).
		Msg("contours traced")
	return out, nil
}

// imageTransform maps output pixel corners to image coordinates, clipped to
// the image.
func imageTransform(r *densitymap.Raster) func(orb.Point) orb.Point {
	ds := r.Downsample()
	iw, ih := r.ImageSize()
	return func(p orb.Point) orb.Point {
		x, y := p[0]*ds, p[1]*ds
		if iw > 0 {
			x = math.Min(x, float64(iw))
		}
		if ih > 0 {
			y = math.Min(y, float64(ih))
		}
		return orb.Point{x, y}
	}
}

func finishPolygons(polys orb.MultiPolygon, toImage func(orb.Point) orb.Point, tolerance float64) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, len(polys))
	for _, poly := range polys {
		var next orb.Polygon
		for i, ring := range poly {
			r := make(orb.Ring, len(ring))
			for j, pt := range ring {
				r[j] = toImage(pt)
			}
			if tolerance > 0 {
				r = simplifyRing(r, tolerance)
			}
			if len(r) < 4 {
				if i == 0 {
					break
				}
				continue
			}
			next = append(next, r)
		}
		if len(next) > 0 {
			out = append(out, next)
		}
	}
	return out
}

func simplifyRing(ring orb.Ring, tolerance float64) orb.Ring {
	ls := orb.LineString(ring)
	s, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString)
	if !ok || len(s) < 4 || planar.Area(orb.Ring(s)) == 0 {
		return ring
	}
	return orb.Ring(s)
}
