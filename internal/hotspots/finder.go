// Package hotspots promotes density peaks to annotations.
package hotspots

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// circleVertices is the number of vertices of a hotspot circle.
const circleVertices = 64

// Editor is the part of an object hierarchy the finder mutates.
type Editor interface {
	Add(objs ...*objects.Object) []*objects.Object
	Remove(pred objects.Predicate) []*objects.Object
}

// Params configures a hotspot search.
type Params struct {
	// Channel is the raster channel searched for peaks.
	Channel int
	// Parents restrict the search to peaks whose pixel center lies inside
	// one of the parent areas. Empty means the whole image.
	Parents []*objects.Object
	// N is the maximum number of hotspots, shared by all parents.
	N int
	// Radius is the hotspot radius in calibrated units. It is also the
	// exclusion radius when AllowOverlap is false.
	Radius float64
	// MinDensity is the lowest peak value accepted.
	MinDensity float32
	// AllowOverlap permits hotspots closer than Radius.
	AllowOverlap bool
	// DeleteExisting removes annotations already carrying the hotspot class.
	DeleteExisting bool
	// PointsOnly creates point annotations instead of circles.
	PointsOnly bool
}

// Peak is an accepted density peak.
type Peak struct {
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Value  float32   `json:"value"`
	Center orb.Point `json:"center"`
	Parent int64     `json:"parent_id"`
}

// ClassName returns the classification given to hotspots found in a channel.
func ClassName(channel string) string {
	return channel + " hotspot"
}

// Finder locates density peaks and adds them to a hierarchy as annotations.
type Finder struct {
	log zerolog.Logger
}

// NewFinder creates a Finder.
func NewFinder(log zerolog.Logger) *Finder {
	return &Finder{log: log.With().Str("component", "hotspots").Logger()}
}

// Find searches raster for peaks and adds one annotation per peak to h.
//
// The added objects are returned in acceptance order (highest first). No
// qualifying peak is not an error: zero hotspots are returned.
func (f *Finder) Find(ctx context.Context, h Editor, raster *densitymap.Raster, p Params) ([]*objects.Object, error) {
	peaks, err := FindPeaks(ctx, raster, p)
	if err != nil {
		return nil, err
	}

	class := ClassName(raster.ChannelName(p.Channel))
	if p.DeleteExisting {
		removed := h.Remove(func(o *objects.Object) bool {
			return o.Kind == objects.KindAnnotation && o.Class == class
		})
		if len(removed) > 0 {
			f.log.Debug().Int("removed", len(removed)).Str("class", class).Msg("removed existing hotspots")
		}
	}
	if len(peaks) == 0 {
		f.log.Info().Str("class", class).Msg("no hotspots found")
		return nil, nil
	}

	radiusPx := p.Radius / nativePixelSize(raster)
	hotspots := make([]*objects.Object, 0, len(peaks))
	for i, pk := range peaks {
		var geom orb.Geometry = pk.Center
		if !p.PointsOnly && radiusPx > 0 {
			geom = Circle(pk.Center, radiusPx, circleVertices)
		}
		o, err := objects.New(objects.KindAnnotation, geom, class, raster.Plane())
		if err != nil {
			return nil, err
		}
		o.ParentID = pk.Parent
		o.Name = fmt.Sprintf("Hotspot %d", i+1)
		hotspots = append(hotspots, o)
	}

	added := h.Add(hotspots...)
	f.log.Info().Int("hotspots", len(added)).Str("class", class).Msg("hotspots added")
	return added, nil
}

type candidate struct {
	x, y   int
	value  float32
	parent int64
	center orb.Point
}

// FindPeaks runs the greedy peak search without touching a hierarchy.
//
// Candidates are local maxima (>= all 8 neighbours) of the channel with a
// value of at least MinDensity whose pixel center lies in a parent (the
// first containing parent wins). The highest remaining candidate is
// accepted until N are found; ties go to the earlier pixel in raster scan
// order. Without AllowOverlap every candidate closer than Radius to an
// accepted peak is discarded.
func FindPeaks(ctx context.Context, raster *densitymap.Raster, p Params) ([]Peak, error) {
	if raster == nil {
		return nil, errors.Wrap(densitymap.ErrDataUnavailable, "no density map")
	}
	if p.Channel < 0 || p.Channel >= raster.NumChannels() {
		return nil, errors.Errorf("channel %d out of range [0, %d)", p.Channel, raster.NumChannels())
	}
	if p.N <= 0 {
		return nil, errors.Errorf("hotspot count must be positive, got %d", p.N)
	}
	if p.Radius < 0 || math.IsNaN(p.Radius) {
		return nil, errors.Errorf("hotspot radius must be >= 0, got %v", p.Radius)
	}

	cands, err := candidates(ctx, raster, p)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].value > cands[j].value })

	radiusPx := p.Radius / nativePixelSize(raster)
	excluded := make([]bool, len(cands))
	var peaks []Peak
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, densitymap.Cancelled(err)
		}
		if len(peaks) >= p.N {
			break
		}
		if excluded[i] {
			continue
		}
		peaks = append(peaks, Peak{X: c.x, Y: c.y, Value: c.value, Center: c.center, Parent: c.parent})
		if p.AllowOverlap || radiusPx <= 0 {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if !excluded[j] && dist(c.center, cands[j].center) < radiusPx {
				excluded[j] = true
			}
		}
	}
	return peaks, nil
}

func candidates(ctx context.Context, raster *densitymap.Raster, p Params) ([]candidate, error) {
	w, h := raster.Width(), raster.Height()
	var out []candidate
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, densitymap.Cancelled(err)
		}
		for x := 0; x < w; x++ {
			v := raster.Value(p.Channel, x, y)
			if v <= 0 || v < p.MinDensity {
				continue
			}
			if !isLocalMax(raster, p.Channel, x, y, v) {
				continue
			}
			center := raster.PixelCenter(x, y)
			parent, ok := parentOf(p.Parents, center)
			if !ok {
				continue
			}
			out = append(out, candidate{x: x, y: y, value: v, parent: parent, center: center})
		}
	}
	return out, nil
}

func isLocalMax(r *densitymap.Raster, c, x, y int, v float32) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= r.Width() || ny >= r.Height() {
				continue
			}
			if r.Value(c, nx, ny) > v {
				return false
			}
		}
	}
	return true
}

func parentOf(parents []*objects.Object, p orb.Point) (int64, bool) {
	if len(parents) == 0 {
		return 0, true
	}
	for _, par := range parents {
		if par != nil && par.Contains(p) {
			return par.ID, true
		}
	}
	return 0, false
}

func nativePixelSize(r *densitymap.Raster) float64 {
	if r.Downsample() <= 0 || r.PixelSize() <= 0 {
		return 1
	}
	return r.PixelSize() / r.Downsample()
}

func dist(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// Circle returns a polygon approximating a circle with n vertices.
func Circle(center orb.Point, radius float64, n int) orb.Polygon {
	if n < 3 {
		n = 3
	}
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{center[0] + radius*math.Cos(a), center[1] + radius*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
