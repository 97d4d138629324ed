package densitymap

import (
	"image"
	"math"
	"sort"

	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
)

// gaussianTruncation is the support of the Gaussian kernel in multiples of
// sigma. exp(-32) is below float32 resolution relative to a peak weight of 1.
const gaussianTruncation = 8.0

// Grid locates a block of output pixels in image space.
type Grid struct {
	// Rect is the block in output pixel coordinates.
	Rect image.Rectangle
	// Downsample is the number of image pixels per output pixel.
	Downsample float64
	// Calibration is the size of one image pixel in calibrated units.
	Calibration float64
}

// Center returns the image-space center of output pixel (x, y).
func (g Grid) Center(x, y int) orb.Point {
	return orb.Point{(float64(x) + 0.5) * g.Downsample, (float64(y) + 0.5) * g.Downsample}
}

// ImageBound returns the image-space extent of the block.
func (g Grid) ImageBound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(g.Rect.Min.X) * g.Downsample, float64(g.Rect.Min.Y) * g.Downsample},
		Max: orb.Point{float64(g.Rect.Max.X) * g.Downsample, float64(g.Rect.Max.Y) * g.Downsample},
	}
}

func (g Grid) calibration() float64 {
	if g.Calibration <= 0 {
		return 1
	}
	return g.Calibration
}

// Counts holds accumulated weights in row-major order over a Grid.
type Counts struct {
	All     []float64
	Density [][]float64
}

// Kernel describes the weighting of one accumulation.
type Kernel struct {
	Radius float64 // calibrated units
	Shape  KernelShape
	Area   AreaMode
}

func (k Kernel) support() float64 {
	if k.Shape == KernelGaussian {
		return gaussianTruncation * k.Radius / 2
	}
	return k.Radius
}

// weight returns the kernel weight at distance d, both in calibrated units.
func (k Kernel) weight(d float64) float64 {
	switch k.Shape {
	case KernelGaussian:
		sigma := k.Radius / 2
		if d > gaussianTruncation*sigma {
			return 0
		}
		return math.Exp(-d * d / (2 * sigma * sigma))
	default:
		if d <= k.Radius {
			return 1
		}
		return 0
	}
}

// Accumulate computes the kernel-weighted counts of objects over every pixel
// of the grid.
//
// Objects are summed in ascending ID order into float64 accumulators, so the
// result depends only on the set of objects and not on how the image was
// tiled or how the index returned them. Objects rejected by all contribute
// to no channel. density[i] is evaluated only for objects accepted by all,
// keeping every numerator a subset of the denominator.
//
// Distances are measured from pixel centers to:
//   - each point of point and multi-point objects
//   - the centroid of area and line objects with AreaCentroid
//   - the geometry of area and line objects with AreaFootprint (zero inside)
//
// The returned slices always have one entry per grid pixel; with no
// matching objects every entry is zero.
func Accumulate(grid Grid, objs []*objects.Object, all objects.Predicate, density []objects.Predicate, k Kernel) Counts {
	w, h := grid.Rect.Dx(), grid.Rect.Dy()
	n := max(0, w*h)
	counts := Counts{
		All:     make([]float64, n),
		Density: make([][]float64, len(density)),
	}
	for i := range counts.Density {
		counts.Density[i] = make([]float64, n)
	}
	if n == 0 || len(objs) == 0 {
		return counts
	}

	if !sort.SliceIsSorted(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID }) {
		objs = append([]*objects.Object(nil), objs...)
		sort.SliceStable(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	}

	cal := grid.calibration()
	supportPx := k.support() / cal
	matches := make([]int, 0, len(density))

	for _, o := range objs {
		if all != nil && !all(o) {
			continue
		}
		matches = matches[:0]
		for i, pred := range density {
			if pred == nil || pred(o) {
				matches = append(matches, i)
			}
		}

		add := func(idx int, wt float64) {
			counts.All[idx] += wt
			for _, m := range matches {
				counts.Density[m][idx] += wt
			}
		}

		if k.Area == AreaFootprint && !o.IsPoint() {
			b := o.Bound().Pad(supportPx)
			visit(grid, b, func(x, y, idx int) {
				d := o.DistanceTo(grid.Center(x, y)) * cal
				if wt := k.weight(d); wt > 0 {
					add(idx, wt)
				}
			})
			continue
		}

		for _, p := range o.Points() {
			b := orb.Bound{Min: p, Max: p}.Pad(supportPx)
			visit(grid, b, func(x, y, idx int) {
				c := grid.Center(x, y)
				d := math.Hypot(c[0]-p[0], c[1]-p[1]) * cal
				if wt := k.weight(d); wt > 0 {
					add(idx, wt)
				}
			})
		}
	}
	return counts
}

// visit calls fn for every grid pixel whose center could lie in the image
// bound b, with idx the row-major index within the grid.
func visit(grid Grid, b orb.Bound, fn func(x, y, idx int)) {
	ds := grid.Downsample
	x0 := max(grid.Rect.Min.X, int(math.Floor(b.Min[0]/ds-0.5)))
	y0 := max(grid.Rect.Min.Y, int(math.Floor(b.Min[1]/ds-0.5)))
	x1 := min(grid.Rect.Max.X-1, int(math.Ceil(b.Max[0]/ds-0.5)))
	y1 := min(grid.Rect.Max.Y-1, int(math.Ceil(b.Max[1]/ds-0.5)))
	w := grid.Rect.Dx()
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			fn(x, y, (y-grid.Rect.Min.Y)*w+(x-grid.Rect.Min.X))
		}
	}
}
