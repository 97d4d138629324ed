package contours

import (
	"context"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type vertex struct{ x, y int }

// edge is a unit pixel-edge directed so the mask lies on its right (in
// y-down image coordinates). Outer rings therefore have positive signed
// area and holes negative.
type edge struct {
	from, to vertex
	label    int
}

func (e edge) dir() vertex { return vertex{e.to.x - e.from.x, e.to.y - e.from.y} }

// traceEdges labels 8-connected components and walks their pixel-edge
// boundaries. At vertices where two mask pixels touch diagonally the walk
// turns toward the current pixel, so every ring is simple.
func traceEdges(ctx context.Context, mask []bool, width, height int) ([]Component, error) {
	labels, sizes := label(mask, width, height)
	in := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < width && y < height && mask[y*width+x]
	}

	var edges []edge
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, densitymap.Cancelled(err)
		}
		for x := 0; x < width; x++ {
			if !in(x, y) {
				continue
			}
			l := labels[y*width+x]
			if !in(x, y-1) {
				edges = append(edges, edge{vertex{x, y}, vertex{x + 1, y}, l})
			}
			if !in(x+1, y) {
				edges = append(edges, edge{vertex{x + 1, y}, vertex{x + 1, y + 1}, l})
			}
			if !in(x, y+1) {
				edges = append(edges, edge{vertex{x + 1, y + 1}, vertex{x, y + 1}, l})
			}
			if !in(x-1, y) {
				edges = append(edges, edge{vertex{x, y + 1}, vertex{x, y}, l})
			}
		}
	}

	outgoing := make(map[vertex][]int, len(edges))
	for i, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], i)
	}
	used := make([]bool, len(edges))

	type ring struct {
		pts   orb.Ring
		label int
		area  float64
	}
	var rings []ring
	for start := range edges {
		if used[start] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, densitymap.Cancelled(err)
		}
		pts := orb.Ring{toPoint(edges[start].from)}
		cur := start
		for {
			used[cur] = true
			e := edges[cur]
			pts = append(pts, toPoint(e.to))
			next := nextEdge(edges, outgoing[e.to], e.dir())
			if next < 0 || next == start || used[next] {
				break
			}
			cur = next
		}
		pts = mergeCollinear(pts)
		rings = append(rings, ring{pts: pts, label: edges[start].label, area: signedArea(pts)})
	}

	// Polygons per component, in label order.
	comps := make([]Component, len(sizes))
	for i := range comps {
		comps[i].Pixels = sizes[i]
	}
	type outer struct {
		label, index int
		area         float64
	}
	var outers []outer
	for _, r := range rings {
		if r.area > 0 {
			comps[r.label].Polygons = append(comps[r.label].Polygons, orb.Polygon{r.pts})
			outers = append(outers, outer{r.label, len(comps[r.label].Polygons) - 1, r.area})
		}
	}
	for _, r := range rings {
		if r.area >= 0 {
			continue
		}
		probe := holeProbe(r.pts)
		best := -1
		for i, o := range outers {
			if !planar.RingContains(comps[o.label].Polygons[o.index][0], probe) {
				continue
			}
			if best < 0 || o.area < outers[best].area {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		o := outers[best]
		comps[o.label].Polygons[o.index] = append(comps[o.label].Polygons[o.index], r.pts)
	}
	return comps, nil
}

// nextEdge picks the outgoing edge turning right, then straight, then left
// relative to the incoming direction d.
func nextEdge(edges []edge, candidates []int, d vertex) int {
	prefs := []vertex{{-d.y, d.x}, d, {d.y, -d.x}}
	for _, want := range prefs {
		for _, i := range candidates {
			if edges[i].dir() == want {
				return i
			}
		}
	}
	return -1
}

// holeProbe returns the center of the mask pixel to the right of a hole
// ring's first edge, which lies inside the polygon enclosing the hole.
func holeProbe(r orb.Ring) orb.Point {
	a, b := r[0], r[1]
	dx, dy := sign(b[0]-a[0]), sign(b[1]-a[1])
	mid := orb.Point{a[0] + dx*0.5, a[1] + dy*0.5}
	return orb.Point{mid[0] - dy*0.5, mid[1] + dx*0.5}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// mergeCollinear drops vertices between two edges of the same direction.
// The ring stays closed.
func mergeCollinear(r orb.Ring) orb.Ring {
	if len(r) < 4 {
		return r
	}
	pts := r[:len(r)-1]
	n := len(pts)
	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev, cur, next := pts[(i+n-1)%n], pts[i], pts[(i+1)%n]
		cross := (cur[0]-prev[0])*(next[1]-cur[1]) - (cur[1]-prev[1])*(next[0]-cur[0])
		if cross == 0 {
			continue
		}
		out = append(out, cur)
	}
	return append(out, out[0])
}

func signedArea(r orb.Ring) float64 {
	var a float64
	for i := 0; i+1 < len(r); i++ {
		a += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return a / 2
}

func toPoint(v vertex) orb.Point { return orb.Point{float64(v.x), float64(v.y)} }

// label assigns 8-connected component labels in raster scan order. Unmasked
// pixels get -1. It returns the labels and the pixel count per label.
func label(mask []bool, width, height int) ([]int, []int) {
	labels := make([]int, len(mask))
	for i := range labels {
		labels[i] = -1
	}
	var sizes []int
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !mask[y*width+x] || labels[y*width+x] >= 0 {
				continue
			}
			sizes = append(sizes, floodFill(mask, labels, x, y, width, height, len(sizes)))
		}
	}
	return labels, sizes
}

// floodFill labels the component containing (startX, startY) with an
// explicit stack and returns its size.
func floodFill(mask []bool, labels []int, startX, startY, width, height, l int) int {
	stack := []vertex{{startX, startY}}
	size := 0
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.x < 0 || p.x >= width || p.y < 0 || p.y >= height {
			continue
		}
		i := p.y*width + p.x
		if !mask[i] || labels[i] >= 0 {
			continue
		}
		labels[i] = l
		size++

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, vertex{p.x + dx, p.y + dy})
				}
			}
		}
	}
	return size
}
