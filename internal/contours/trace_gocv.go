//go:build gocv

package contours

import (
	"context"
	"image"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// BackendOpenCV traces outer boundaries with OpenCV. Holes are not reported
// and vertices sit on boundary pixel centers rather than pixel edges.
const BackendOpenCV = "opencv"

func init() {
	backends[BackendOpenCV] = traceOpenCV
}

func traceOpenCV(ctx context.Context, mask []bool, width, height int) ([]Component, error) {
	data := make([]byte, len(mask))
	for i, m := range mask {
		if m {
			data[i] = 255
		}
	}
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build mask")
	}
	defer mat.Close()

	if err := ctx.Err(); err != nil {
		return nil, densitymap.Cancelled(err)
	}

	contours := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	comps := make([]Component, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		pts := contours.At(i).ToPoints()
		if len(pts) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(pts)+1)
		for _, p := range pts {
			ring = append(ring, pixelCenter(p))
		}
		ring = append(ring, ring[0])
		comps = append(comps, Component{
			Polygons: orb.MultiPolygon{{ring}},
			Pixels:   int(gocv.ContourArea(contours.At(i))),
		})
	}
	return comps, nil
}

func pixelCenter(p image.Point) orb.Point {
	return orb.Point{float64(p.X) + 0.5, float64(p.Y) + 0.5}
}
