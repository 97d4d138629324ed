package densitymap

import (
	"image"
	"math"
	"testing"

	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulate_NoObjects(t *testing.T) {
	grid := Grid{Rect: image.Rect(0, 0, 8, 4), Downsample: 1, Calibration: 1}
	c := Accumulate(grid, nil, objects.Any, []objects.Predicate{objects.Any, objects.Any}, Kernel{Radius: 3})
	require.Len(t, c.All, 32)
	require.Len(t, c.Density, 2)
	for _, d := range c.Density {
		require.Len(t, d, 32)
		for _, v := range d {
			assert.Zero(t, v)
		}
	}
}

func TestAccumulate_DensitySubsetOfAll(t *testing.T) {
	objs := []*objects.Object{
		pointAnnotation(2, 2, "Positive").WithID(1),
		objects.MustNew(objects.KindCell, orb.Point{2, 3}, "Positive", objects.Plane{}).WithID(2),
	}
	grid := Grid{Rect: image.Rect(0, 0, 5, 5), Downsample: 1, Calibration: 1}
	cells := objects.Cells.Selector()
	positive := objects.ClassIs("Positive").Selector()

	c := Accumulate(grid, objs, cells, []objects.Predicate{objects.And(cells, positive)}, Kernel{Radius: 10})
	assert.Equal(t, 1.0, c.All[2*5+2])
	assert.Equal(t, 1.0, c.Density[0][2*5+2], "annotation is not a cell and must not count")
}

func TestAccumulate_OrderIndependent(t *testing.T) {
	a := pointAnnotation(3.3, 4.1, "").WithID(1)
	b := pointAnnotation(5.7, 2.2, "").WithID(2)
	c := pointAnnotation(1.9, 7.4, "").WithID(3)
	grid := Grid{Rect: image.Rect(0, 0, 10, 10), Downsample: 1, Calibration: 0.37}
	k := Kernel{Radius: 2.5, Shape: KernelGaussian}

	x := Accumulate(grid, []*objects.Object{a, b, c}, nil, nil, k)
	y := Accumulate(grid, []*objects.Object{c, a, b}, nil, nil, k)
	assert.Equal(t, x.All, y.All)
}

func TestAccumulate_MultiPointCountsEachPoint(t *testing.T) {
	mp := objects.MustNew(objects.KindAnnotation, orb.MultiPoint{{1.5, 1.5}, {1.5, 1.5}, {8.5, 8.5}}, "", objects.Plane{}).WithID(1)
	grid := Grid{Rect: image.Rect(0, 0, 10, 10), Downsample: 1, Calibration: 1}
	c := Accumulate(grid, []*objects.Object{mp}, nil, nil, Kernel{Radius: 1})
	assert.Equal(t, 2.0, c.All[1*10+1])
	assert.Equal(t, 1.0, c.All[8*10+8])
}

func TestAccumulate_CalibratedDistance(t *testing.T) {
	// 0.5 units per pixel: a radius of 2 units covers 4 pixels.
	o := pointAnnotation(10.5, 10.5, "").WithID(1)
	grid := Grid{Rect: image.Rect(0, 0, 20, 20), Downsample: 1, Calibration: 0.5}
	c := Accumulate(grid, []*objects.Object{o}, nil, nil, Kernel{Radius: 2})
	assert.Equal(t, 1.0, c.All[10*20+14])
	assert.Equal(t, 0.0, c.All[10*20+15])
}

func TestAccumulate_GaussianWeights(t *testing.T) {
	o := pointAnnotation(5.5, 5.5, "").WithID(1)
	grid := Grid{Rect: image.Rect(0, 0, 11, 11), Downsample: 1, Calibration: 1}
	c := Accumulate(grid, []*objects.Object{o}, nil, nil, Kernel{Radius: 4, Shape: KernelGaussian})

	assert.InDelta(t, 1.0, c.All[5*11+5], 1e-12)
	assert.InDelta(t, math.Exp(-9.0/8.0), c.All[5*11+8], 1e-12)
}

func TestAccumulate_OffsetGrid(t *testing.T) {
	o := pointAnnotation(40, 40, "").WithID(1)
	grid := Grid{Rect: image.Rect(8, 8, 12, 12), Downsample: 4, Calibration: 1}
	c := Accumulate(grid, []*objects.Object{o}, nil, nil, Kernel{Radius: 3})
	// Pixel (9, 9) covers image [36, 40) with center 38.
	assert.Equal(t, 1.0, c.All[1*4+1])
	assert.Equal(t, 0.0, c.All[0])
}
