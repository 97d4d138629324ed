package contours

import (
	"context"
	"testing"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raster(t *testing.T, w, h int, ds float64, vals []float32) *densitymap.Raster {
	t.Helper()
	r, err := densitymap.FromChannels([]string{"Positive"}, w, h, ds, ds, [][]float32{vals})
	require.NoError(t, err)
	return r
}

func TestTrace_BelowThreshold(t *testing.T) {
	r := raster(t, 3, 2, 1, []float32{1, 1, 1, 1, 1, 1})
	got, err := NewTracer(zerolog.Nop()).Trace(context.Background(), r, Params{Threshold: 2})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTrace_WholeImage(t *testing.T) {
	r := raster(t, 4, 3, 2, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 1, 2, 3,
	})
	got, err := NewTracer(zerolog.Nop()).Trace(context.Background(), r, Params{Threshold: 1, Split: true})
	require.NoError(t, err)
	require.Len(t, got, 1)

	poly, ok := got[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Equal(t, orb.Ring{{0, 0}, {8, 0}, {8, 6}, {0, 6}, {0, 0}}, poly[0])
	assert.Equal(t, "Positive hotspot", got[0].Class)
	assert.Equal(t, objects.KindAnnotation, got[0].Kind)
}

func TestTrace_Components(t *testing.T) {
	// Two blobs: an L shape on the left and a single pixel on the right.
	r := raster(t, 5, 3, 1, []float32{
		5, 0, 0, 0, 0,
		5, 0, 0, 0, 5,
		5, 5, 0, 0, 0,
	})
	tr := NewTracer(zerolog.Nop())

	split, err := tr.Trace(context.Background(), r, Params{Threshold: 5, Split: true, ClassName: "Dense"})
	require.NoError(t, err)
	require.Len(t, split, 2)
	assert.InDelta(t, 4, planar.Area(split[0].Geometry), 1e-9)
	assert.InDelta(t, 1, planar.Area(split[1].Geometry), 1e-9)
	assert.Equal(t, "Dense", split[0].Class)

	l := split[0].Geometry.(orb.Polygon)
	assert.Len(t, l[0], 7, "collinear vertices merged: six corners plus closure")

	merged, err := tr.Trace(context.Background(), r, Params{Threshold: 5})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	mp, ok := merged[0].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
}

func TestTrace_Hole(t *testing.T) {
	r := raster(t, 3, 3, 1, []float32{
		1, 1, 1,
		1, 0, 1,
		1, 1, 1,
	})
	got, err := NewTracer(zerolog.Nop()).Trace(context.Background(), r, Params{Threshold: 1, Split: true})
	require.NoError(t, err)
	require.Len(t, got, 1)

	poly := got[0].Geometry.(orb.Polygon)
	require.Len(t, poly, 2, "outer ring and one hole")
	assert.InDelta(t, 8, planar.Area(poly), 1e-9)
	assert.False(t, got[0].Contains(orb.Point{1.5, 1.5}))
	assert.True(t, got[0].Contains(orb.Point{0.5, 1.5}))
}

func TestTrace_DiagonalPixelsShareComponent(t *testing.T) {
	r := raster(t, 2, 2, 1, []float32{
		1, 0,
		0, 1,
	})
	got, err := NewTracer(zerolog.Nop()).Trace(context.Background(), r, Params{Threshold: 1, Split: true})
	require.NoError(t, err)
	require.Len(t, got, 1, "8-connected pixels form one component")
	mp, ok := got[0].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2, "rings stay simple at the shared corner")
}

func TestTrace_Simplify(t *testing.T) {
	// A staircase edge loses vertices under a generous tolerance.
	vals := []float32{
		1, 0, 0, 0,
		1, 1, 0, 0,
		1, 1, 1, 0,
		1, 1, 1, 1,
	}
	r := raster(t, 4, 4, 1, vals)
	tr := NewTracer(zerolog.Nop())

	exact, err := tr.Trace(context.Background(), r, Params{Threshold: 1, Split: true})
	require.NoError(t, err)
	simple, err := tr.Trace(context.Background(), r, Params{Threshold: 1, Split: true, Simplify: 1})
	require.NoError(t, err)

	n := len(exact[0].Geometry.(orb.Polygon)[0])
	m := len(simple[0].Geometry.(orb.Polygon)[0])
	assert.Less(t, m, n)
	assert.GreaterOrEqual(t, m, 4)
}

func TestTrace_Errors(t *testing.T) {
	r := raster(t, 2, 1, 1, []float32{1, 2})
	tr := NewTracer(zerolog.Nop())
	ctx := context.Background()

	_, err := tr.Trace(ctx, r, Params{Channel: 2})
	assert.Error(t, err)
	_, err = tr.Trace(ctx, r, Params{Backend: "nope"})
	assert.Error(t, err)
	_, err = tr.Trace(ctx, r, Params{Simplify: -1})
	assert.Error(t, err)
	_, err = tr.Trace(ctx, nil, Params{})
	assert.ErrorIs(t, err, densitymap.ErrDataUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tr.Trace(cancelled, r, Params{Threshold: 0})
	assert.ErrorIs(t, err, densitymap.ErrCancelled)
}

func TestBackends(t *testing.T) {
	assert.Contains(t, Backends(), BackendEdges)
}
