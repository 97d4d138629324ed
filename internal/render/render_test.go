package render

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaster(t *testing.T) *densitymap.Raster {
	t.Helper()
	r, err := densitymap.FromChannels([]string{"Positive", "Count"}, 4, 2, 2, 1, [][]float32{
		{0, 25, 50, 100,
			0, 0, 75, 10},
		{0, 2, 4, 8,
			0, 0, 1, 3},
	})
	require.NoError(t, err)
	return r
}

func TestAlpha(t *testing.T) {
	tests := []struct {
		name  string
		v     float32
		min   float32
		upper float32
		gamma float64
		want  uint8
	}{
		{"hard cutoff below", 1, 1, 0, 0, 0},
		{"hard cutoff above", 1.5, 1, 0, 0, 255},
		{"linear midpoint", 5, 0, 10, 1, 128},
		{"linear top", 10, 0, 10, 1, 255},
		{"gamma 2 quarter", 2.5, 0, 10, 2, 128},
		{"upper below min", 5, 6, 3, 1, 0},
		{"degenerate upper", 7, 6, 6, 1, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Alpha(tt.v, tt.min, tt.upper, tt.gamma))
		})
	}
}

func TestRenderer_RenderFixedRange(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)

	img, res, err := r.Render(context.Background(), raster, Options{
		Channel:     0,
		Ramp:        "gray",
		Min:         0,
		Max:         100,
		MaskChannel: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, res.Mask)

	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).A, "zero count is transparent")
	top := img.NRGBAAt(3, 0)
	assert.Equal(t, uint8(255), top.A)
	assert.Equal(t, uint8(255), top.R, "max value maps to the top of the gray ramp")
	mid := img.NRGBAAt(2, 0)
	assert.InDelta(t, 128, int(mid.R), 30)
}

func TestRenderer_AutoRangeAndCache(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)

	opts := DefaultOptions()
	opts.MaskChannel = 1
	_, res, err := r.Render(context.Background(), raster, opts)
	require.NoError(t, err)
	assert.Equal(t, float32(0), res.Min)
	assert.Equal(t, float32(100), res.Max)
	assert.Equal(t, 1, r.MinMax().Len())

	a, _, err := r.Render(context.Background(), raster, opts)
	require.NoError(t, err)
	b, _, err := r.Render(context.Background(), raster, opts)
	require.NoError(t, err)
	assert.Same(t, a, b, "second render served from the tile cache")
	assert.Equal(t, 1, r.MinMax().Len())

	r.Forget(raster.ID())
	assert.Equal(t, 0, r.MinMax().Len())
}

func TestRenderer_GammaUsesObservedMaskMax(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)

	_, res, err := r.Render(context.Background(), raster, Options{
		Channel:     0,
		Min:         0,
		Max:         100,
		Gamma:       1,
		MaskChannel: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, float32(8), res.MaxAlpha)
}

func TestRenderer_DegenerateRangeFallsBack(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	flat, err := densitymap.FromChannels([]string{"flat"}, 2, 2, 1, 1, [][]float32{{5, 5, 5, 5}})
	require.NoError(t, err)

	img, res, err := r.Render(context.Background(), flat, Options{Channel: 0, AutoRange: true, MaskChannel: -1})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, float32(0), res.Min)
	assert.Equal(t, float32(5), res.Max)
	assert.NotNil(t, img)

	empty, err := densitymap.FromChannels([]string{"empty"}, 2, 2, 1, 1, [][]float32{{0, 0, 0, 0}})
	require.NoError(t, err)
	_, res, err = r.Render(context.Background(), empty, Options{Channel: 0, Min: 0, Max: 0})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, float32(1), res.Max)
}

func TestRenderer_DoesNotMutateRaster(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)
	before, err := raster.ReadRegion(0, raster.Bounds())
	require.NoError(t, err)

	_, _, err = r.Render(context.Background(), raster, DefaultOptions())
	require.NoError(t, err)

	after, err := raster.ReadRegion(0, raster.Bounds())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRenderer_Errors(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)

	_, _, err := r.Render(context.Background(), raster, Options{Channel: 5})
	assert.Error(t, err)

	_, _, err = r.Render(context.Background(), raster, Options{Channel: 0, Min: 0, Max: 1, Ramp: "nope"})
	assert.ErrorIs(t, err, densitymap.ErrRendering)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = r.Render(ctx, raster, DefaultOptions())
	assert.ErrorIs(t, err, densitymap.ErrCancelled)
}

func TestRenderTile_Region(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)

	img, _, err := r.RenderTile(context.Background(), raster, image.Rect(2, 0, 10, 1), Options{Channel: 0, Min: 0, Max: 100, MaskChannel: 1})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
}

func TestExportChannels_RoundTrip(t *testing.T) {
	raster := testRaster(t)
	dir := t.TempDir()

	path, side, err := ExportChannels(raster, dir, "map")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "map.json"), path)
	require.Len(t, side.Channels, 2)
	assert.Equal(t, "map-0-positive.png", side.Channels[0].File)
	assert.Equal(t, float32(100), side.Channels[0].Max)

	back, err := ImportChannels(path)
	require.NoError(t, err)
	assert.NotEqual(t, raster.ID(), back.ID())
	assert.Equal(t, raster.ChannelNames(), back.ChannelNames())
	assert.Equal(t, raster.Downsample(), back.Downsample())
	for c := 0; c < 2; c++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 4; x++ {
				assert.InDelta(t, raster.Value(c, x, y), back.Value(c, x, y), 1e-3)
			}
		}
	}
}

func TestImportChannels_KeepsSpecAndPlane(t *testing.T) {
	spec, err := densitymap.NewSpec(
		densitymap.WithDensityClasses(objects.ClassIs("Tumor")),
		densitymap.WithRadius(2),
		densitymap.WithNormalization(densitymap.Percent),
	)
	require.NoError(t, err)
	built, err := densitymap.FromChannels(spec.ChannelNames(), 2, 1, 1, 1, [][]float32{{50, 100}, {2, 1}})
	require.NoError(t, err)
	raster, err := built.WithOrigin(&spec, objects.Plane{Z: 2, T: 1})
	require.NoError(t, err)
	require.Equal(t, 1, raster.AllObjectsChannel())

	path, _, err := ExportChannels(raster, t.TempDir(), "percent")
	require.NoError(t, err)
	back, err := ImportChannels(path)
	require.NoError(t, err)

	assert.True(t, spec.Equal(back.Spec()))
	assert.Equal(t, 1, back.AllObjectsChannel())
	assert.Equal(t, objects.Plane{Z: 2, T: 1}, back.Plane())

	_, err = built.WithOrigin(&densitymap.Spec{Radius: 2}, objects.Plane{})
	assert.Error(t, err, "channel names must match the spec")
}

func TestSaveRendered_Upscaled(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), 4, 4)
	raster := testRaster(t)
	img, _, err := r.Render(context.Background(), raster, Options{Channel: 0, Min: 0, Max: 100, MaskChannel: 1})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "render.png")
	require.NoError(t, SaveRendered(path, img, SaveOptions{ImageWidth: 8, ImageHeight: 4}))

	saved, err := imaging.LoadImage(nil, path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), saved.Bounds())
}

func TestCompose_Background(t *testing.T) {
	bg := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for i := range bg.Pix {
		bg.Pix[i] = 255
	}
	fg := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	fg.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	out, err := Compose(fg, SaveOptions{Background: bg, GridSpacing: 0})
	require.NoError(t, err)
	assert.Equal(t, bg.Bounds(), out.Bounds())
	r, _, _, _ := out.At(1, 1).RGBA()
	assert.Equal(t, uint32(0), r, "opaque overlay pixel upscaled over the background")
	r, _, _, _ = out.At(7, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r, "transparent overlay keeps the background")
}
