package densitymap

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinMax_Empty(t *testing.T) {
	m := NewMinMax()
	assert.True(t, m.IsEmpty())
	m.Update(3)
	assert.False(t, m.IsEmpty())
	assert.Equal(t, MinMax{Min: 3, Max: 3}, m)
}

func TestScanMinMax_Masking(t *testing.T) {
	// channel 0: density, channel 1: counts
	r, err := FromChannels([]string{"Positive", AllObjectsChannel}, 3, 1, 1, 1, [][]float32{
		{90, 10, 50},
		{1, 5, 3},
	})
	require.NoError(t, err)

	mm, err := ScanMinMax(context.Background(), r, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, MinMax{Min: 10, Max: 50}, mm[0])
	assert.Equal(t, MinMax{Min: 1, Max: 5}, mm[1], "count band includes every pixel")

	mm, err = ScanMinMax(context.Background(), r, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, MinMax{Min: 10, Max: 90}, mm[0])
}

func TestScanMinMax_AllMaskedIsEmpty(t *testing.T) {
	r, err := FromChannels([]string{"a", "n"}, 2, 1, 1, 1, [][]float32{{4, 5}, {0, 0}})
	require.NoError(t, err)
	mm, err := ScanMinMax(context.Background(), r, 1, 1)
	require.NoError(t, err)
	assert.True(t, mm[0].IsEmpty())
}

func TestScanMinMax_Cancelled(t *testing.T) {
	r, err := FromChannels([]string{"a"}, 4, 4, 1, 1, [][]float32{make([]float32, 16)})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mm, err := ScanMinMax(ctx, r, -1, 0)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, mm)
}

func TestRaster_ReadRegionAndTiles(t *testing.T) {
	r, err := FromChannels([]string{"a"}, 4, 3, 2, 1, [][]float32{{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	}})
	require.NoError(t, err)

	vals, err := r.ReadRegion(0, image.Rect(1, 1, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 9, 10}, vals)

	tiles := r.Tiles(2)
	require.Len(t, tiles, 4)
	assert.Equal(t, image.Rect(2, 2, 4, 3), tiles[3])

	x, y := r.PixelAt(r.PixelCenter(3, 2))
	assert.Equal(t, 3, x)
	assert.Equal(t, 2, y)

	_, err = r.ReadRegion(3, r.Bounds())
	assert.Error(t, err)
}
