package render

import (
	"context"

	"github.com/google/uuid"
	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
)

type minMaxKey struct {
	raster    uuid.UUID
	countBand int
	minCount  float32
}

// MinMaxCache memoizes full-raster range scans by (raster ID, count band,
// min count). Rebuilt rasters get new IDs, so stale entries are never hit
// and age out of the bounded cache.
type MinMaxCache struct {
	cache *imaging.Cache[minMaxKey, []densitymap.MinMax]
}

// NewMinMaxCache creates a cache holding at most capacity scans.
func NewMinMaxCache(capacity int) *MinMaxCache {
	return &MinMaxCache{cache: imaging.NewCache[minMaxKey, []densitymap.MinMax](capacity)}
}

// Get returns the per-channel ranges, scanning the raster on a miss. A
// cancelled scan returns densitymap.ErrCancelled and caches nothing.
func (c *MinMaxCache) Get(ctx context.Context, raster *densitymap.Raster, countBand int, minCount float32) ([]densitymap.MinMax, error) {
	if countBand < 0 {
		countBand = -1
		minCount = 0
	}
	key := minMaxKey{raster: raster.ID(), countBand: countBand, minCount: minCount}
	ranges, err := c.cache.GetOrLoad(key, func() ([]densitymap.MinMax, error) {
		return densitymap.ScanMinMax(ctx, raster, countBand, minCount)
	})
	if err != nil {
		return nil, err
	}
	return append([]densitymap.MinMax(nil), ranges...), nil
}

// Forget drops the entries for a raster.
func (c *MinMaxCache) Forget(id uuid.UUID) {
	c.cache.EvictFunc(func(k minMaxKey) bool { return k.raster == id })
}

// Len returns the number of cached scans.
func (c *MinMaxCache) Len() int { return c.cache.Len() }
