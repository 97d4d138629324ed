package densitymap

import (
	"context"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// MinMax is a running {min, max} pair. The zero-sample state is
// {+Inf, -Inf} so an empty channel is detectable.
type MinMax struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// NewMinMax returns an empty MinMax.
func NewMinMax() MinMax {
	return MinMax{Min: math32.Inf(1), Max: math32.Inf(-1)}
}

// Update folds v into the range. NaN is ignored.
func (m *MinMax) Update(v float32) {
	if math32.IsNaN(v) {
		return
	}
	if v < m.Min {
		m.Min = v
	}
	if v > m.Max {
		m.Max = v
	}
}

// IsEmpty reports whether no sample has been observed.
func (m MinMax) IsEmpty() bool { return m.Min > m.Max }

// scanTileSize is the tile edge used by ScanMinMax.
const scanTileSize = 256

// ScanMinMax computes the range of every channel.
//
// When countBand >= 0, pixels whose count-band value is below minCount are
// excluded from every other channel; the count band itself always includes
// every pixel. countBand < 0 disables masking.
//
// Every tile is visited once. ctx is polled between tiles; on cancellation
// ErrCancelled is returned and no partial result.
func ScanMinMax(ctx context.Context, r *Raster, countBand int, minCount float32) ([]MinMax, error) {
	if r == nil {
		return nil, errors.Wrap(ErrDataUnavailable, "nil raster")
	}
	if countBand >= r.NumChannels() {
		return nil, errors.Errorf("count band %d out of range [0, %d)", countBand, r.NumChannels())
	}

	out := make([]MinMax, r.NumChannels())
	for i := range out {
		out[i] = NewMinMax()
	}

	for _, rect := range r.Tiles(scanTileSize) {
		if err := ctx.Err(); err != nil {
			return nil, Cancelled(err)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			base := y * r.width
			for x := rect.Min.X; x < rect.Max.X; x++ {
				i := base + x
				masked := countBand >= 0 && r.data[countBand][i] < minCount
				for c := range out {
					if masked && c != countBand {
						continue
					}
					out[c].Update(r.data[c][i])
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	return out, nil
}
