package render

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Options controls how a raster channel is colored.
type Options struct {
	// Channel is the channel to color.
	Channel int
	// Ramp names a built-in color ramp or a hex color for a single-hue ramp.
	Ramp string
	// Min and Max are the display range. When AutoRange is set they are
	// replaced by the observed range of the channel.
	Min       float32
	Max       float32
	AutoRange bool
	// Gamma shapes the alpha ramp. Values <= 0 select a hard cutoff.
	Gamma float64
	// MinCount is the mask value at or below which pixels are transparent.
	MinCount float32
	// MaskChannel is the channel driving alpha. Negative selects the
	// trailing all-objects channel when present, else Channel.
	MaskChannel int
	// MaxAlpha is the mask value at which alpha saturates. Zero uses the
	// observed maximum of the mask channel.
	MaxAlpha float32
}

// DefaultOptions returns options rendering channel 0 with viridis and an
// automatic range.
func DefaultOptions() Options {
	return Options{
		Ramp:        imaging.DefaultRamp,
		AutoRange:   true,
		MaskChannel: -1,
	}
}

// Resolved is the fully determined display state for one render.
type Resolved struct {
	Channel  int     `json:"channel"`
	Mask     int     `json:"mask_channel"`
	Ramp     string  `json:"ramp"`
	Min      float32 `json:"min"`
	Max      float32 `json:"max"`
	Gamma    float64 `json:"gamma"`
	MinCount float32 `json:"min_count"`
	MaxAlpha float32 `json:"max_alpha"`
	// Fallback is set when the requested range was degenerate and the
	// default range was used instead.
	Fallback bool `json:"fallback,omitempty"`
}

func (r Resolved) key() string {
	return fmt.Sprintf("%d|%d|%s|%g|%g|%g|%g|%g", r.Channel, r.Mask, r.Ramp, r.Min, r.Max, r.Gamma, r.MinCount, r.MaxAlpha)
}

type tileKey struct {
	raster  uuid.UUID
	region  image.Rectangle
	display string
}

// Renderer maps density raster channels to RGBA images. It owns a MinMax
// cache for automatic ranges and a bounded cache of rendered tiles, both
// keyed on raster ID. Renderer never mutates a raster and is safe for
// concurrent use.
type Renderer struct {
	log    zerolog.Logger
	minmax *MinMaxCache
	tiles  *imaging.Cache[tileKey, *image.NRGBA]
}

// NewRenderer creates a renderer whose caches hold at most minMaxEntries
// range scans and tileEntries rendered tiles.
func NewRenderer(log zerolog.Logger, minMaxEntries, tileEntries int) *Renderer {
	return &Renderer{
		log:    log.With().Str("component", "render").Logger(),
		minmax: NewMinMaxCache(minMaxEntries),
		tiles:  imaging.NewCache[tileKey, *image.NRGBA](tileEntries),
	}
}

// MinMax returns the renderer's range cache.
func (r *Renderer) MinMax() *MinMaxCache { return r.minmax }

// Forget drops every cached entry for a raster.
func (r *Renderer) Forget(id uuid.UUID) {
	r.minmax.Forget(id)
	r.tiles.EvictFunc(func(k tileKey) bool { return k.raster == id })
}

// Render colors the whole raster.
func (r *Renderer) Render(ctx context.Context, raster *densitymap.Raster, opts Options) (*image.NRGBA, Resolved, error) {
	return r.RenderTile(ctx, raster, raster.Bounds(), opts)
}

// RenderTile colors a region of the raster in output pixel coordinates.
// The region is clipped to the raster.
func (r *Renderer) RenderTile(ctx context.Context, raster *densitymap.Raster, region image.Rectangle, opts Options) (*image.NRGBA, Resolved, error) {
	res, err := r.Resolve(ctx, raster, opts)
	if err != nil {
		return nil, res, err
	}
	ramp, err := imaging.RampByName(res.Ramp)
	if err != nil {
		return nil, res, errors.Wrap(densitymap.ErrRendering, err.Error())
	}

	region = region.Intersect(raster.Bounds())
	key := tileKey{raster: raster.ID(), region: region, display: res.key()}
	img, err := r.tiles.GetOrLoad(key, func() (*image.NRGBA, error) {
		return colorize(raster, region, ramp, res)
	})
	return img, res, err
}

// Resolve determines the display range and mask for opts.
//
// A degenerate range (min >= max, or an empty channel under AutoRange) is
// an ErrRendering condition recovered here: the range falls back to
// [0, max(1, max)] and a warning is logged.
func (r *Renderer) Resolve(ctx context.Context, raster *densitymap.Raster, opts Options) (Resolved, error) {
	n := raster.NumChannels()
	if opts.Channel < 0 || opts.Channel >= n {
		return Resolved{}, errors.Errorf("channel %d out of range [0, %d)", opts.Channel, n)
	}
	mask := opts.MaskChannel
	if mask < 0 {
		mask = raster.AllObjectsChannel()
		if mask < 0 {
			mask = opts.Channel
		}
	}
	if mask >= n {
		return Resolved{}, errors.Errorf("mask channel %d out of range [0, %d)", mask, n)
	}
	ramp := opts.Ramp
	if ramp == "" {
		ramp = imaging.DefaultRamp
	}

	res := Resolved{
		Channel:  opts.Channel,
		Mask:     mask,
		Ramp:     ramp,
		Min:      opts.Min,
		Max:      opts.Max,
		Gamma:    opts.Gamma,
		MinCount: opts.MinCount,
		MaxAlpha: opts.MaxAlpha,
	}

	needScan := opts.AutoRange || (opts.Gamma > 0 && opts.MaxAlpha <= 0)
	if needScan {
		countBand := raster.AllObjectsChannel()
		ranges, err := r.minmax.Get(ctx, raster, countBand, opts.MinCount)
		if err != nil {
			return res, err
		}
		if opts.AutoRange {
			res.Min, res.Max = ranges[opts.Channel].Min, ranges[opts.Channel].Max
		}
		if opts.Gamma > 0 && opts.MaxAlpha <= 0 {
			if mm := ranges[mask]; !mm.IsEmpty() {
				res.MaxAlpha = mm.Max
			}
		}
	}

	if err := checkRange(res.Min, res.Max); err != nil {
		hi := float32(1)
		if !math32.IsInf(res.Max, 0) && !math32.IsNaN(res.Max) {
			hi = max(1, res.Max)
		}
		r.log.Warn().
			Err(err).
			Str("raster", raster.ID().String()).
			Int("channel", opts.Channel).
			Float32("fallback_max", hi).
			Msg("degenerate display range, using default")
		res.Min, res.Max, res.Fallback = 0, hi, true
	}
	return res, nil
}

func checkRange(lo, hi float32) error {
	switch {
	case math32.IsNaN(lo) || math32.IsNaN(hi) || math32.IsInf(lo, 0) || math32.IsInf(hi, 0):
		return errors.Wrap(densitymap.ErrRendering, "display range is not finite")
	case lo >= hi:
		return errors.Wrapf(densitymap.ErrRendering, "display range [%g, %g] is empty", lo, hi)
	}
	return nil
}

func colorize(raster *densitymap.Raster, region image.Rectangle, ramp *imaging.ColorRamp, res Resolved) (*image.NRGBA, error) {
	values, err := raster.ReadRegion(res.Channel, region)
	if err != nil {
		return nil, err
	}
	maskValues := values
	if res.Mask != res.Channel {
		if maskValues, err = raster.ReadRegion(res.Mask, region); err != nil {
			return nil, err
		}
	}

	w, h := region.Dx(), region.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	scale := 1 / float64(res.Max-res.Min)
	for i, v := range values {
		a := Alpha(maskValues[i], res.MinCount, res.MaxAlpha, res.Gamma)
		if a == 0 {
			continue
		}
		c := ramp.At(float64(v-res.Min) * scale)
		out.SetNRGBA(i%w, i/w, color.NRGBA{R: c.R, G: c.G, B: c.B, A: a})
	}
	return out, nil
}

// Alpha returns the opacity for a mask value.
//
// With gamma <= 0 the result is 255 above minCount and 0 otherwise. With
// gamma > 0 it is 255 × clamp(((v-minCount)/(upper-minCount))^(1/gamma), 0, 1).
// An upper bound at or below minCount degrades to the hard cutoff.
func Alpha(v, minCount, upper float32, gamma float64) uint8 {
	if math32.IsNaN(v) || v <= minCount {
		return 0
	}
	if gamma <= 0 || upper <= minCount {
		return 255
	}
	t := (v - minCount) / (upper - minCount)
	if t >= 1 {
		return 255
	}
	a := math32.Pow(t, float32(1/gamma))
	return uint8(math32.Round(255 * min(1, max(0, a))))
}
