package densitymap

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/chewxy/math32"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultTileSize is the default tile edge in output pixels.
const DefaultTileSize = 256

// ImageData is the image a density map is built for.
type ImageData struct {
	// Width and Height are the full-resolution image size in pixels.
	Width  int
	Height int
	// PixelSize is the calibrated size of one image pixel. Zero means 1.
	PixelSize float64
	Plane     objects.Plane
	Index     objects.Index
}

func (d ImageData) nativePixelSize() float64 {
	if d.PixelSize <= 0 || math.IsNaN(d.PixelSize) || math.IsInf(d.PixelSize, 0) {
		return 1
	}
	return d.PixelSize
}

func (d ImageData) check() error {
	if d.Index == nil {
		return errors.Wrap(ErrDataUnavailable, "no object index")
	}
	if d.Width <= 0 || d.Height <= 0 {
		return errors.Wrapf(ErrDataUnavailable, "invalid image size %dx%d", d.Width, d.Height)
	}
	return nil
}

// OutputPixelSize returns the calibrated output pixel size for a spec.
//
// An explicit spec pixel size is used as given (but never finer than the
// image). Otherwise the size is half the radius, capped so the smaller image
// dimension spans at least 20 output pixels.
func OutputPixelSize(data ImageData, spec Spec) float64 {
	native := data.nativePixelSize()
	if spec.PixelSize > 0 {
		return max(native, spec.PixelSize)
	}
	minDim := float64(min(data.Width, data.Height))
	return max(native, min(spec.Radius/2, minDim*native/20))
}

// Builder builds density rasters tile by tile on a bounded worker pool.
type Builder struct {
	tileSize int
	workers  int
	log      zerolog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTileSize sets the tile edge in output pixels.
func WithTileSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.tileSize = n
		}
	}
}

// WithWorkers sets the number of concurrent tile workers.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBuilder creates a Builder. Defaults: 256-pixel tiles, one worker per CPU.
func NewBuilder(log zerolog.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		tileSize: DefaultTileSize,
		workers:  runtime.NumCPU(),
		log:      log.With().Str("component", "densitymap").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// tileResult classifies how a tile ended.
type tileResult int

const (
	tileOK tileResult = iota
	tileFailed
	tileFatal
)

// Build computes the density map for spec over data.
//
// Errors:
//   - ErrInvalidSpec: the spec failed validation; no work was done
//   - ErrDataUnavailable: the index is missing or was closed mid-build
//   - ErrCancelled: ctx was cancelled
//
// No raster is returned with any of these errors. Other per-tile failures do
// not abort the build: the tile is left at zero, counted in
// Raster.FailedTiles and summarised in a single warning.
func (b *Builder) Build(ctx context.Context, data ImageData, spec Spec) (*Raster, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := data.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}

	native := data.nativePixelSize()
	pixelSize := OutputPixelSize(data, spec)
	downsample := pixelSize / native
	width := max(1, int(math.Ceil(float64(data.Width)/downsample)))
	height := max(1, int(math.Ceil(float64(data.Height)/downsample)))

	raster := newRaster(spec, data, width, height, downsample, pixelSize)
	tiles := tileGrid(width, height, b.tileSize)

	log := b.log.With().Str("raster", raster.id.String()).Logger()
	log.Debug().
		Int("width", width).
		Int("height", height).
		Float64("downsample", downsample).
		Int("tiles", len(tiles)).
		Int("channels", raster.NumChannels()).
		Msg("building density map")

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	all, density := spec.selectors()
	job := &tileJob{
		data:    data,
		spec:    spec,
		raster:  raster,
		all:     all,
		density: density,
		kernel:  Kernel{Radius: spec.Radius, Shape: spec.Kernel, Area: spec.AreaMode},
		grid:    Grid{Downsample: downsample, Calibration: native},
	}

	var (
		mu       sync.Mutex
		failed   int
		fatalErr error
	)
	jobs := make(chan image.Rectangle)
	var wg sync.WaitGroup
	for w := 0; w < min(b.workers, len(tiles)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rect := range jobs {
				if buildCtx.Err() != nil {
					continue
				}
				res, err := job.run(buildCtx, rect)
				switch res {
				case tileFailed:
					log.Debug().Err(err).Str("tile", rect.String()).Msg("tile failed, filled with zeros")
					mu.Lock()
					failed++
					mu.Unlock()
				case tileFatal:
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					cancel()
				}
			}
		}()
	}

feed:
	for _, rect := range tiles {
		select {
		case jobs <- rect:
		case <-buildCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return nil, withKind(ErrDataUnavailable, fatalErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}

	raster.failedTiles = failed
	if failed > 0 {
		log.Warn().Int("failed_tiles", failed).Int("tiles", len(tiles)).Msg("density map incomplete")
	}
	return raster, nil
}

// tileJob holds what every tile of one build shares. It is read-only.
type tileJob struct {
	data    ImageData
	spec    Spec
	raster  *Raster
	all     objects.Predicate
	density []objects.Predicate
	kernel  Kernel
	grid    Grid
}

func (j *tileJob) run(ctx context.Context, rect image.Rectangle) (res tileResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = tileFailed, fmt.Errorf("panic in tile %v: %v", rect, p)
		}
	}()

	grid := j.grid
	grid.Rect = rect
	region := grid.ImageBound().Pad(j.spec.Support() / grid.calibration())

	objs, err := j.data.Index.Query(ctx, region, j.data.Plane)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return tileOK, nil
	case errors.Is(err, objects.ErrClosed):
		return tileFatal, err
	default:
		return tileFailed, err
	}

	counts := Accumulate(grid, objs, j.all, j.density, j.kernel)
	if ctx.Err() != nil {
		return tileOK, nil
	}
	j.raster.writeTile(rect, normalize(j.spec, counts))
	return tileOK, nil
}

// normalize converts counts to channel values in raster channel order.
func normalize(spec Spec, counts Counts) [][]float32 {
	n := len(counts.All)
	out := make([][]float32, 0, spec.NumChannels())
	areaScale := 1.0
	if spec.Normalization == AreaNormalized {
		areaScale = 1 / spec.KernelArea()
	}

	for _, dens := range counts.Density {
		ch := make([]float32, n)
		for i, d := range dens {
			var v float64
			switch spec.Normalization {
			case Percent:
				if a := counts.All[i]; a > 0 {
					v = 100 * d / a
				}
				v = min(100, v)
			case AreaNormalized:
				v = d * areaScale
			default:
				v = d
			}
			ch[i] = finite(float32(v))
		}
		out = append(out, ch)
	}

	if spec.Normalization == Percent {
		ch := make([]float32, n)
		for i, a := range counts.All {
			ch[i] = finite(float32(a))
		}
		out = append(out, ch)
	}
	return out
}

// finite maps NaN, infinities and negatives to zero.
func finite(v float32) float32 {
	if math32.IsNaN(v) || math32.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
