package densitymap

import (
	"fmt"
	"image"
	"math"

	"github.com/google/uuid"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Raster is a built multi-channel density map.
//
// A Raster is immutable once returned by Builder.Build and safe for
// concurrent reads. Every build gets a fresh ID, so caches keyed on the ID
// never confuse two maps built from different hierarchy snapshots even when
// their specs are equal.
type Raster struct {
	id          uuid.UUID
	spec        Spec
	plane       objects.Plane
	width       int
	height      int
	imageWidth  int
	imageHeight int
	downsample  float64
	pixelSize   float64
	names       []string
	data        [][]float32
	failedTiles int
}

func newRaster(spec Spec, data ImageData, width, height int, downsample, pixelSize float64) *Raster {
	names := spec.ChannelNames()
	channels := make([][]float32, len(names))
	for i := range channels {
		channels[i] = make([]float32, width*height)
	}
	return &Raster{
		id:          uuid.New(),
		spec:        spec,
		plane:       data.Plane,
		width:       width,
		height:      height,
		imageWidth:  data.Width,
		imageHeight: data.Height,
		downsample:  downsample,
		pixelSize:   pixelSize,
		names:       names,
		data:        channels,
	}
}

// FromChannels wraps precomputed channel data in a Raster with a fresh ID.
// Each channel must hold width*height row-major values. It is used for
// rasters loaded from disk and for synthetic maps.
func FromChannels(names []string, width, height int, downsample, pixelSize float64, channels [][]float32) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("raster size must be positive, got %dx%d", width, height)
	}
	if len(names) == 0 || len(names) != len(channels) {
		return nil, errors.Errorf("got %d channel names for %d channels", len(names), len(channels))
	}
	if downsample <= 0 {
		downsample = 1
	}
	if pixelSize <= 0 {
		pixelSize = downsample
	}
	data := make([][]float32, len(channels))
	for i, c := range channels {
		if len(c) != width*height {
			return nil, errors.Errorf("channel %d has %d values, want %d", i, len(c), width*height)
		}
		data[i] = append([]float32(nil), c...)
	}
	return &Raster{
		id:          uuid.New(),
		width:       width,
		height:      height,
		imageWidth:  int(math.Round(float64(width) * downsample)),
		imageHeight: int(math.Round(float64(height) * downsample)),
		downsample:  downsample,
		pixelSize:   pixelSize,
		names:       append([]string(nil), names...),
		data:        data,
	}, nil
}

// WithOrigin returns a copy of r with a fresh ID that records the plane and,
// when spec is non-nil, the spec it was built from. Rasters read back from
// disk use it to regain spec-derived behaviour such as AllObjectsChannel.
// The spec's channel names must match the raster's.
func (r *Raster) WithOrigin(spec *Spec, plane objects.Plane) (*Raster, error) {
	c := *r
	c.id = uuid.New()
	c.plane = plane
	if spec != nil {
		want := spec.ChannelNames()
		if len(want) != len(r.names) {
			return nil, errors.Errorf("spec has %d channels, raster has %d", len(want), len(r.names))
		}
		for i, name := range want {
			if name != r.names[i] {
				return nil, errors.Errorf("spec channel %d is %q, raster has %q", i, name, r.names[i])
			}
		}
		c.spec = *spec
	}
	return &c, nil
}

// ID returns the per-build identity.
func (r *Raster) ID() uuid.UUID { return r.id }

// Spec returns the spec the raster was built from. Rasters created with
// FromChannels return the zero Spec.
func (r *Raster) Spec() Spec { return r.spec }

// Plane returns the image plane the raster was built for.
func (r *Raster) Plane() objects.Plane { return r.plane }

// Width returns the raster width in output pixels.
func (r *Raster) Width() int { return r.width }

// Height returns the raster height in output pixels.
func (r *Raster) Height() int { return r.height }

// Bounds returns the raster extent in output pixels.
func (r *Raster) Bounds() image.Rectangle { return image.Rect(0, 0, r.width, r.height) }

// Downsample returns the number of full-resolution image pixels per output pixel.
func (r *Raster) Downsample() float64 { return r.downsample }

// PixelSize returns the output pixel size in calibrated units.
func (r *Raster) PixelSize() float64 { return r.pixelSize }

// NumChannels returns the number of channels.
func (r *Raster) NumChannels() int { return len(r.data) }

// ChannelNames returns a copy of the channel names.
func (r *Raster) ChannelNames() []string { return append([]string(nil), r.names...) }

// ChannelName returns the name of channel c.
func (r *Raster) ChannelName(c int) string {
	if c < 0 || c >= len(r.names) {
		return ""
	}
	return r.names[c]
}

// ChannelIndex finds a channel by name. The first match wins.
func (r *Raster) ChannelIndex(name string) (int, bool) {
	for i, n := range r.names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// AllObjectsChannel returns the index of the trailing all-objects channel,
// or -1 when the raster has none.
func (r *Raster) AllObjectsChannel() int {
	if r.spec.HasAllObjectsChannel() && len(r.data) > 1 {
		return len(r.data) - 1
	}
	return -1
}

// Value returns the value of channel c at output pixel (x, y). Out-of-range
// requests return 0.
func (r *Raster) Value(c, x, y int) float32 {
	if c < 0 || c >= len(r.data) || x < 0 || y < 0 || x >= r.width || y >= r.height {
		return 0
	}
	return r.data[c][y*r.width+x]
}

// ReadRegion copies a rectangle of channel c in row-major order. The
// rectangle is clipped to the raster.
func (r *Raster) ReadRegion(c int, rect image.Rectangle) ([]float32, error) {
	if c < 0 || c >= len(r.data) {
		return nil, errors.Errorf("channel %d out of range [0, %d)", c, len(r.data))
	}
	rect = rect.Intersect(r.Bounds())
	out := make([]float32, 0, rect.Dx()*rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := r.data[c][y*r.width : (y+1)*r.width]
		out = append(out, row[rect.Min.X:rect.Max.X]...)
	}
	return out, nil
}

// Tiles partitions the raster into non-overlapping rectangles of at most
// size×size output pixels, in raster scan order.
func (r *Raster) Tiles(size int) []image.Rectangle {
	return tileGrid(r.width, r.height, size)
}

func tileGrid(width, height, size int) []image.Rectangle {
	if size <= 0 {
		size = DefaultTileSize
	}
	tiles := make([]image.Rectangle, 0, ((width+size-1)/size)*((height+size-1)/size))
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			tiles = append(tiles, image.Rect(x, y, min(x+size, width), min(y+size, height)))
		}
	}
	return tiles
}

// ImageBound returns the full-resolution image extent covered by the raster.
func (r *Raster) ImageBound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{0, 0},
		Max: orb.Point{float64(r.width) * r.downsample, float64(r.height) * r.downsample},
	}
}

// ImageSize returns the size of the full-resolution image the raster covers.
func (r *Raster) ImageSize() (int, int) { return r.imageWidth, r.imageHeight }

// PixelCenter returns the center of output pixel (x, y) in full-resolution
// image coordinates.
func (r *Raster) PixelCenter(x, y int) orb.Point {
	return orb.Point{(float64(x) + 0.5) * r.downsample, (float64(y) + 0.5) * r.downsample}
}

// PixelAt returns the output pixel containing the image point p.
func (r *Raster) PixelAt(p orb.Point) (int, int) {
	return int(math.Floor(p[0] / r.downsample)), int(math.Floor(p[1] / r.downsample))
}

// PixelBound returns the image-space extent of output pixel (x, y).
func (r *Raster) PixelBound(x, y int) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(x) * r.downsample, float64(y) * r.downsample},
		Max: orb.Point{float64(x+1) * r.downsample, float64(y+1) * r.downsample},
	}
}

// FailedTiles returns the number of tiles that failed during the build and
// were filled with zeros.
func (r *Raster) FailedTiles() int { return r.failedTiles }

// Incomplete reports whether any tile failed during the build.
func (r *Raster) Incomplete() bool { return r.failedTiles > 0 }

func (r *Raster) String() string {
	return fmt.Sprintf("Raster(%s, %dx%d, %d channels, downsample %.3g)", r.id, r.width, r.height, len(r.data), r.downsample)
}

// writeTile stores a tile's channel values. Each tile owns a disjoint region.
func (r *Raster) writeTile(rect image.Rectangle, channels [][]float32) {
	w := rect.Dx()
	for c, vals := range channels {
		dst := r.data[c]
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := vals[(y-rect.Min.Y)*w : (y-rect.Min.Y+1)*w]
			copy(dst[y*r.width+rect.Min.X:], row)
		}
	}
}
