package render

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/pkg/errors"
)

// ChannelFile describes one exported channel.
type ChannelFile struct {
	Name string `json:"name"`
	File string `json:"file"`
	// Scale converts stored 16-bit values back to channel values:
	// value = stored / scale.
	Scale float64 `json:"scale"`
	Max   float32 `json:"max"`
}

// Sidecar is the JSON description written next to exported channels.
type Sidecar struct {
	RasterID   string           `json:"raster_id"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Downsample float64          `json:"downsample"`
	PixelSize  float64          `json:"pixel_size"`
	Plane      objects.Plane    `json:"plane"`
	Spec       *densitymap.Spec `json:"spec,omitempty"`
	Channels   []ChannelFile    `json:"channels"`
}

// ExportChannels writes every channel as a 16-bit grayscale PNG into dir
// and a "<prefix>.json" sidecar describing them. Each channel is scaled so
// its maximum maps to 65535. The sidecar path is returned.
func ExportChannels(raster *densitymap.Raster, dir, prefix string) (string, *Sidecar, error) {
	if prefix == "" {
		prefix = "density"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	side := &Sidecar{
		RasterID:   raster.ID().String(),
		Width:      raster.Width(),
		Height:     raster.Height(),
		Downsample: raster.Downsample(),
		PixelSize:  raster.PixelSize(),
		Plane:      raster.Plane(),
	}
	if spec := raster.Spec(); spec.Radius > 0 {
		side.Spec = &spec
	}

	for c := 0; c < raster.NumChannels(); c++ {
		values, err := raster.ReadRegion(c, raster.Bounds())
		if err != nil {
			return "", nil, err
		}
		var hi float32
		for _, v := range values {
			hi = max(hi, v)
		}
		scale := 1.0
		if hi > 0 {
			scale = math.MaxUint16 / float64(hi)
		}

		img := image.NewGray16(raster.Bounds())
		w := raster.Width()
		for i, v := range values {
			img.SetGray16(i%w, i/w, color.Gray16{Y: uint16(math.Round(float64(v) * scale))})
		}

		name := fmt.Sprintf("%s-%d-%s.png", prefix, c, fileSafe(raster.ChannelName(c)))
		if err := imgio.Save(filepath.Join(dir, name), img, imgio.PNGEncoder()); err != nil {
			return "", nil, fmt.Errorf("failed to write channel %d: %w", c, err)
		}
		side.Channels = append(side.Channels, ChannelFile{
			Name:  raster.ChannelName(c),
			File:  name,
			Scale: scale,
			Max:   hi,
		})
	}

	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode sidecar: %w", err)
	}
	sidecarPath := filepath.Join(dir, prefix+".json")
	if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write sidecar: %w", err)
	}
	return sidecarPath, side, nil
}

// ImportChannels reads channels written by ExportChannels back into a
// raster carrying the sidecar's spec and plane. Values are quantized to
// 1/65535 of each channel's maximum and the raster gets a new ID.
func ImportChannels(sidecarPath string) (*densitymap.Raster, error) {
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var side Sidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar: %w", err)
	}

	dir := filepath.Dir(sidecarPath)
	names := make([]string, len(side.Channels))
	channels := make([][]float32, len(side.Channels))
	for c, ch := range side.Channels {
		img, err := imgio.Open(filepath.Join(dir, ch.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read channel %q: %w", ch.Name, err)
		}
		b := img.Bounds()
		if b.Dx() != side.Width || b.Dy() != side.Height {
			return nil, errors.Errorf("channel %q is %dx%d, want %dx%d", ch.Name, b.Dx(), b.Dy(), side.Width, side.Height)
		}
		vals := make([]float32, side.Width*side.Height)
		for y := 0; y < side.Height; y++ {
			for x := 0; x < side.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				vals[y*side.Width+x] = float32(float64(g.Y) / ch.Scale)
			}
		}
		names[c] = ch.Name
		channels[c] = vals
	}
	r, err := densitymap.FromChannels(names, side.Width, side.Height, side.Downsample, side.PixelSize, channels)
	if err != nil {
		return nil, err
	}
	return r.WithOrigin(side.Spec, side.Plane)
}

// SaveOptions controls SaveRendered.
type SaveOptions struct {
	// ImageWidth and ImageHeight upscale the rendering to full image
	// resolution when both are positive.
	ImageWidth  int
	ImageHeight int
	// Background is drawn under the rendering when non-nil. Its size
	// determines the output size and overrides ImageWidth/ImageHeight.
	Background image.Image
	// Opacity of the rendering over the background, in (0, 1]. Zero means 1.
	Opacity float64
	// GridSpacing draws a labelled coordinate grid every GridSpacing output
	// pixels when positive.
	GridSpacing int
	GridColor   string
	// LabelScale multiplies grid labels, typically the downsample.
	LabelScale float64
}

// Compose applies the upscale, background and grid options to a rendered image.
func Compose(rendered image.Image, opts SaveOptions) (image.Image, error) {
	out := rendered
	switch {
	case opts.Background != nil:
		opacity := opts.Opacity
		if opacity <= 0 || opacity > 1 {
			opacity = 1
		}
		out = imaging.Overlay(opts.Background, out, opacity)
	case opts.ImageWidth > 0 && opts.ImageHeight > 0:
		out = imaging.Upscale(out, opts.ImageWidth, opts.ImageHeight)
	}
	if opts.GridSpacing > 0 {
		scale := opts.LabelScale
		if scale <= 0 {
			scale = 1
		}
		if b := out.Bounds(); b.Dx() != rendered.Bounds().Dx() && rendered.Bounds().Dx() > 0 {
			scale *= float64(rendered.Bounds().Dx()) / float64(b.Dx())
		}
		grid, err := imaging.GridOverlay(out, opts.GridSpacing, true, scale, opts.GridColor)
		if err != nil {
			return nil, err
		}
		out = grid
	}
	return out, nil
}

// SaveRendered composes a rendered image and writes it to path. The format
// is chosen from the file extension.
func SaveRendered(path string, rendered image.Image, opts SaveOptions) error {
	out, err := Compose(rendered, opts)
	if err != nil {
		return err
	}
	return imaging.SaveImage(path, out)
}

func fileSafe(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			b.WriteString("plus")
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "channel"
	}
	return b.String()
}
