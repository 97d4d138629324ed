package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// EncodedImage contains a PNG-encoded image ready to return to a client.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNGBase64 encodes img as a base64 PNG.
func EncodePNGBase64(img image.Image) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return &EncodedImage{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// Crop extracts a rectangular region from an image and optionally rescales it.
//
// The region uses (x1,y1) inclusive and (x2,y2) exclusive coordinates and
// must lie inside the image. A scale of 1 (or <= 0) keeps the cropped size.
func Crop(img image.Image, region image.Rectangle, scale float64) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if !region.In(bounds) {
		return nil, fmt.Errorf("crop region %v outside image bounds %v", region, bounds)
	}
	if region.Empty() {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, region)
	if scale != 1.0 && scale > 0 {
		newWidth := max(1, int(float64(cropped.Bounds().Dx())*scale))
		newHeight := max(1, int(float64(cropped.Bounds().Dy())*scale))
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.NearestNeighbor)
	}
	return cropped, nil
}

// Upscale resizes img to width×height with nearest-neighbour sampling so
// every source pixel becomes a solid block.
func Upscale(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.NearestNeighbor)
}

// Fit scales img down so neither side exceeds maxSize, keeping the aspect
// ratio. Images already within the limit are returned as NRGBA copies.
func Fit(img image.Image, maxSize int) *image.NRGBA {
	b := img.Bounds()
	if maxSize <= 0 || (b.Dx() <= maxSize && b.Dy() <= maxSize) {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
}

// Overlay draws fg over bg at the given opacity. fg is resized to bg's size
// with nearest-neighbour sampling when the sizes differ.
func Overlay(bg, fg image.Image, opacity float64) *image.NRGBA {
	bb := bg.Bounds()
	if fg.Bounds().Size() != bb.Size() {
		fg = Upscale(fg, bb.Dx(), bb.Dy())
	}
	return imaging.Overlay(bg, fg, image.Pt(0, 0), opacity)
}

// SaveImage writes img to path. The format is chosen from the extension
// (png, jpg, gif, tif, bmp).
func SaveImage(path string, img image.Image) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}
