package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// GridOverlay draws a coordinate grid over a rendered image.
//
// Grid lines are drawn every spacing pixels of img. When showCoordinates is
// set, each intersection is labelled with its coordinate multiplied by
// labelScale, so a density map rendered at a downsample can be labelled in
// full-resolution image pixels. An invalid or empty color falls back to
// semi-transparent red.
func GridOverlay(img image.Image, spacing int, showCoordinates bool, labelScale float64, gridColorHex string) (*image.NRGBA, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("grid spacing must be positive, got %d", spacing)
	}
	if labelScale <= 0 {
		labelScale = 1
	}

	gridColor, err := ParseHexColor(gridColorHex)
	if err != nil {
		gridColor = color.RGBA{255, 0, 0, 128}
	}

	result := imaging.Clone(img)
	bounds := result.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	line := image.NewUniform(gridColor)

	for x := spacing; x < width; x += spacing {
		draw.Draw(result, image.Rect(x, 0, x+1, height), line, image.Point{}, draw.Over)
	}
	for y := spacing; y < height; y += spacing {
		draw.Draw(result, image.Rect(0, y, width, y+1), line, image.Point{}, draw.Over)
	}

	if showCoordinates {
		labelColor := color.NRGBA{255, 255, 255, 255}
		bgColor := color.NRGBA{0, 0, 0, 180}
		for y := spacing; y < height; y += spacing {
			for x := spacing; x < width; x += spacing {
				label := fmt.Sprintf("%d,%d", int(float64(x)*labelScale), int(float64(y)*labelScale))
				drawLabel(result, x+2, y+2, label, labelColor, bgColor)
			}
		}
	}
	return result, nil
}

// drawLabel draws a text label with a 3x5 pixel font for digits and commas.
func drawLabel(img draw.Image, x, y int, text string, fg, bg color.Color) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		',': {"000", "000", "000", "010", "010"},
	}

	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	set := func(px, py int, c color.Color) {
		if image.Pt(px, py).In(bounds) {
			img.Set(px, py, c)
		}
	}

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			set(x+dx, y+dy, bg)
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel == '1' {
					set(cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
