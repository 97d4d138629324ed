package imaging

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// LUTSize is the number of entries in a color ramp lookup table.
const LUTSize = 256

// ColorRamp maps a normalized value in [0, 1] to a color.
//
// A ramp is defined by evenly spaced color stops interpolated in CIE L*a*b*
// space, then baked into a 256-entry lookup table. Lookups are allocation
// free and safe for concurrent use.
type ColorRamp struct {
	name string
	lut  [LUTSize]color.NRGBA
}

var builtinRamps = map[string][]string{
	"viridis": {"#440154", "#472d7b", "#3b528b", "#2c728e", "#21918c", "#28ae80", "#5ec962", "#addc30", "#fde725"},
	"magma":   {"#000004", "#1c1044", "#4f127b", "#812581", "#b5367a", "#e55064", "#fb8761", "#fec287", "#fcfdbf"},
	"inferno": {"#000004", "#1f0c48", "#550f6d", "#88226a", "#ba3655", "#e35933", "#f98c0a", "#f9c932", "#fcffa4"},
	"plasma":  {"#0d0887", "#4c02a1", "#7e03a8", "#a92395", "#cc4778", "#e56b5d", "#f89441", "#fdc328", "#f0f921"},
	"jet":     {"#00007f", "#0000ff", "#007fff", "#00ffff", "#7fff7f", "#ffff00", "#ff7f00", "#ff0000", "#7f0000"},
	"gray":    {"#000000", "#ffffff"},
}

// DefaultRamp is the ramp used when none is requested.
const DefaultRamp = "viridis"

// RampNames returns the names of the built-in ramps, sorted.
func RampNames() []string {
	names := make([]string, 0, len(builtinRamps))
	for name := range builtinRamps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RampByName returns a built-in ramp, or a single-hue ramp from black to the
// given color when name is a hex color such as "#FF0000".
//
// An empty name selects DefaultRamp.
func RampByName(name string) (*ColorRamp, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultRamp
	}
	if hexes, ok := builtinRamps[name]; ok {
		stops := make([]colorful.Color, len(hexes))
		for i, h := range hexes {
			c, err := colorful.Hex(h)
			if err != nil {
				return nil, fmt.Errorf("ramp %s: %w", name, err)
			}
			stops[i] = c
		}
		return NewColorRamp(name, stops...)
	}

	rgba, err := ParseHexColor(name)
	if err != nil {
		return nil, fmt.Errorf("unknown color ramp %q (want one of %s or a hex color)", name, strings.Join(RampNames(), ", "))
	}
	hue, _ := colorful.MakeColor(color.RGBA{R: rgba.R, G: rgba.G, B: rgba.B, A: 255})
	return NewColorRamp(name, colorful.Color{}, hue)
}

// NewColorRamp builds a ramp from at least two evenly spaced stops.
func NewColorRamp(name string, stops ...colorful.Color) (*ColorRamp, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("color ramp needs at least 2 stops, got %d", len(stops))
	}
	r := &ColorRamp{name: name}
	segments := float64(len(stops) - 1)
	for i := 0; i < LUTSize; i++ {
		t := float64(i) / float64(LUTSize-1)
		pos := t * segments
		seg := min(int(pos), len(stops)-2)
		c := stops[seg].BlendLab(stops[seg+1], pos-float64(seg)).Clamped()
		cr, cg, cb := c.RGB255()
		r.lut[i] = color.NRGBA{R: cr, G: cg, B: cb, A: 255}
	}
	return r, nil
}

// Name returns the ramp name.
func (r *ColorRamp) Name() string { return r.name }

// At returns the opaque color for t, clamped to [0, 1]. NaN maps to 0.
func (r *ColorRamp) At(t float64) color.NRGBA {
	return r.lut[lutIndex(t)]
}

// Index returns the LUT entry i.
func (r *ColorRamp) Index(i uint8) color.NRGBA {
	return r.lut[i]
}

func lutIndex(t float64) int {
	if math.IsNaN(t) || t <= 0 {
		return 0
	}
	if t >= 1 {
		return LUTSize - 1
	}
	return int(t*float64(LUTSize-1) + 0.5)
}

// ParseHexColor parses a hex color string like "#FF0000" or "#FF000080".
// The leading '#' is optional; alpha defaults to 255.
func ParseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// HexString formats a color as "#RRGGBB".
func HexString(c color.Color) string {
	cc, _ := colorful.MakeColor(c)
	return strings.ToUpper(cc.Hex())
}
