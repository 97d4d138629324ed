package imaging

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// createInMemoryImage creates an image in memory without writing to disk
func createInMemoryImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRampByName_Builtins(t *testing.T) {
	for _, name := range RampNames() {
		t.Run(name, func(t *testing.T) {
			r, err := RampByName(name)
			if err != nil {
				t.Fatalf("RampByName(%q) failed: %v", name, err)
			}
			if r.Name() != name {
				t.Errorf("Name: got %q, want %q", r.Name(), name)
			}
			if r.At(0).A != 255 || r.At(1).A != 255 {
				t.Error("ramp colors should be opaque")
			}
		})
	}
}

func TestRampByName_Default(t *testing.T) {
	r, err := RampByName("")
	if err != nil {
		t.Fatalf("RampByName failed: %v", err)
	}
	if r.Name() != DefaultRamp {
		t.Errorf("got %q, want %q", r.Name(), DefaultRamp)
	}
}

func TestRampByName_Endpoints(t *testing.T) {
	tests := []struct {
		name string
		lo   string
		hi   string
	}{
		{"gray", "#000000", "#FFFFFF"},
		{"viridis", "#440154", "#FDE725"},
		{"#FF0000", "#000000", "#FF0000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := RampByName(tt.name)
			if err != nil {
				t.Fatalf("RampByName failed: %v", err)
			}
			if got := HexString(r.At(0)); got != tt.lo {
				t.Errorf("At(0): got %s, want %s", got, tt.lo)
			}
			if got := HexString(r.At(1)); got != tt.hi {
				t.Errorf("At(1): got %s, want %s", got, tt.hi)
			}
		})
	}
}

func TestRampByName_Unknown(t *testing.T) {
	if _, err := RampByName("rainbow-unicorn"); err == nil {
		t.Error("expected error for unknown ramp")
	}
}

func TestColorRamp_GrayMonotonic(t *testing.T) {
	r, err := RampByName("gray")
	if err != nil {
		t.Fatalf("RampByName failed: %v", err)
	}
	prev := -1
	for i := 0; i < LUTSize; i++ {
		c := r.Index(uint8(i))
		if int(c.R) < prev {
			t.Fatalf("gray ramp not monotonic at %d: %d < %d", i, c.R, prev)
		}
		prev = int(c.R)
	}
}

func TestColorRamp_ClampsInput(t *testing.T) {
	r, _ := RampByName("plasma")
	if r.At(-3) != r.At(0) {
		t.Error("values below 0 should clamp to the first entry")
	}
	if r.At(7) != r.At(1) {
		t.Error("values above 1 should clamp to the last entry")
	}
	if r.At(math.NaN()) != r.At(0) {
		t.Error("NaN should map to the first entry")
	}
}

func TestNewColorRamp_TooFewStops(t *testing.T) {
	if _, err := NewColorRamp("one"); err == nil {
		t.Error("expected error for ramp without stops")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		hex     string
		wantR   uint8
		wantG   uint8
		wantB   uint8
		wantA   uint8
		wantErr bool
	}{
		{"#FF0000", 255, 0, 0, 255, false},
		{"#00FF00", 0, 255, 0, 255, false},
		{"#0000FF", 0, 0, 255, 255, false},
		{"FF0000", 255, 0, 0, 255, false},    // without #
		{"#FF000080", 255, 0, 0, 128, false}, // with alpha
		{"", 0, 0, 0, 0, true},               // empty
		{"#FFF", 0, 0, 0, 0, true},           // invalid length
		{"#GGGGGG", 0, 0, 0, 0, true},        // invalid hex
	}

	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			c, err := ParseHexColor(tt.hex)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if c.R != tt.wantR || c.G != tt.wantG || c.B != tt.wantB || c.A != tt.wantA {
				t.Errorf("got (%d,%d,%d,%d), want (%d,%d,%d,%d)",
					c.R, c.G, c.B, c.A, tt.wantR, tt.wantG, tt.wantB, tt.wantA)
			}
		})
	}
}
