package volcast

import (
	"errors"
	"math"
	"sort"
	"testing"
)

func TestPresetKnownNames(t *testing.T) {
	for _, name := range []string{"bone", "soft-tissue", "lung", "vessels", "mip"} {
		tf, err := Preset(name)
		if err != nil {
			t.Errorf("Preset(%q): %v", name, err)
			continue
		}
		if len(tf.Opacity) == 0 || len(tf.Color) == 0 {
			t.Errorf("Preset(%q) has empty control points", name)
		}
	}
}

func TestPresetUnknown(t *testing.T) {
	_, err := Preset("granite")
	if !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Preset(granite) error = %v, want ErrUnknownPreset", err)
	}
}

func TestPresetReturnsCopy(t *testing.T) {
	first, err := Preset("bone")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	first.Opacity[0].Opacity = 0.9
	first.Color[0].R = 0.9

	second, err := Preset("bone")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if second.Opacity[0].Opacity == 0.9 {
		t.Error("editing a returned preset mutated the template opacity")
	}
	if second.Color[0].R == 0.9 {
		t.Error("editing a returned preset mutated the template color")
	}
}

func TestPresetNames(t *testing.T) {
	names := PresetNames()
	if !sort.StringsAreSorted(names) {
		t.Errorf("PresetNames() = %v, want sorted", names)
	}
	found := false
	for _, n := range names {
		if n == DefaultPreset {
			found = true
		}
		if _, err := Preset(n); err != nil {
			t.Errorf("listed preset %q is not loadable: %v", n, err)
		}
	}
	if !found {
		t.Errorf("PresetNames() = %v does not include the default %q", names, DefaultPreset)
	}
}

func TestCloneIndependence(t *testing.T) {
	orig := TransferFunction{
		Opacity: []OpacityPoint{{Intensity: 0, Opacity: 0.5}},
		Color:   []ColorPoint{{Intensity: 0, R: 0.5}},
	}
	c := orig.Clone()
	c.Opacity[0].Opacity = 1
	c.Color[0].R = 1

	if orig.Opacity[0].Opacity != 0.5 || orig.Color[0].R != 0.5 {
		t.Error("Clone shares control point storage with the original")
	}
}

func TestSampleInterpolation(t *testing.T) {
	tf := TransferFunction{
		Opacity: []OpacityPoint{
			{Intensity: 0.2, Opacity: 0},
			{Intensity: 0.8, Opacity: 0.6},
		},
		Color: []ColorPoint{
			{Intensity: 0.0, R: 0, G: 0, B: 0},
			{Intensity: 1.0, R: 1, G: 0.5, B: 0.25},
		},
	}

	tests := []struct {
		name       string
		x          float64
		r, g, b, a float64
	}{
		{"below first opacity point", 0.0, 0, 0, 0, 0},
		{"at first opacity point", 0.2, 0.2, 0.1, 0.05, 0},
		{"opacity midpoint", 0.5, 0.5, 0.25, 0.125, 0.3},
		{"at last opacity point", 0.8, 0.8, 0.4, 0.2, 0.6},
		{"above last point", 1.5, 1, 0.5, 0.25, 0.6},
		{"far below range", -1, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, g, b, a := tf.Sample(tt.x)
			for _, ch := range []struct {
				name      string
				got, want float64
			}{{"r", r, tt.r}, {"g", g, tt.g}, {"b", b, tt.b}, {"a", a, tt.a}} {
				if math.Abs(ch.got-ch.want) > 1e-9 {
					t.Errorf("Sample(%v) %s = %v, want %v", tt.x, ch.name, ch.got, ch.want)
				}
			}
		})
	}
}

func TestSampleEmptyFunction(t *testing.T) {
	var tf TransferFunction
	r, g, b, a := tf.Sample(0.5)
	if r != 0 || g != 0 || b != 0 || a != 0 {
		t.Errorf("Sample on empty function = (%v,%v,%v,%v), want zeros", r, g, b, a)
	}
}

func TestScaleOpacity(t *testing.T) {
	tf := TransferFunction{
		Opacity: []OpacityPoint{
			{Intensity: 0, Opacity: 0.2},
			{Intensity: 1, Opacity: 0.8},
		},
	}
	tf.ScaleOpacity(2)

	if math.Abs(tf.Opacity[0].Opacity-0.4) > 1e-9 {
		t.Errorf("Opacity[0] = %v, want 0.4", tf.Opacity[0].Opacity)
	}
	if tf.Opacity[1].Opacity != 1 {
		t.Errorf("Opacity[1] = %v, want clamped to 1", tf.Opacity[1].Opacity)
	}

	tf.ScaleOpacity(0)
	for i, p := range tf.Opacity {
		if p.Opacity != 0 {
			t.Errorf("Opacity[%d] = %v after zero scale, want 0", i, p.Opacity)
		}
	}
}

func TestClampSortsAndBounds(t *testing.T) {
	tf := TransferFunction{
		Opacity: []OpacityPoint{
			{Intensity: 0.9, Opacity: 1.5},
			{Intensity: -0.2, Opacity: -0.5},
		},
		Color: []ColorPoint{
			{Intensity: 2, R: 3, G: -1, B: 0.5},
			{Intensity: 0.1, R: 0.2, G: 0.3, B: 0.4},
		},
	}
	tf.Clamp()

	if tf.Opacity[0].Intensity != 0 || tf.Opacity[0].Opacity != 0 {
		t.Errorf("Opacity[0] = %+v, want intensity 0 opacity 0", tf.Opacity[0])
	}
	if tf.Opacity[1].Intensity != 0.9 || tf.Opacity[1].Opacity != 1 {
		t.Errorf("Opacity[1] = %+v, want intensity 0.9 opacity 1", tf.Opacity[1])
	}
	if tf.Color[0].Intensity != 0.1 {
		t.Errorf("Color[0].Intensity = %v, want points sorted ascending", tf.Color[0].Intensity)
	}
	if tf.Color[1].Intensity != 1 || tf.Color[1].R != 1 || tf.Color[1].G != 0 {
		t.Errorf("Color[1] = %+v, want intensity 1, R 1, G 0", tf.Color[1])
	}
}

func TestLUT(t *testing.T) {
	tf, err := Preset("mip") // linear gray ramp
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}

	lut := tf.LUT(256)
	if len(lut) != 256*4 {
		t.Fatalf("LUT length = %d, want %d", len(lut), 256*4)
	}
	if lut[0] != 0 || lut[1] != 0 || lut[2] != 0 || lut[3] != 0 {
		t.Errorf("LUT[0] = %v, want transparent black", lut[0:4])
	}
	last := lut[255*4:]
	if last[0] != 255 || last[1] != 255 || last[2] != 255 || last[3] != 255 {
		t.Errorf("LUT[255] = %v, want opaque white", last)
	}
	// The ramp is linear, so the middle entry sits near 128.
	mid := lut[128*4]
	if mid < 126 || mid > 130 {
		t.Errorf("LUT midpoint = %d, want near 128", mid)
	}
}

func TestLUTMinimumSize(t *testing.T) {
	tf, _ := Preset("mip")
	for _, n := range []int{-1, 0, 1} {
		if got := len(tf.LUT(n)); got != 8 {
			t.Errorf("LUT(%d) length = %d, want 8 (two entries)", n, got)
		}
	}
}

func TestIsosurfaceTransferBand(t *testing.T) {
	base, err := Preset("bone")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}

	// Scalars span [0, 1000], isovalue 500: the visible band is 475..525,
	// or 0.475..0.525 normalized.
	derived := IsosurfaceTransfer(base, 500, 0, 1000)

	_, _, _, a := derived.Sample(0.5)
	if a != 1 {
		t.Errorf("opacity at band center = %v, want 1", a)
	}
	for _, x := range []float64{0, 0.3, 0.46, 0.54, 0.8, 1} {
		if _, _, _, a := derived.Sample(x); a > 1e-9 {
			t.Errorf("opacity at %v = %v, want 0 outside the band", x, a)
		}
	}

	// Colors carry over from the base preset.
	r0, g0, b0, _ := base.Sample(0.5)
	r1, g1, b1, _ := derived.Sample(0.5)
	if r0 != r1 || g0 != g1 || b0 != b1 {
		t.Errorf("derived color = (%v,%v,%v), want base color (%v,%v,%v)", r1, g1, b1, r0, g0, b0)
	}
}

func TestIsosurfaceTransferOutOfRange(t *testing.T) {
	base, _ := Preset("bone")

	// An isovalue far above the scalar range clamps the whole band to 1,
	// leaving nothing visible below it.
	derived := IsosurfaceTransfer(base, 5000, 0, 1000)
	for _, x := range []float64{0, 0.25, 0.5, 0.75, 0.99} {
		if _, _, _, a := derived.Sample(x); a > 1e-9 {
			t.Errorf("opacity at %v = %v, want 0 for out-of-range isovalue", x, a)
		}
	}
}

func TestIsosurfaceTransferEmptyBaseColor(t *testing.T) {
	derived := IsosurfaceTransfer(TransferFunction{}, 500, 0, 1000)
	r, g, b, _ := derived.Sample(0.5)
	if r != 1 || g != 1 || b != 1 {
		t.Errorf("fallback shell color = (%v,%v,%v), want white", r, g, b)
	}
}

func TestIsosurfaceTransferDegenerateRange(t *testing.T) {
	base, _ := Preset("bone")
	// A collapsed scalar range must not divide by zero.
	derived := IsosurfaceTransfer(base, 500, 100, 100)
	derived.Sample(0.5)
}

func TestUnitToByte(t *testing.T) {
	tests := []struct {
		in   float64
		want byte
	}{
		{0, 0},
		{1, 255},
		{0.5, 128},
		{-1, 0},
		{2, 255},
	}
	for _, tt := range tests {
		if got := unitToByte(tt.in); got != tt.want {
			t.Errorf("unitToByte(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
