package volcast

import (
	"errors"
	"fmt"
	"sort"
)

// OpacityPoint maps a normalized intensity to an opacity in [0,1].
type OpacityPoint struct {
	Intensity float64
	Opacity   float64
}

// ColorPoint maps a normalized intensity to an RGB color with channels
// in [0,1].
type ColorPoint struct {
	Intensity float64
	R, G, B   float64
}

// TransferFunction maps normalized scalar intensity to color and opacity.
//
// Control points are kept intensity-ascending. Presets are immutable
// templates; the active function held by the engine is always a copy, so
// edits such as opacity scaling never write back into a preset.
type TransferFunction struct {
	Opacity []OpacityPoint
	Color   []ColorPoint
}

// Clone returns a deep copy of the function.
func (f TransferFunction) Clone() TransferFunction {
	c := TransferFunction{
		Opacity: make([]OpacityPoint, len(f.Opacity)),
		Color:   make([]ColorPoint, len(f.Color)),
	}
	copy(c.Opacity, f.Opacity)
	copy(c.Color, f.Color)
	return c
}

// ScaleOpacity multiplies every opacity control point by scale, clamping the
// results to [0,1]. This is the software path of the global opacity control;
// the hardware backend applies its own equivalent instead.
func (f *TransferFunction) ScaleOpacity(scale float64) {
	for i := range f.Opacity {
		f.Opacity[i].Opacity = clampUnit(f.Opacity[i].Opacity * scale)
	}
}

// Clamp normalizes a user-edited function: control points are sorted by
// intensity and every opacity and color channel is clamped to [0,1].
func (f *TransferFunction) Clamp() {
	sort.Slice(f.Opacity, func(i, j int) bool { return f.Opacity[i].Intensity < f.Opacity[j].Intensity })
	sort.Slice(f.Color, func(i, j int) bool { return f.Color[i].Intensity < f.Color[j].Intensity })
	for i := range f.Opacity {
		f.Opacity[i].Intensity = clampUnit(f.Opacity[i].Intensity)
		f.Opacity[i].Opacity = clampUnit(f.Opacity[i].Opacity)
	}
	for i := range f.Color {
		f.Color[i].Intensity = clampUnit(f.Color[i].Intensity)
		f.Color[i].R = clampUnit(f.Color[i].R)
		f.Color[i].G = clampUnit(f.Color[i].G)
		f.Color[i].B = clampUnit(f.Color[i].B)
	}
}

// Sample evaluates the function at a normalized intensity using piecewise
// linear interpolation over both point sets. Intensities outside [0,1] take
// the boundary values.
func (f TransferFunction) Sample(intensity float64) (r, g, b, a float64) {
	a = sampleOpacity(f.Opacity, intensity)
	r, g, b = sampleColor(f.Color, intensity)
	return r, g, b, a
}

func sampleOpacity(pts []OpacityPoint, x float64) float64 {
	if len(pts) == 0 {
		return 0
	}
	if x <= pts[0].Intensity {
		return pts[0].Opacity
	}
	last := pts[len(pts)-1]
	if x >= last.Intensity {
		return last.Opacity
	}
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].Intensity {
			return lerpSegment(pts[i-1].Intensity, pts[i].Intensity, pts[i-1].Opacity, pts[i].Opacity, x)
		}
	}
	return last.Opacity
}

func sampleColor(pts []ColorPoint, x float64) (r, g, b float64) {
	if len(pts) == 0 {
		return 0, 0, 0
	}
	if x <= pts[0].Intensity {
		return pts[0].R, pts[0].G, pts[0].B
	}
	last := pts[len(pts)-1]
	if x >= last.Intensity {
		return last.R, last.G, last.B
	}
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].Intensity {
			lo, hi := pts[i-1], pts[i]
			r = lerpSegment(lo.Intensity, hi.Intensity, lo.R, hi.R, x)
			g = lerpSegment(lo.Intensity, hi.Intensity, lo.G, hi.G, x)
			b = lerpSegment(lo.Intensity, hi.Intensity, lo.B, hi.B, x)
			return r, g, b
		}
	}
	return last.R, last.G, last.B
}

func lerpSegment(x0, x1, y0, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + (y1-y0)*t
}

// LUT flattens the function into n RGBA8 entries sampled at evenly spaced
// normalized intensities. The hardware backend uploads this table instead of
// evaluating control points per sample.
func (f TransferFunction) LUT(n int) []byte {
	if n < 2 {
		n = 2
	}
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		r, g, b, a := f.Sample(x)
		out[i*4+0] = unitToByte(r)
		out[i*4+1] = unitToByte(g)
		out[i*4+2] = unitToByte(b)
		out[i*4+3] = unitToByte(a)
	}
	return out
}

// isosurfaceBand is the half-width of the visible shell, as a fraction of
// the configured isovalue.
const isosurfaceBand = 0.05

// IsosurfaceTransfer derives the thin-shell function used by ModeIsosurface:
// opacity is zero everywhere except a band of +/-5% around the isovalue,
// where it rises to 1. Colors are taken from the base function, so the shell
// keeps the look of the active preset.
func IsosurfaceTransfer(base TransferFunction, isovalue, scalarMin, scalarMax float64) TransferFunction {
	span := scalarMax - scalarMin
	if span <= 0 {
		span = 1
	}
	lo := clampUnit((isovalue*(1-isosurfaceBand) - scalarMin) / span)
	hi := clampUnit((isovalue*(1+isosurfaceBand) - scalarMin) / span)
	mid := (lo + hi) / 2

	derived := TransferFunction{
		Opacity: []OpacityPoint{
			{Intensity: 0, Opacity: 0},
			{Intensity: lo, Opacity: 0},
			{Intensity: mid, Opacity: 1},
			{Intensity: hi, Opacity: 0},
			{Intensity: 1, Opacity: 0},
		},
		Color: make([]ColorPoint, len(base.Color)),
	}
	copy(derived.Color, base.Color)
	if len(derived.Color) == 0 {
		derived.Color = []ColorPoint{{Intensity: 0, R: 1, G: 1, B: 1}, {Intensity: 1, R: 1, G: 1, B: 1}}
	}
	return derived
}

// ErrUnknownPreset is returned by Preset for names not in the preset table.
var ErrUnknownPreset = errors.New("volcast: unknown transfer preset")

// DefaultPreset is the transfer function an Engine starts with.
const DefaultPreset = "bone"

// presets are the built-in immutable templates. Intensities are normalized
// against the volume scalar range at sampling time.
var presets = map[string]TransferFunction{
	"bone": {
		Opacity: []OpacityPoint{
			{Intensity: 0.00, Opacity: 0},
			{Intensity: 0.30, Opacity: 0},
			{Intensity: 0.45, Opacity: 0.15},
			{Intensity: 0.70, Opacity: 0.80},
			{Intensity: 1.00, Opacity: 0.95},
		},
		Color: []ColorPoint{
			{Intensity: 0.00, R: 0.00, G: 0.00, B: 0.00},
			{Intensity: 0.45, R: 0.55, G: 0.25, B: 0.15},
			{Intensity: 0.70, R: 0.88, G: 0.80, B: 0.56},
			{Intensity: 1.00, R: 1.00, G: 0.98, B: 0.90},
		},
	},
	"soft-tissue": {
		Opacity: []OpacityPoint{
			{Intensity: 0.00, Opacity: 0},
			{Intensity: 0.15, Opacity: 0},
			{Intensity: 0.30, Opacity: 0.35},
			{Intensity: 0.55, Opacity: 0.50},
			{Intensity: 1.00, Opacity: 0.60},
		},
		Color: []ColorPoint{
			{Intensity: 0.00, R: 0.00, G: 0.00, B: 0.00},
			{Intensity: 0.30, R: 0.62, G: 0.36, B: 0.18},
			{Intensity: 0.55, R: 0.88, G: 0.60, B: 0.29},
			{Intensity: 1.00, R: 0.83, G: 0.66, B: 1.00},
		},
	},
	"lung": {
		Opacity: []OpacityPoint{
			{Intensity: 0.00, Opacity: 0},
			{Intensity: 0.05, Opacity: 0.05},
			{Intensity: 0.20, Opacity: 0.25},
			{Intensity: 0.45, Opacity: 0.05},
			{Intensity: 1.00, Opacity: 0},
		},
		Color: []ColorPoint{
			{Intensity: 0.00, R: 0.00, G: 0.00, B: 0.00},
			{Intensity: 0.20, R: 0.68, G: 0.40, B: 0.33},
			{Intensity: 0.45, R: 0.85, G: 0.69, B: 0.64},
			{Intensity: 1.00, R: 1.00, G: 1.00, B: 1.00},
		},
	},
	"vessels": {
		Opacity: []OpacityPoint{
			{Intensity: 0.00, Opacity: 0},
			{Intensity: 0.55, Opacity: 0},
			{Intensity: 0.65, Opacity: 0.70},
			{Intensity: 0.80, Opacity: 0.95},
			{Intensity: 1.00, Opacity: 1.00},
		},
		Color: []ColorPoint{
			{Intensity: 0.00, R: 0.00, G: 0.00, B: 0.00},
			{Intensity: 0.65, R: 0.80, G: 0.10, B: 0.10},
			{Intensity: 0.80, R: 0.95, G: 0.30, B: 0.20},
			{Intensity: 1.00, R: 1.00, G: 0.85, B: 0.75},
		},
	},
	"mip": {
		Opacity: []OpacityPoint{
			{Intensity: 0, Opacity: 0},
			{Intensity: 1, Opacity: 1},
		},
		Color: []ColorPoint{
			{Intensity: 0, R: 0, G: 0, B: 0},
			{Intensity: 1, R: 1, G: 1, B: 1},
		},
	},
}

// Preset returns a copy of the named preset.
func Preset(name string) (TransferFunction, error) {
	p, ok := presets[name]
	if !ok {
		return TransferFunction{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p.Clone(), nil
}

// PresetNames returns the available preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unitToByte(v float64) byte {
	return byte(clampUnit(v)*255 + 0.5)
}
