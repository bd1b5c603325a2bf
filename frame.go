package volcast

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Frame is a rectangular RGBA raster produced by a render backend.
//
// Pixels are stored row-major, 4 bytes per pixel, alpha-premultiplied: the
// front-to-back compositor accumulates color already weighted by opacity.
// The alpha channel carries the accumulated ray opacity; MIP frames are
// fully opaque.
type Frame struct {
	width  int
	height int
	pix    []uint8
}

// NewFrame creates a zeroed (fully transparent) frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height*4),
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.width
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.height
}

// Pix returns the raw pixel data (RGBA, 4 bytes per pixel).
func (f *Frame) Pix() []uint8 {
	return f.pix
}

// SetRGBA writes a single pixel. Out-of-bounds coordinates are ignored.
func (f *Frame) SetRGBA(x, y int, r, g, b, a uint8) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return
	}
	i := (y*f.width + x) * 4
	f.pix[i+0] = r
	f.pix[i+1] = g
	f.pix[i+2] = b
	f.pix[i+3] = a
}

// RGBAAt reads a single pixel. Out-of-bounds coordinates read as transparent.
func (f *Frame) RGBAAt(x, y int) (r, g, b, a uint8) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return 0, 0, 0, 0
	}
	i := (y*f.width + x) * 4
	return f.pix[i+0], f.pix[i+1], f.pix[i+2], f.pix[i+3]
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	c := NewFrame(f.width, f.height)
	copy(c.pix, f.pix)
	return c
}

// ToImage converts the frame to a standalone image.RGBA.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	copy(img.Pix, f.pix)
	return img
}

// UpscaleTo bilinearly scales the frame into dst. Used when the quality
// scheduler rendered below the physical canvas size and the caller needs a
// full-size raster for presentation.
func (f *Frame) UpscaleTo(dst *Frame) {
	if f.width == dst.width && f.height == dst.height {
		copy(dst.pix, f.pix)
		return
	}
	src := &image.RGBA{Pix: f.pix, Stride: f.width * 4, Rect: image.Rect(0, 0, f.width, f.height)}
	out := &image.RGBA{Pix: dst.pix, Stride: dst.width * 4, Rect: image.Rect(0, 0, dst.width, dst.height)}
	draw.ApproxBiLinear.Scale(out, out.Rect, src, src.Rect, draw.Src, nil)
}

// At implements the image.Image interface.
func (f *Frame) At(x, y int) color.Color {
	r, g, b, a := f.RGBAAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: a}
}

// Bounds implements the image.Image interface.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.width, f.height)
}

// ColorModel implements the image.Image interface.
func (f *Frame) ColorModel() color.Model {
	return color.RGBAModel
}

var _ image.Image = (*Frame)(nil)
