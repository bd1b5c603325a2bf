package volcast

import (
	"image"
	"image/color"
	"testing"
)

func TestNewFrame(t *testing.T) {
	f := NewFrame(4, 3)
	if f.Width() != 4 || f.Height() != 3 {
		t.Errorf("size = %dx%d, want 4x3", f.Width(), f.Height())
	}
	if len(f.Pix()) != 4*3*4 {
		t.Errorf("Pix length = %d, want %d", len(f.Pix()), 4*3*4)
	}
	for i, b := range f.Pix() {
		if b != 0 {
			t.Fatalf("Pix[%d] = %d, want a zeroed frame", i, b)
		}
	}
}

func TestFramePixelRoundTrip(t *testing.T) {
	f := NewFrame(3, 3)
	f.SetRGBA(1, 2, 10, 20, 30, 40)

	r, g, b, a := f.RGBAAt(1, 2)
	if r != 10 || g != 20 || b != 30 || a != 40 {
		t.Errorf("RGBAAt(1,2) = (%d,%d,%d,%d), want (10,20,30,40)", r, g, b, a)
	}

	// Row-major layout, 4 bytes per pixel.
	i := (2*3 + 1) * 4
	if pix := f.Pix(); pix[i] != 10 || pix[i+3] != 40 {
		t.Errorf("raw bytes at %d = %v, want RGBA order", i, pix[i:i+4])
	}
}

func TestFrameBounds(t *testing.T) {
	f := NewFrame(2, 2)

	// Out-of-range writes are dropped, reads come back transparent.
	f.SetRGBA(-1, 0, 9, 9, 9, 9)
	f.SetRGBA(0, 2, 9, 9, 9, 9)
	f.SetRGBA(2, 0, 9, 9, 9, 9)
	for _, b := range f.Pix() {
		if b != 0 {
			t.Fatal("out-of-bounds SetRGBA wrote into the frame")
		}
	}

	if r, g, b, a := f.RGBAAt(5, 5); r != 0 || g != 0 || b != 0 || a != 0 {
		t.Errorf("RGBAAt out of bounds = (%d,%d,%d,%d), want zeros", r, g, b, a)
	}
}

func TestFrameClone(t *testing.T) {
	f := NewFrame(2, 2)
	f.SetRGBA(0, 0, 1, 2, 3, 4)

	c := f.Clone()
	c.SetRGBA(0, 0, 9, 9, 9, 9)

	if r, _, _, _ := f.RGBAAt(0, 0); r != 1 {
		t.Error("Clone shares pixel storage with the original")
	}
	if c.Width() != 2 || c.Height() != 2 {
		t.Errorf("clone size = %dx%d, want 2x2", c.Width(), c.Height())
	}
}

func TestUpscaleToSameSize(t *testing.T) {
	src := NewFrame(2, 2)
	src.SetRGBA(1, 1, 10, 20, 30, 255)

	dst := NewFrame(2, 2)
	src.UpscaleTo(dst)

	if r, g, b, a := dst.RGBAAt(1, 1); r != 10 || g != 20 || b != 30 || a != 255 {
		t.Errorf("same-size UpscaleTo = (%d,%d,%d,%d), want exact copy", r, g, b, a)
	}
}

func TestUpscaleToLarger(t *testing.T) {
	src := NewFrame(2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			src.SetRGBA(x, y, 100, 150, 200, 255)
		}
	}

	dst := NewFrame(8, 8)
	src.UpscaleTo(dst)

	// A uniform source stays uniform under bilinear scaling.
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if r, g, b, a := dst.RGBAAt(x, y); r != 100 || g != 150 || b != 200 || a != 255 {
				t.Fatalf("dst(%d,%d) = (%d,%d,%d,%d), want (100,150,200,255)", x, y, r, g, b, a)
			}
		}
	}
}

func TestFrameToImage(t *testing.T) {
	f := NewFrame(2, 1)
	f.SetRGBA(1, 0, 5, 6, 7, 8)

	img := f.ToImage()
	if img.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Errorf("bounds = %v, want (0,0)-(2,1)", img.Bounds())
	}
	if got := img.RGBAAt(1, 0); got.R != 5 || got.G != 6 || got.B != 7 || got.A != 8 {
		t.Errorf("pixel = %+v, want (5,6,7,8)", got)
	}

	// The conversion is a copy, not a view.
	img.SetRGBA(1, 0, color.RGBA{R: 9, G: 9, B: 9, A: 9})
	if r, _, _, _ := f.RGBAAt(1, 0); r != 5 {
		t.Error("ToImage aliases the frame's pixel storage")
	}
}

func TestFrameImplementsImage(t *testing.T) {
	f := NewFrame(2, 2)
	f.SetRGBA(0, 1, 40, 50, 60, 255)

	var img image.Image = f
	r, g, b, a := img.At(0, 1).RGBA()
	if r>>8 != 40 || g>>8 != 50 || b>>8 != 60 || a>>8 != 255 {
		t.Errorf("At(0,1) = (%d,%d,%d,%d), want (40,50,60,255) in 8-bit", r>>8, g>>8, b>>8, a>>8)
	}
	if img.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Errorf("Bounds = %v, want (0,0)-(2,2)", img.Bounds())
	}
}
