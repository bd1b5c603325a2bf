package volcast

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestFrameKeyQuantizesJitter(t *testing.T) {
	a := &Camera{Position: mgl64.Vec3{1.23, 4.56, 7.89}}
	b := &Camera{Position: mgl64.Vec3{1.21, 4.58, 7.91}}

	ka := frameKeyFor(a, ModeVolumetric, QualityHigh)
	kb := frameKeyFor(b, ModeVolumetric, QualityHigh)
	if ka != kb {
		t.Errorf("sub-tenth jitter changed the key: %+v vs %+v", ka, kb)
	}
}

func TestFrameKeySeparatesPoses(t *testing.T) {
	a := &Camera{Position: mgl64.Vec3{1.2, 0, 0}}
	b := &Camera{Position: mgl64.Vec3{1.4, 0, 0}}

	if frameKeyFor(a, ModeVolumetric, QualityHigh) == frameKeyFor(b, ModeVolumetric, QualityHigh) {
		t.Error("distinct poses mapped to the same key")
	}
}

func TestFrameKeySeparatesModeAndQuality(t *testing.T) {
	cam := &Camera{Position: mgl64.Vec3{1, 2, 3}}

	base := frameKeyFor(cam, ModeVolumetric, QualityHigh)
	if frameKeyFor(cam, ModeMIP, QualityHigh) == base {
		t.Error("mode change kept the same key")
	}
	if frameKeyFor(cam, ModeVolumetric, QualityLow) == base {
		t.Error("quality change kept the same key")
	}
}
