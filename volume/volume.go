// Package volume assembles immutable 3D scalar fields from ordered stacks of
// 2D cross-sections and provides the supporting pieces around them: frame
// sources, intensity statistics, and a directory watcher for live reload.
package volume

// ScalarVolume is an immutable 3D scalar field. Voxels are stored flat in
// z-major order: Data[z*Width*Height + y*Width + x].
//
// A volume is built once per load and replaced wholesale when the source
// frame list changes; it is never mutated in place. Render backends may keep
// a derived device-resident copy whose lifetime is tied to SourceKey.
type ScalarVolume struct {
	Width  int
	Height int
	Depth  int

	// Spacing is the physical size of one voxel along each axis.
	Spacing [3]float64

	// Data holds Width*Height*Depth intensity samples.
	Data []float32

	// ScalarMin and ScalarMax bound the intensities in Data.
	ScalarMin float32
	ScalarMax float32

	// SourceKey is a digest of the ordered frame keys the volume was
	// assembled from. Equal keys mean an identical source list.
	SourceKey string
}

// Ready reports whether the volume has positive dimensions and a matching
// data buffer. Rendering is never attempted on a volume that is not ready.
func (v *ScalarVolume) Ready() bool {
	if v == nil {
		return false
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return false
	}
	return len(v.Data) == v.Width*v.Height*v.Depth
}

// At returns the voxel at (x, y, z) with coordinates clamped to the volume
// bounds, so samples just outside the field read the nearest edge voxel.
func (v *ScalarVolume) At(x, y, z int) float32 {
	if x < 0 {
		x = 0
	} else if x >= v.Width {
		x = v.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= v.Height {
		y = v.Height - 1
	}
	if z < 0 {
		z = 0
	} else if z >= v.Depth {
		z = v.Depth - 1
	}
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Normalized maps a raw scalar into [0,1] using the volume's scalar range.
func (v *ScalarVolume) Normalized(s float32) float64 {
	span := float64(v.ScalarMax) - float64(v.ScalarMin)
	if span <= 0 {
		return 0
	}
	n := (float64(s) - float64(v.ScalarMin)) / span
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// PhysicalExtent returns the volume size along each axis in spacing units.
func (v *ScalarVolume) PhysicalExtent() [3]float64 {
	return [3]float64{
		float64(v.Width) * v.Spacing[0],
		float64(v.Height) * v.Spacing[1],
		float64(v.Depth) * v.Spacing[2],
	}
}

// Bytes returns the in-memory footprint of the voxel buffer.
func (v *ScalarVolume) Bytes() int {
	return len(v.Data) * 4
}
