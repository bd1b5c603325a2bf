package volcast

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// DefaultFOV is the vertical field of view in degrees after a reset.
	DefaultFOV = 45.0

	// orbitRadiansPerPixel converts pointer deltas to orbit angles.
	orbitRadiansPerPixel = 0.005

	// elevationLimit keeps the orbit short of the poles so the up vector
	// never becomes parallel to the view direction.
	elevationLimit = math.Pi/2 - 0.05

	// framingDistanceFactor is the reset distance as a multiple of the
	// volume's largest physical extent.
	framingDistanceFactor = 2.0
)

// Camera is the single mutable view state for the engine. It is written only
// by the interaction controller (drag, reset) and the auto-rotation ticker.
type Camera struct {
	Position mgl64.Vec3
	Target   mgl64.Vec3
	Up       mgl64.Vec3
	FOV      float64
}

// NewCamera returns a camera looking at the origin from +Z.
func NewCamera() *Camera {
	return &Camera{
		Position: mgl64.Vec3{0, 0, 2},
		Target:   mgl64.Vec3{0, 0, 0},
		Up:       mgl64.Vec3{0, 1, 0},
		FOV:      DefaultFOV,
	}
}

// Orbit rotates the position about the target: azimuth from dx, elevation
// from dy, both in pixels. The distance to the target and the up convention
// are preserved; elevation is clamped short of the poles.
func (c *Camera) Orbit(dx, dy float64) {
	offset := c.Position.Sub(c.Target)
	radius := offset.Len()
	if radius == 0 {
		return
	}

	az := math.Atan2(offset.X(), offset.Z())
	el := math.Asin(clampRange(offset.Y()/radius, -1, 1))

	az += dx * orbitRadiansPerPixel
	el = clampRange(el+dy*orbitRadiansPerPixel, -elevationLimit, elevationLimit)

	offset = mgl64.Vec3{
		radius * math.Cos(el) * math.Sin(az),
		radius * math.Sin(el),
		radius * math.Cos(el) * math.Cos(az),
	}
	c.Position = c.Target.Add(offset)
}

// ResetFor recomputes the canonical framing for a volume of the given voxel
// dimensions and spacing: target at the volume center, position offset along
// +Z by a multiple of the largest physical extent, up restored to +Y.
func (c *Camera) ResetFor(width, height, depth int, spacing [3]float64) {
	ex := float64(width) * spacing[0]
	ey := float64(height) * spacing[1]
	ez := float64(depth) * spacing[2]
	maxExtent := math.Max(ex, math.Max(ey, ez))
	if maxExtent == 0 {
		maxExtent = 1
	}

	center := mgl64.Vec3{ex / 2, ey / 2, ez / 2}
	c.Target = center
	c.Position = center.Add(mgl64.Vec3{0, 0, framingDistanceFactor * maxExtent})
	c.Up = mgl64.Vec3{0, 1, 0}
	c.FOV = DefaultFOV
}

// Dolly moves the position along the view direction by delta (positive moves
// toward the target), keeping at least a small distance to the target.
func (c *Camera) Dolly(delta float64) {
	offset := c.Position.Sub(c.Target)
	radius := offset.Len()
	if radius == 0 {
		return
	}
	next := radius - delta
	if next < 1e-3 {
		next = 1e-3
	}
	c.Position = c.Target.Add(offset.Mul(next / radius))
}

// Distance returns the distance from the position to the target.
func (c *Camera) Distance() float64 {
	return c.Position.Sub(c.Target).Len()
}

// Azimuth returns the orbit azimuth in radians, measured in the XZ plane
// around the target.
func (c *Camera) Azimuth() float64 {
	offset := c.Position.Sub(c.Target)
	return math.Atan2(offset.X(), offset.Z())
}

// Elevation returns the orbit elevation in radians above the XZ plane.
func (c *Camera) Elevation() float64 {
	offset := c.Position.Sub(c.Target)
	radius := offset.Len()
	if radius == 0 {
		return 0
	}
	return math.Asin(clampRange(offset.Y()/radius, -1, 1))
}

// Quantized returns the position rounded to one decimal per axis. Render
// cache keys use this so tiny pointer jitter maps to a stable pose.
func (c *Camera) Quantized() [3]float64 {
	return [3]float64{
		roundTenth(c.Position.X()),
		roundTenth(c.Position.Y()),
		roundTenth(c.Position.Z()),
	}
}

// Basis returns the orthonormal view basis: forward toward the target, right,
// and the orthogonalized up. Degenerate configurations fall back to fixed
// axes so ray generation always has a valid frame.
func (c *Camera) Basis() (forward, right, up mgl64.Vec3) {
	forward = c.Target.Sub(c.Position)
	if forward.Len() < 1e-12 {
		forward = mgl64.Vec3{0, 0, -1}
	} else {
		forward = forward.Normalize()
	}

	right = forward.Cross(c.Up)
	if right.Len() < 1e-9 {
		right = forward.Cross(mgl64.Vec3{1, 0, 0})
		if right.Len() < 1e-9 {
			right = mgl64.Vec3{1, 0, 0}
		}
	}
	right = right.Normalize()
	up = right.Cross(forward)
	return forward, right, up
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
