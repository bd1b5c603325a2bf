package volcast

import (
	"errors"
	"fmt"
)

// RenderMode selects the projection algorithm used for a rendered frame.
//
// The mode is part of the render cache key: switching modes clears the
// cache so every mode change is followed by a fresh render.
type RenderMode int

const (
	// ModeMIP is maximum intensity projection. Each ray keeps the largest
	// scalar it samples and maps it through a grayscale ramp.
	ModeMIP RenderMode = iota

	// ModeVolumetric is front-to-back compositing through the active
	// transfer function, with early ray termination once opacity saturates.
	ModeVolumetric

	// ModeIsosurface renders a thin shell around the configured isovalue by
	// running the volumetric path with a derived transfer function whose
	// opacity is nonzero only near the isovalue.
	ModeIsosurface
)

// String returns the render mode name.
func (m RenderMode) String() string {
	switch m {
	case ModeMIP:
		return "mip"
	case ModeVolumetric:
		return "volumetric"
	case ModeIsosurface:
		return "isosurface"
	default:
		return "unknown"
	}
}

// ErrUnknownMode is returned by ParseMode for unrecognized mode names.
var ErrUnknownMode = errors.New("volcast: unknown render mode")

// ParseMode converts a mode name (as produced by String) back to a RenderMode.
func ParseMode(s string) (RenderMode, error) {
	switch s {
	case "mip":
		return ModeMIP, nil
	case "volumetric":
		return ModeVolumetric, nil
	case "isosurface":
		return ModeIsosurface, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// RenderSettings carries the per-frame rendering parameters.
//
// StepSize is the base ray sampling interval in voxel units; the quality
// scheduler may double it while the user interacts. Brightness is a uniform
// post-multiply on the output RGB channels. Contrast is carried for backends
// that expose a native contrast control; the software caster applies
// brightness only. Isovalue is in raw scalar units and is consulted only in
// ModeIsosurface.
type RenderSettings struct {
	Mode       RenderMode
	StepSize   float64
	Brightness float64
	Contrast   float64
	Isovalue   float64
}

// DefaultSettings returns the settings a fresh engine starts with:
// volumetric projection at unit step size with neutral brightness/contrast.
func DefaultSettings() RenderSettings {
	return RenderSettings{
		Mode:       ModeVolumetric,
		StepSize:   1.0,
		Brightness: 1.0,
		Contrast:   1.0,
		Isovalue:   500,
	}
}
