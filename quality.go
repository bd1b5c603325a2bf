package volcast

import (
	"errors"
	"fmt"
)

// Quality is the user-selected quality tier. Together with the interaction
// flag it determines the output resolution and sampling step for a frame.
type Quality int

const (
	// QualityLow always renders at half resolution with a doubled step.
	QualityLow Quality = iota

	// QualityMedium renders at 0.75x resolution with the configured step.
	QualityMedium

	// QualityHigh renders at full resolution with the configured step.
	// Only high-quality frames rendered outside interaction are cached.
	QualityHigh
)

// String returns the quality tier name.
func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ErrUnknownQuality is returned by ParseQuality for unrecognized tier names.
var ErrUnknownQuality = errors.New("volcast: unknown quality tier")

// ParseQuality converts a tier name (as produced by String) back to a Quality.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownQuality, s)
	}
}

// RenderPlan is the scheduler's decision for one frame: the raster size the
// backend must produce and the sampling step it must use. Callers upscale the
// result to the physical canvas themselves when the plan is smaller.
type RenderPlan struct {
	Width    int
	Height   int
	StepSize float64
}

// PlanRender derives the output resolution and sampling step from the
// requested canvas size, the configured step, the quality tier, and whether
// the user is currently interacting.
//
// The policy is a fixed contract:
//   - interacting, or tier low: half width and height, double step
//   - tier medium: 0.75x width and height, unchanged step
//   - tier high outside interaction: full resolution, unchanged step
func PlanRender(width, height int, stepSize float64, q Quality, interacting bool) RenderPlan {
	switch {
	case interacting || q == QualityLow:
		return RenderPlan{
			Width:    atLeastOne(width / 2),
			Height:   atLeastOne(height / 2),
			StepSize: stepSize * 2,
		}
	case q == QualityMedium:
		return RenderPlan{
			Width:    atLeastOne(width * 3 / 4),
			Height:   atLeastOne(height * 3 / 4),
			StepSize: stepSize,
		}
	default:
		return RenderPlan{
			Width:    atLeastOne(width),
			Height:   atLeastOne(height),
			StepSize: stepSize,
		}
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
