package volcast

import "time"

// PerformanceSample is a snapshot of renderer throughput. The engine emits
// one after every applied frame; the hardware adapter additionally publishes
// periodic samples with device-resident memory figures.
type PerformanceSample struct {
	// FPS is the smoothed frames-per-second estimate.
	FPS float64

	// LastRenderTime is the wall time of the most recent completed render.
	LastRenderTime time.Duration

	// EstimatedMemory is the approximate number of bytes held in
	// device-resident resources (volume, tables, output targets).
	EstimatedMemory uint64
}

// WarningKind classifies a discrete performance warning event.
type WarningKind int

const (
	// WarnSlowRender fires when a render exceeds the frame-time budget.
	WarnSlowRender WarningKind = iota

	// WarnMemoryPressure fires when estimated device memory crosses the
	// configured threshold.
	WarnMemoryPressure
)

// String returns the warning kind name.
func (k WarningKind) String() string {
	switch k {
	case WarnSlowRender:
		return "slow-render"
	case WarnMemoryPressure:
		return "memory-pressure"
	default:
		return "unknown"
	}
}

// PerformanceWarning is a discrete event surfaced by the hardware backend,
// delivered through the callback registered on the engine.
type PerformanceWarning struct {
	Kind    WarningKind
	Message string
}

// SampleFunc receives periodic performance samples.
type SampleFunc func(PerformanceSample)

// WarningFunc receives discrete performance warnings.
type WarningFunc func(PerformanceWarning)
