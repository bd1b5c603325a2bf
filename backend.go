package volcast

import (
	"context"
	"sync/atomic"

	"github.com/voxview/volcast/volume"
)

// LoadStage identifies one pass of a staged volume load. Hardware backends
// upload progressively refined copies; the software backend is ready in a
// single pass and reports only StageHigh.
type LoadStage int

const (
	// StageLow is the coarsest upload, good enough for first pixels.
	StageLow LoadStage = iota

	// StageMedium is the intermediate refinement.
	StageMedium

	// StageHigh is the full-resolution upload.
	StageHigh
)

// String returns the stage name.
func (s LoadStage) String() string {
	switch s {
	case StageLow:
		return "low"
	case StageMedium:
		return "medium"
	case StageHigh:
		return "high"
	default:
		return "unknown"
	}
}

// StageFunc receives a notification as each load stage completes.
type StageFunc func(stage LoadStage)

// Backend is the common control surface over the two execution strategies.
// Exactly one backend is active per engine at any time; it is chosen once at
// startup and replaced only by the one-way fallback to software.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// LoadVolume makes vol the backend's active volume, replacing any
	// prior one. Hardware implementations upload a device-resident copy,
	// optionally in progressive stages reported through progress.
	LoadVolume(ctx context.Context, vol *volume.ScalarVolume, progress StageFunc) error

	// Render produces a frame of the loaded volume at the plan's
	// resolution and step.
	Render(cam Camera, tf TransferFunction, settings RenderSettings, plan RenderPlan) (*Frame, error)

	// SetTransferFunction pushes the active function down to the backend,
	// normalized against the volume scalar range.
	SetTransferFunction(tf TransferFunction, scalarMin, scalarMax float64)

	// SetOpacity applies a global opacity scale using the backend's own
	// control. The software path instead scales the engine's control
	// points, so the two need not be byte-identical.
	SetOpacity(scale float64)

	// ResetCamera restores the canonical framing for the loaded volume.
	ResetCamera(cam *Camera, vol *volume.ScalarVolume)

	// StartAutoRotation and StopAutoRotation toggle the backend's native
	// spin state. The engine's ticker drives the actual orbit steps.
	StartAutoRotation()
	StopAutoRotation()

	// SetQuality informs the backend of the active quality tier.
	SetQuality(q Quality)

	// Dispose releases the backend's resources. Idempotent.
	Dispose()
}

// softwareBackend adapts the CPU ray caster to the Backend interface. It
// holds no device state: the volume pointer is the only thing loaded, and
// all view parameters arrive with each Render call.
type softwareBackend struct {
	renderer *SoftwareRenderer
	vol      atomic.Pointer[volume.ScalarVolume]
}

func newSoftwareBackend(workers int) *softwareBackend {
	return &softwareBackend{renderer: NewSoftwareRenderer(workers)}
}

// Name implements Backend.
func (b *softwareBackend) Name() string { return "software" }

// LoadVolume implements Backend. The software path has no staged upload, so
// the volume is active immediately and only StageHigh is reported.
func (b *softwareBackend) LoadVolume(ctx context.Context, vol *volume.ScalarVolume, progress StageFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !vol.Ready() {
		return ErrNotReady
	}
	b.vol.Store(vol)
	if progress != nil {
		progress(StageHigh)
	}
	return nil
}

// Render implements Backend.
func (b *softwareBackend) Render(cam Camera, tf TransferFunction, settings RenderSettings, plan RenderPlan) (*Frame, error) {
	vol := b.vol.Load()
	if vol == nil {
		return nil, ErrNotReady
	}
	return b.renderer.Render(vol, cam, tf, settings, plan)
}

// SetTransferFunction implements Backend. The engine owns the software
// path's transfer function, so there is nothing to push down.
func (b *softwareBackend) SetTransferFunction(TransferFunction, float64, float64) {}

// SetOpacity implements Backend. Opacity scaling on the software path edits
// the engine's control points before they reach Render.
func (b *softwareBackend) SetOpacity(float64) {}

// ResetCamera implements Backend.
func (b *softwareBackend) ResetCamera(cam *Camera, vol *volume.ScalarVolume) {
	if vol == nil {
		vol = b.vol.Load()
	}
	if vol == nil {
		return
	}
	cam.ResetFor(vol.Width, vol.Height, vol.Depth, vol.Spacing)
}

// StartAutoRotation implements Backend. The engine ticker orbits the camera.
func (b *softwareBackend) StartAutoRotation() {}

// StopAutoRotation implements Backend.
func (b *softwareBackend) StopAutoRotation() {}

// SetQuality implements Backend. The plan passed to Render already carries
// the tier's resolution and step.
func (b *softwareBackend) SetQuality(Quality) {}

// Dispose implements Backend.
func (b *softwareBackend) Dispose() {
	b.renderer.Close()
}

var _ Backend = (*softwareBackend)(nil)
