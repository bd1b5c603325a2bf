// Copyright 2026 The voxview Authors
// SPDX-License-Identifier: MIT

// Package hardware implements volcast's GPU rendering backend with
// gogpu/wgpu compute shaders over Vulkan.
//
// The adapter keeps the scalar volume and transfer LUT resident on the
// device and runs one compute dispatch per frame, reading the pixels back
// into a volcast.Frame. It can own a standalone device (New) or borrow one
// from a host application (NewShared), in which case device teardown is
// left to the host.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/voxview/volcast"
	"github.com/voxview/volcast/volume"
)

// ErrDisposed is returned by Adapter methods called after Dispose.
var ErrDisposed = errors.New("hardware: adapter disposed")

const (
	// stagedDepthMin is the slice count below which staged uploads are
	// skipped and the volume goes up in one piece.
	stagedDepthMin = 16

	// memoryPressureBytes is the resident-buffer size that triggers a
	// memory pressure warning.
	memoryPressureBytes = 256 << 20

	samplePeriod = 2 * time.Second
)

// loadStages lists the progressive upload resolutions, coarse to full.
var loadStages = []struct {
	stage  volcast.LoadStage
	stride int
}{
	{volcast.StageLow, 4},
	{volcast.StageMedium, 2},
	{volcast.StageHigh, 1},
}

// Adapter renders volumes on the GPU. It implements volcast.Backend.
//
// All methods are safe for concurrent use; a single mutex serializes
// device access. Progress and performance callbacks run on the calling
// goroutine and must not call back into the Adapter or the Engine.
type Adapter struct {
	mu sync.Mutex

	devh *deviceHandle
	pipe *pipeline

	baseTF               volcast.TransferFunction
	scalarMin, scalarMax float64
	opacity              float64
	lutMode              volcast.RenderMode
	lutIso               float64
	lutDirty             bool

	vol       *volume.ScalarVolume // full resolution, as loaded
	active    *volume.ScalarVolume // resident on the GPU (last stage)
	sourceKey string

	quality  volcast.Quality
	rotating bool

	lastRender time.Duration

	onSample   volcast.SampleFunc
	onWarning  volcast.WarningFunc
	sampleStop chan struct{}

	closed bool
}

var _ volcast.Backend = (*Adapter)(nil)

// New opens a standalone Vulkan device and builds the ray casting
// pipeline on it.
func New() (*Adapter, error) {
	devh, err := openDevice()
	if err != nil {
		return nil, err
	}
	pipe, err := newPipeline(devh.dev, devh.queue)
	if err != nil {
		devh.close()
		return nil, err
	}
	logger().Info("hardware adapter initialized", "device", devh.name)
	return &Adapter{devh: devh, pipe: pipe, opacity: 1, lutDirty: true}, nil
}

// NewShared builds an Adapter on a device borrowed from a host
// application's gpucontext provider. The provider must expose HAL handles;
// the adapter never destroys them.
func NewShared(provider gpucontext.DeviceProvider) (*Adapter, error) {
	a := &Adapter{opacity: 1, lutDirty: true}
	if err := a.SetDeviceProvider(provider); err != nil {
		return nil, err
	}
	return a, nil
}

// SetDeviceProvider switches the adapter to a shared GPU device. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue. Any resident volume must be loaded again
// afterwards.
func (a *Adapter) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return errors.New("hardware: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return errors.New("hardware: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return errors.New("hardware: provider HalQueue is not hal.Queue")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrDisposed
	}
	if a.pipe != nil {
		a.pipe.destroy()
		a.pipe = nil
	}
	if a.devh != nil {
		a.devh.close()
	}
	a.devh = sharedDevice(device, queue)
	pipe, err := newPipeline(device, queue)
	if err != nil {
		return fmt.Errorf("hardware: create pipeline with shared device: %w", err)
	}
	a.pipe = pipe
	a.active = nil
	a.sourceKey = ""
	a.lutDirty = true
	logger().Info("switched to shared GPU device")
	return nil
}

// SetLogger updates the package logger. Called when volcast.SetLogger
// propagates to an active hardware backend.
func (a *Adapter) SetLogger(l *slog.Logger) { setLogger(l) }

// Name implements volcast.Backend.
func (a *Adapter) Name() string { return "vulkan" }

// LoadVolume implements volcast.Backend. Large volumes go up in three
// stages of increasing slice density, each reported through progress, so a
// coarse render is possible before the full field is resident. Loading the
// same source again is a no-op.
func (a *Adapter) LoadVolume(ctx context.Context, vol *volume.ScalarVolume, progress volcast.StageFunc) error {
	a.mu.Lock()
	err := a.loadVolumeLocked(ctx, vol, progress)
	var warn *volcast.PerformanceWarning
	cb := a.onWarning
	if err == nil && a.pipe != nil && a.pipe.residentBytes() > memoryPressureBytes {
		warn = &volcast.PerformanceWarning{
			Kind:    volcast.WarnMemoryPressure,
			Message: fmt.Sprintf("GPU buffers hold %d MiB", a.pipe.residentBytes()>>20),
		}
	}
	a.mu.Unlock()

	if warn != nil && cb != nil {
		cb(*warn)
	}
	return err
}

func (a *Adapter) loadVolumeLocked(ctx context.Context, vol *volume.ScalarVolume, progress volcast.StageFunc) error {
	if a.closed {
		return ErrDisposed
	}
	if !vol.Ready() {
		return volcast.ErrNotReady
	}
	if vol.SourceKey == a.sourceKey && a.active != nil {
		return nil
	}

	if vol.Depth < stagedDepthMin {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.pipe.uploadVolume(vol.Data); err != nil {
			return err
		}
		a.active = vol
		if progress != nil {
			progress(volcast.StageHigh)
		}
	} else {
		for _, st := range loadStages {
			if err := ctx.Err(); err != nil {
				return err
			}
			stageVol := subsampleZ(vol, st.stride)
			if err := a.pipe.uploadVolume(stageVol.Data); err != nil {
				return err
			}
			a.active = stageVol
			if progress != nil {
				progress(st.stage)
			}
		}
	}

	a.vol = vol
	a.sourceKey = vol.SourceKey
	a.lutDirty = true
	if a.sampleStop == nil {
		stop := make(chan struct{})
		a.sampleStop = stop
		go a.sampleLoop(stop)
	}
	logger().Info("volume resident on GPU",
		"width", vol.Width, "height", vol.Height, "depth", vol.Depth,
		"bytes", vol.Bytes())
	return nil
}

// Render implements volcast.Backend. The transfer function argument is
// ignored; the adapter renders with the state pushed through
// SetTransferFunction and SetOpacity, which the engine keeps in sync.
func (a *Adapter) Render(cam volcast.Camera, _ volcast.TransferFunction, settings volcast.RenderSettings, plan volcast.RenderPlan) (*volcast.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrDisposed
	}
	if a.active == nil {
		return nil, volcast.ErrNotReady
	}
	if plan.Width <= 0 || plan.Height <= 0 {
		return nil, fmt.Errorf("hardware: invalid plan %dx%d", plan.Width, plan.Height)
	}
	if err := a.ensureLUTLocked(settings); err != nil {
		return nil, err
	}
	if err := a.pipe.ensureOutput(plan.Width, plan.Height); err != nil {
		return nil, err
	}
	params := a.paramsLocked(cam, settings, plan)

	start := time.Now()
	frame, err := a.pipe.dispatch(params, plan.Width, plan.Height)
	if err != nil {
		return nil, err
	}
	a.lastRender = time.Since(start)
	return frame, nil
}

// SetTransferFunction implements volcast.Backend. The scalar range is
// needed to place the isosurface band when that mode is active.
func (a *Adapter) SetTransferFunction(tf volcast.TransferFunction, scalarMin, scalarMax float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseTF = tf.Clone()
	a.scalarMin = scalarMin
	a.scalarMax = scalarMax
	a.lutDirty = true
}

// SetOpacity implements volcast.Backend.
func (a *Adapter) SetOpacity(scale float64) {
	if scale < 0 {
		scale = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opacity = scale
	a.lutDirty = true
}

// ResetCamera implements volcast.Backend.
func (a *Adapter) ResetCamera(cam *volcast.Camera, vol *volume.ScalarVolume) {
	a.mu.Lock()
	if vol == nil {
		vol = a.vol
	}
	a.mu.Unlock()
	if vol == nil {
		return
	}
	cam.ResetFor(vol.Width, vol.Height, vol.Depth, vol.Spacing)
}

// StartAutoRotation implements volcast.Backend. The engine's ticker owns
// the orbit; the adapter only records spin state.
func (a *Adapter) StartAutoRotation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotating = true
}

// StopAutoRotation implements volcast.Backend.
func (a *Adapter) StopAutoRotation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotating = false
}

// SetQuality implements volcast.Backend. The plan passed to Render already
// carries the tier's resolution and step; the tier is recorded for
// diagnostics.
func (a *Adapter) SetQuality(q volcast.Quality) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quality = q
}

// OnPerformanceSample registers a callback that receives a periodic sample
// while a volume is resident.
func (a *Adapter) OnPerformanceSample(fn volcast.SampleFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSample = fn
}

// OnPerformanceWarning registers a callback for discrete warnings such as
// memory pressure during volume upload.
func (a *Adapter) OnPerformanceWarning(fn volcast.WarningFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onWarning = fn
}

// Dispose implements volcast.Backend. It stops the sample loop, destroys
// pipelines and buffers, and closes the device unless it is shared.
// Dispose is idempotent.
func (a *Adapter) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.sampleStop != nil {
		close(a.sampleStop)
		a.sampleStop = nil
	}
	if a.pipe != nil {
		a.pipe.destroy()
		a.pipe = nil
	}
	if a.devh != nil {
		a.devh.close()
		a.devh = nil
	}
	a.vol = nil
	a.active = nil
	logger().Info("hardware adapter disposed")
}

// ensureLUTLocked rebakes and uploads the transfer LUT when the mode,
// isovalue, transfer function, or opacity scale changed since the last
// bake. MIP ignores the LUT entirely.
func (a *Adapter) ensureLUTLocked(settings volcast.RenderSettings) error {
	if settings.Mode == volcast.ModeMIP {
		return nil
	}
	if !a.lutDirty && a.lutMode == settings.Mode &&
		(settings.Mode != volcast.ModeIsosurface || a.lutIso == settings.Isovalue) {
		return nil
	}
	base := a.baseTF
	if len(base.Opacity) == 0 {
		base, _ = volcast.Preset(volcast.DefaultPreset)
	}
	tf := base.Clone()
	if a.opacity != 1 {
		tf.ScaleOpacity(a.opacity)
	}
	if settings.Mode == volcast.ModeIsosurface {
		tf = volcast.IsosurfaceTransfer(tf, settings.Isovalue, a.scalarMin, a.scalarMax)
	}
	if err := a.pipe.uploadLUT(tf.LUT(lutSize)); err != nil {
		return err
	}
	a.lutMode = settings.Mode
	a.lutIso = settings.Isovalue
	a.lutDirty = false
	return nil
}

func (a *Adapter) paramsLocked(cam volcast.Camera, settings volcast.RenderSettings, plan volcast.RenderPlan) shaderParams {
	vol := a.active
	forward, right, up := cam.Basis()
	tanHalf := math.Tan(cam.FOV * math.Pi / 360)
	aspect := float64(plan.Width) / float64(plan.Height)
	step := plan.StepSize
	if step <= 0 {
		step = 1
	}
	ext := vol.PhysicalExtent()

	span := float64(vol.ScalarMax - vol.ScalarMin)
	invSpan := 0.0
	if span > 0 {
		invSpan = 1 / span
	}
	var inv [3]float64
	for i, s := range vol.Spacing {
		if s > 0 {
			inv[i] = 1 / s
		} else {
			inv[i] = 1
		}
	}
	mode := uint32(1)
	if settings.Mode == volcast.ModeMIP {
		mode = 0
	}
	return shaderParams{
		Origin:     vec4f(cam.Position, tanHalf),
		Forward:    vec4f(forward, aspect),
		Right:      vec4f(right, step),
		Up:         vec4f(up, settings.Brightness),
		BoxMax:     [4]float32{float32(ext[0]), float32(ext[1]), float32(ext[2]), vol.ScalarMin},
		InvSpacing: [4]float32{float32(inv[0]), float32(inv[1]), float32(inv[2]), float32(invSpan)},
		Dims:       [4]uint32{uint32(vol.Width), uint32(vol.Height), uint32(vol.Depth), mode},
		Target:     [4]uint32{uint32(plan.Width), uint32(plan.Height), lutSize, 0},
	}
}

func (a *Adapter) sampleLoop(stop chan struct{}) {
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		cb := a.onSample
		fps := 0.0
		if a.lastRender > 0 {
			fps = 1 / a.lastRender.Seconds()
		}
		sample := volcast.PerformanceSample{
			FPS:            fps,
			LastRenderTime: a.lastRender,
		}
		if a.pipe != nil {
			sample.EstimatedMemory = a.pipe.residentBytes()
		}
		a.mu.Unlock()
		if cb != nil {
			cb(sample)
		}
	}
}

// subsampleZ keeps every stride-th slice of the stack, stretching the
// slice spacing so the physical extent stays put.
func subsampleZ(vol *volume.ScalarVolume, stride int) *volume.ScalarVolume {
	if stride <= 1 {
		return vol
	}
	depth := (vol.Depth + stride - 1) / stride
	plane := vol.Width * vol.Height
	data := make([]float32, depth*plane)
	for z := 0; z < depth; z++ {
		src := z * stride * plane
		copy(data[z*plane:(z+1)*plane], vol.Data[src:src+plane])
	}
	spacing := vol.Spacing
	spacing[2] = spacing[2] * float64(vol.Depth) / float64(depth)
	return &volume.ScalarVolume{
		Width:     vol.Width,
		Height:    vol.Height,
		Depth:     depth,
		Spacing:   spacing,
		Data:      data,
		ScalarMin: vol.ScalarMin,
		ScalarMax: vol.ScalarMax,
		SourceKey: vol.SourceKey,
	}
}

func vec4f(v mgl64.Vec3, w float64) [4]float32 {
	return [4]float32{float32(v.X()), float32(v.Y()), float32(v.Z()), float32(w)}
}
