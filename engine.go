package volcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxview/volcast/cache"
	"github.com/voxview/volcast/volume"
)

// ErrClosed is returned by Engine methods called after Close.
var ErrClosed = errors.New("volcast: engine closed")

const (
	autoRotateInterval = 33 * time.Millisecond
	autoRotateStep     = 1.5 // horizontal pixels per tick

	slowRenderThreshold = 500 * time.Millisecond
	memoryWarnBytes     = 1 << 30
)

// Engine ties the renderer stack together: volume assembly, camera,
// transfer function, quality scheduling, the frame cache, the background
// render worker, and backend selection.
//
// All mutable state lives behind one mutex. Renders themselves run outside
// the lock, on the worker goroutine or on the GPU, so pointer events stay
// responsive while a frame is in flight. Completed frames are delivered
// through the OnFrame callback and also retained for Frame().
type Engine struct {
	mu     sync.Mutex
	closed bool

	assembler  *volume.Assembler
	lastVolume *volume.ScalarVolume

	camera       Camera
	transfer     TransferFunction
	presetName   string
	opacityScale float64
	settings     RenderSettings
	quality      Quality

	dragging     bool
	interacting  bool
	lastX, lastY float64
	lastW, lastH int

	frameCache *cache.FIFO[FrameKey, *Frame]

	software *softwareBackend
	selector *backendSelector

	// syncedBackend/syncedKey track which backend holds the current volume,
	// so a backend switch or a new volume forces a reload before rendering.
	syncedBackend Backend
	syncedKey     string
	tfDirty       bool

	worker         *renderWorker
	workerFactory  workerFactory
	workerDisabled bool
	syncOnly       bool
	inFlight       bool
	seq            uint64
	appliedSeq     uint64

	rotating   bool
	rotateStop chan struct{}

	lastFrame      *Frame
	lastRenderTime time.Duration
	fps            float64
	warnedSlow     bool
	warnedMemory   bool

	onFrame   func(*Frame)
	onSample  SampleFunc
	onWarning WarningFunc
	onStage   StageFunc
}

// New creates an Engine. Without options it renders in software only; use
// WithHardwareBackend to register a GPU path behind a capability probe.
func New(opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	tf, _ := Preset(DefaultPreset)
	e := &Engine{
		assembler:     volume.NewAssembler(),
		camera:        *NewCamera(),
		transfer:      tf,
		presetName:    DefaultPreset,
		opacityScale:  1,
		settings:      DefaultSettings(),
		quality:       QualityHigh,
		frameCache:    cache.New[FrameKey, *Frame](renderCacheCapacity),
		software:      newSoftwareBackend(o.renderWorkers),
		workerFactory: o.workerFactory,
		syncOnly:      o.syncOnly,
	}
	if o.spacing != [3]float64{} {
		e.assembler.Spacing = o.spacing
	}
	e.selector = newBackendSelector(e.software, o.probe, o.factory, o.preload)
	return e
}

// LoadVolume assembles the frame sources into a scalar volume and makes it
// the engine's current volume. An unchanged source list is a no-op. An
// empty source list leaves the engine idle without error; any other
// assembly failure is returned and no partial volume is kept.
func (e *Engine) LoadVolume(ctx context.Context, sources []volume.FrameSource, progress volume.ProgressFunc) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	asm := e.assembler
	e.mu.Unlock()

	vol, err := asm.EnsureVolume(ctx, sources, progress)
	if err != nil {
		if errors.Is(err, volume.ErrNoFrames) {
			Logger().Debug("no frames to load, engine stays idle")
			return nil
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if vol != e.lastVolume {
		e.lastVolume = vol
		e.camera.ResetFor(vol.Width, vol.Height, vol.Depth, vol.Spacing)
		e.frameCache.Clear()
		e.syncedKey = "" // force the next render to push the volume down
	}
	return nil
}

// Volume returns the current scalar volume, or nil before a load.
func (e *Engine) Volume() *volume.ScalarVolume {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastVolume
}

// PointerDown starts an orbit drag at the given pixel position. Any active
// auto-rotation stops.
func (e *Engine) PointerDown(x, y float64) {
	e.StopAutoRotation()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.dragging = true
	e.interacting = true
	e.lastX, e.lastY = x, y
}

// PointerMove orbits the camera by the pixel delta since the previous
// pointer position. It reports whether the camera moved, so callers know
// to request a render.
func (e *Engine) PointerMove(x, y float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.dragging {
		return false
	}
	dx, dy := x-e.lastX, y-e.lastY
	e.lastX, e.lastY = x, y
	if dx == 0 && dy == 0 {
		return false
	}
	e.camera.Orbit(dx, dy)
	return true
}

// PointerUp ends the orbit drag and clears the frame cache so the next
// render is a fresh high-quality one.
func (e *Engine) PointerUp() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.dragging {
		return
	}
	e.dragging = false
	e.interacting = false
	e.frameCache.Clear()
}

// Dolly moves the camera along its view axis. Positive deltas move closer.
func (e *Engine) Dolly(delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.camera.Dolly(delta)
}

// ResetCamera reframes the camera for the current volume.
func (e *Engine) ResetCamera() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.lastVolume == nil {
		return
	}
	b := e.syncedBackend
	if b == nil {
		b = e.software
	}
	b.ResetCamera(&e.camera, e.lastVolume)
}

// Camera returns a copy of the current camera.
func (e *Engine) Camera() Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.camera
}

// SetMode switches the render mode and clears the frame cache.
func (e *Engine) SetMode(m RenderMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.settings.Mode == m {
		return
	}
	e.settings.Mode = m
	e.frameCache.Clear()
	e.tfDirty = true
}

// SetPreset replaces the transfer function with a named preset and clears
// the frame cache.
func (e *Engine) SetPreset(name string) error {
	tf, err := Preset(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.transfer = tf
	e.presetName = name
	e.frameCache.Clear()
	e.tfDirty = true
	return nil
}

// PresetName returns the name of the active transfer preset, or "" after
// SetTransferFunction installed a custom one.
func (e *Engine) PresetName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presetName
}

// SetTransferFunction installs a custom transfer function. Control points
// are cloned and clamped; the frame cache is cleared.
func (e *Engine) SetTransferFunction(tf TransferFunction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	c := tf.Clone()
	c.Clamp()
	e.transfer = c
	e.presetName = ""
	e.frameCache.Clear()
	e.tfDirty = true
}

// SetOpacityScale scales every opacity control point by the given factor
// at render time. The frame cache is cleared.
func (e *Engine) SetOpacityScale(scale float64) {
	if scale < 0 {
		scale = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.opacityScale == scale {
		return
	}
	e.opacityScale = scale
	e.frameCache.Clear()
	e.tfDirty = true
}

// OpacityScale returns the current global opacity multiplier.
func (e *Engine) OpacityScale() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opacityScale
}

// SetIsovalue sets the isosurface scalar value and clears the frame cache,
// because isosurface rendering derives its transfer function from it.
func (e *Engine) SetIsovalue(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.settings.Isovalue == v {
		return
	}
	e.settings.Isovalue = v
	e.frameCache.Clear()
	e.tfDirty = true
}

// SetBrightness sets the post-render brightness multiplier.
func (e *Engine) SetBrightness(b float64) {
	if b < 0 {
		b = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.settings.Brightness = b
}

// SetStepSize sets the ray sampling interval in voxel units.
func (e *Engine) SetStepSize(s float64) {
	if s <= 0 {
		s = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.settings.StepSize = s
}

// SetQuality selects the quality tier for subsequent renders. Cached
// frames from other tiers stay valid because the tier is part of the key.
func (e *Engine) SetQuality(q Quality) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.quality = q
	if e.syncedBackend != nil {
		e.syncedBackend.SetQuality(q)
	}
}

// Settings returns a copy of the current render settings.
func (e *Engine) Settings() RenderSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Quality returns the current quality tier.
func (e *Engine) Quality() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// Interacting reports whether an orbit drag is in progress.
func (e *Engine) Interacting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interacting
}

// OnFrame registers the callback that receives every completed frame.
func (e *Engine) OnFrame(fn func(*Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = fn
}

// OnPerformanceSample registers the callback for per-render samples.
func (e *Engine) OnPerformanceSample(fn SampleFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSample = fn
}

// OnPerformanceWarning registers the callback for performance warnings.
func (e *Engine) OnPerformanceWarning(fn WarningFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onWarning = fn
}

// OnLoadStage registers the callback for staged hardware volume uploads.
func (e *Engine) OnLoadStage(fn StageFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStage = fn
}

// Frame returns the most recently completed frame, or nil.
func (e *Engine) Frame() *Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFrame
}

// LastRenderTime returns how long the most recent render took. Cache hits
// do not update it.
func (e *Engine) LastRenderTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRenderTime
}

// CacheStats returns frame cache counters.
func (e *Engine) CacheStats() cache.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameCache.Stats()
}

// State returns the backend selector state.
func (e *Engine) State() BackendState {
	return e.selector.State()
}

// BackendName returns the name of the backend serving renders, without
// triggering detection.
func (e *Engine) BackendName() string {
	if e.selector.State() == StateHardwareActive {
		if hw := e.selector.Hardware(); hw != nil {
			return hw.Name()
		}
	}
	return e.software.Name()
}

// RequestRender renders the current volume at the given canvas size and
// delivers the frame through OnFrame.
//
// The call returns before the pixels exist when the background worker is
// serving the request. ErrBusy means another render is in flight and this
// request was dropped; ErrNotReady means no volume is loaded. Outside
// interaction a cached frame may be served instead of rendering.
func (e *Engine) RequestRender(width, height int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	vol := e.lastVolume
	if !vol.Ready() {
		e.mu.Unlock()
		return ErrNotReady
	}
	if e.inFlight {
		e.mu.Unlock()
		return ErrBusy
	}
	e.lastW, e.lastH = width, height

	plan := PlanRender(width, height, e.settings.StepSize, e.quality, e.interacting)
	key := frameKeyFor(&e.camera, e.settings.Mode, e.quality)

	if !e.interacting {
		if f, ok := e.frameCache.Get(key); ok {
			e.lastFrame = f
			cb := e.onFrame
			e.mu.Unlock()
			if cb != nil {
				cb(f)
			}
			return nil
		}
	}

	b := e.selector.Active()
	if hw := e.selector.Hardware(); hw != nil && b == hw {
		return e.renderHardwareLocked(hw, vol, key, plan)
	}
	return e.renderSoftwareLocked(vol, key, plan)
}

// renderSoftwareLocked dispatches a software render. The mutex is held on
// entry and released before returning.
func (e *Engine) renderSoftwareLocked(vol *volume.ScalarVolume, key FrameKey, plan RenderPlan) error {
	e.seq++
	job := renderJob{
		vol:      vol,
		camera:   e.camera,
		transfer: e.effectiveTransferLocked(),
		settings: e.settings,
		plan:     plan,
		key:      key,
		quality:  e.quality,
		seq:      e.seq,
	}

	if !e.syncOnly && !e.workerDisabled {
		if e.worker == nil {
			w, err := e.workerFactory(e.software.renderer)
			if err != nil {
				e.workerDisabled = true
				Logger().Warn("render worker unavailable, falling back to synchronous rendering", "error", err)
			} else {
				e.worker = w
				go e.consumeResults(w)
			}
		}
		if e.worker != nil {
			e.inFlight = true
			// The in-flight flag keeps the buffered jobs channel empty, so
			// this send cannot block while the mutex is held.
			e.worker.submit(job)
			e.mu.Unlock()
			return nil
		}
	}

	e.inFlight = true
	e.mu.Unlock()

	start := time.Now()
	frame, err := e.software.renderer.Render(job.vol, job.camera, job.transfer, job.settings, job.plan)
	e.applyResult(renderResult{
		frame:      frame,
		renderTime: time.Since(start),
		key:        key,
		quality:    job.quality,
		seq:        job.seq,
		err:        err,
	})
	return err
}

// renderHardwareLocked runs a synchronous GPU render. The mutex is held on
// entry and released before returning. Any hardware failure falls back to
// software for the rest of the session and re-dispatches the same request.
func (e *Engine) renderHardwareLocked(hw Backend, vol *volume.ScalarVolume, key FrameKey, plan RenderPlan) error {
	if err := e.syncBackendLocked(hw, vol); err != nil {
		e.selector.Fallback(err)
		e.syncedBackend = nil
		return e.renderSoftwareLocked(vol, key, plan)
	}

	e.seq++
	seq := e.seq
	cam := e.camera
	tf := e.effectiveTransferLocked()
	settings := e.settings
	q := e.quality
	e.inFlight = true
	e.mu.Unlock()

	start := time.Now()
	frame, err := hw.Render(cam, tf, settings, plan)
	if err != nil {
		e.selector.Fallback(err)
		e.mu.Lock()
		e.inFlight = false
		e.syncedBackend = nil
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		return e.renderSoftwareLocked(vol, key, plan)
	}
	e.applyResult(renderResult{
		frame:      frame,
		renderTime: time.Since(start),
		key:        key,
		quality:    q,
		seq:        seq,
		err:        nil,
	})
	return nil
}

// syncBackendLocked makes sure the backend holds the current volume and
// transfer function before it renders.
func (e *Engine) syncBackendLocked(b Backend, vol *volume.ScalarVolume) error {
	if b != e.syncedBackend || vol.SourceKey != e.syncedKey {
		if err := b.LoadVolume(context.Background(), vol, e.onStage); err != nil {
			return err
		}
		e.syncedBackend = b
		e.syncedKey = vol.SourceKey
		e.tfDirty = true
	}
	if e.tfDirty {
		b.SetTransferFunction(e.transfer, float64(vol.ScalarMin), float64(vol.ScalarMax))
		b.SetOpacity(e.opacityScale)
		e.tfDirty = false
	}
	return nil
}

// effectiveTransferLocked folds the opacity scale into the base transfer
// function for the software path.
func (e *Engine) effectiveTransferLocked() TransferFunction {
	tf := e.transfer.Clone()
	if e.opacityScale != 1 {
		tf.ScaleOpacity(e.opacityScale)
	}
	return tf
}

// consumeResults applies worker results in arrival order. It exits when
// the worker's result channel closes during teardown.
func (e *Engine) consumeResults(w *renderWorker) {
	for res := range w.results {
		e.applyResult(res)
	}
}

// applyResult finishes a render: clears the in-flight flag, records
// timing, stores cacheable frames, and fires callbacks. Results arriving
// after Close are dropped.
func (e *Engine) applyResult(res renderResult) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.inFlight = false
	e.appliedSeq = res.seq

	if res.err != nil {
		e.mu.Unlock()
		Logger().Error("render failed", "error", res.err)
		return
	}

	e.lastFrame = res.frame
	e.lastRenderTime = res.renderTime

	// Only authoritative frames are cached: full quality, settled camera.
	// Interaction state is read now, at apply time, not at request time.
	if res.quality == QualityHigh && !e.interacting {
		e.frameCache.Put(res.key, res.frame)
	}

	sample, warnings := e.perfLocked(res.renderTime)
	frameCB := e.onFrame
	sampleCB := e.onSample
	warnCB := e.onWarning
	e.mu.Unlock()

	if frameCB != nil {
		frameCB(res.frame)
	}
	if sampleCB != nil {
		sampleCB(sample)
	}
	if warnCB != nil {
		for _, w := range warnings {
			warnCB(w)
		}
	}
}

// perfLocked updates the smoothed frame rate and builds the sample for
// this render, plus any threshold warnings that newly fired.
func (e *Engine) perfLocked(renderTime time.Duration) (PerformanceSample, []PerformanceWarning) {
	instant := 0.0
	if renderTime > 0 {
		instant = 1 / renderTime.Seconds()
	}
	if e.fps == 0 {
		e.fps = instant
	} else {
		e.fps = e.fps*0.8 + instant*0.2
	}

	mem := uint64(0)
	if e.lastVolume != nil {
		mem += uint64(e.lastVolume.Bytes())
	}
	frameBytes := 0
	if e.lastFrame != nil {
		frameBytes = len(e.lastFrame.Pix())
	}
	mem += uint64(frameBytes) * uint64(1+e.frameCache.Len())

	sample := PerformanceSample{
		FPS:             e.fps,
		LastRenderTime:  renderTime,
		EstimatedMemory: mem,
	}

	var warnings []PerformanceWarning
	if renderTime > slowRenderThreshold {
		if !e.warnedSlow {
			e.warnedSlow = true
			warnings = append(warnings, PerformanceWarning{
				Kind:    WarnSlowRender,
				Message: "render took " + renderTime.Round(time.Millisecond).String() + ", consider a lower quality tier",
			})
		}
	} else {
		e.warnedSlow = false
	}
	if mem > memoryWarnBytes {
		if !e.warnedMemory {
			e.warnedMemory = true
			warnings = append(warnings, PerformanceWarning{
				Kind:    WarnMemoryPressure,
				Message: "estimated renderer memory exceeds 1 GiB",
			})
		}
	} else {
		e.warnedMemory = false
	}
	return sample, warnings
}

// StartAutoRotation begins a slow continuous orbit that re-renders at the
// last requested canvas size. It keeps running until StopAutoRotation,
// PointerDown, or Close.
func (e *Engine) StartAutoRotation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.rotating {
		return
	}
	e.rotating = true
	stop := make(chan struct{})
	e.rotateStop = stop
	if e.syncedBackend != nil {
		e.syncedBackend.StartAutoRotation()
	}
	go e.rotateLoop(stop)
}

// StopAutoRotation halts the auto-rotation loop.
func (e *Engine) StopAutoRotation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rotating {
		return
	}
	e.rotating = false
	close(e.rotateStop)
	e.rotateStop = nil
	if e.syncedBackend != nil {
		e.syncedBackend.StopAutoRotation()
	}
}

// AutoRotating reports whether the auto-rotation loop is active.
func (e *Engine) AutoRotating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotating
}

func (e *Engine) rotateLoop(stop chan struct{}) {
	ticker := time.NewTicker(autoRotateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		e.mu.Lock()
		if e.closed || !e.rotating {
			e.mu.Unlock()
			return
		}
		e.camera.Orbit(autoRotateStep, 0)
		w, h := e.lastW, e.lastH
		e.mu.Unlock()
		if w > 0 && h > 0 {
			// Dropped requests are expected while a render is in flight.
			_ = e.RequestRender(w, h)
		}
	}
}

// Close releases everything the engine owns: the rotation loop stops, the
// worker drains and exits, hardware device resources are disposed, and the
// frame cache empties. Close is idempotent. Results still in flight when
// Close is called are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop := e.rotateStop
	e.rotateStop = nil
	e.rotating = false
	w := e.worker
	e.worker = nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if w != nil {
		w.close()
	}
	e.selector.Dispose()
	e.software.Dispose()

	e.mu.Lock()
	e.frameCache.Clear()
	e.mu.Unlock()
	return nil
}
