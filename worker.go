package volcast

import (
	"errors"
	"time"

	"github.com/voxview/volcast/volume"
)

// ErrBusy is returned when a render request arrives while another is in
// flight. Requests are dropped, never queued: a later state change triggers
// the next render.
var ErrBusy = errors.New("volcast: render already in flight")

// renderJob is the message sent to the render worker. Camera, transfer
// function, and settings are copied in; the volume pointer is immutable by
// construction, so the worker shares no mutable state with the engine.
type renderJob struct {
	vol      *volume.ScalarVolume
	camera   Camera
	transfer TransferFunction
	settings RenderSettings
	plan     RenderPlan
	key      FrameKey
	quality  Quality
	seq      uint64
}

// renderResult is the worker's reply: a frame with its render time, or an
// error. Results are applied strictly in arrival order; there is no
// cancellation and no stale-frame filtering.
type renderResult struct {
	frame      *Frame
	renderTime time.Duration
	key        FrameKey
	quality    Quality
	seq        uint64
	err        error
}

// renderWorker runs software renders off the caller's goroutine. One worker
// exists per engine at most, created lazily on the first software render.
type renderWorker struct {
	renderer *SoftwareRenderer
	jobs     chan renderJob
	results  chan renderResult
	done     chan struct{}
}

// workerFactory builds the engine's render worker. Injected so the
// construction-failure fallback can be exercised without a real failure.
type workerFactory func(r *SoftwareRenderer) (*renderWorker, error)

// newRenderWorker is the default worker factory.
func newRenderWorker(r *SoftwareRenderer) (*renderWorker, error) {
	if r == nil {
		return nil, errors.New("volcast: render worker needs a renderer")
	}
	w := &renderWorker{
		renderer: r,
		jobs:     make(chan renderJob, 1),
		results:  make(chan renderResult, 1),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *renderWorker) loop() {
	defer close(w.done)
	defer close(w.results)
	for job := range w.jobs {
		start := time.Now()
		frame, err := w.renderer.Render(job.vol, job.camera, job.transfer, job.settings, job.plan)
		w.results <- renderResult{
			frame:      frame,
			renderTime: time.Since(start),
			key:        job.key,
			quality:    job.quality,
			seq:        job.seq,
			err:        err,
		}
	}
}

// submit hands a job to the worker. The engine's in-flight flag guarantees
// at most one outstanding job, so the buffered send does not block.
func (w *renderWorker) submit(job renderJob) {
	w.jobs <- job
}

// close shuts the worker down and waits for its goroutine to exit. The
// result channel is closed behind it, which ends the engine's consumer.
func (w *renderWorker) close() {
	close(w.jobs)
	<-w.done
}
