package volcast

// Option configures an Engine during creation.
//
// Example:
//
//	// Software rendering only
//	eng := volcast.New()
//
//	// With a hardware backend behind a probe
//	eng := volcast.New(
//		volcast.WithHardwareBackend(hardware.Probe, func() (volcast.Backend, error) {
//			return hardware.New()
//		}),
//	)
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	probe         ProbeFunc
	factory       BackendFactory
	preload       bool
	syncOnly      bool
	renderWorkers int
	spacing       [3]float64
	workerFactory workerFactory
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		renderWorkers: 0, // SoftwareRenderer picks GOMAXPROCS
		workerFactory: newRenderWorker,
	}
}

// WithHardwareBackend registers a hardware probe and backend factory. The
// probe runs synchronously during backend detection; the factory is called
// only after the probe succeeds.
func WithHardwareBackend(probe ProbeFunc, factory BackendFactory) Option {
	return func(o *engineOptions) {
		o.probe = probe
		o.factory = factory
	}
}

// WithPreload constructs the hardware backend during detection instead of
// deferring construction to the first render that needs it.
func WithPreload() Option {
	return func(o *engineOptions) {
		o.preload = true
	}
}

// WithoutWorker disables the background render worker, so software renders
// run synchronously on the caller's goroutine. Intended for tests and
// batch tooling; interactive callers should keep the worker.
func WithoutWorker() Option {
	return func(o *engineOptions) {
		o.syncOnly = true
	}
}

// WithRenderWorkers sets how many goroutines the software ray caster
// spreads scanline bands across. Zero or negative selects GOMAXPROCS.
func WithRenderWorkers(n int) Option {
	return func(o *engineOptions) {
		o.renderWorkers = n
	}
}

// WithVoxelSpacing sets the physical spacing between voxels on each axis
// for volumes the engine assembles. The default is unit spacing.
func WithVoxelSpacing(spacing [3]float64) Option {
	return func(o *engineOptions) {
		o.spacing = spacing
	}
}

// withWorkerFactory replaces the render worker constructor. Test hook for
// the construction-failure fallback.
func withWorkerFactory(f workerFactory) Option {
	return func(o *engineOptions) {
		o.workerFactory = f
	}
}
