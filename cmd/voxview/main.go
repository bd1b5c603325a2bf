// Command voxview displays an interactive volume rendering of a stack of
// grayscale slice images. Drag to orbit, scroll to dolly; see the on-screen
// help line for the full key map.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/voxview/volcast"
	"github.com/voxview/volcast/analysis"
	"github.com/voxview/volcast/config"
	"github.com/voxview/volcast/hardware"
	"github.com/voxview/volcast/volume"
)

const (
	dollyPerWheelTick = 0.2
	brightnessStep    = 0.1
	opacityStep       = 0.1
	isovalueStep      = 50
	analysisTimeout   = 30 * time.Second
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		framesDir  = flag.String("frames", "", "directory of slice images (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("voxview: %v", err)
	}
	if *framesDir != "" {
		cfg.Frames.Dir = *framesDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	volcast.SetLogger(logger)

	opts := []volcast.Option{
		volcast.WithRenderWorkers(cfg.Render.Workers),
	}
	if cfg.Frames.Spacing != [3]float64{} {
		opts = append(opts, volcast.WithVoxelSpacing(cfg.Frames.Spacing))
	}
	if !cfg.Hardware.Disabled {
		opts = append(opts, volcast.WithHardwareBackend(hardware.Probe, newHardwareBackend(logger)))
		if cfg.Hardware.Preload {
			opts = append(opts, volcast.WithPreload())
		}
	}

	eng := volcast.New(opts...)
	defer eng.Close()
	applyRenderConfig(eng, cfg)

	eng.OnLoadStage(func(s volcast.LoadStage) {
		logger.Info("volume upload stage ready", "stage", s)
	})
	eng.OnPerformanceWarning(func(w volcast.PerformanceWarning) {
		logger.Warn("performance", "kind", w.Kind, "detail", w.Message)
	})

	v := newViewer(eng, cfg, logger)
	eng.OnFrame(v.presentFrame)
	eng.OnPerformanceSample(v.recordSample)

	if cfg.Analysis.Enabled {
		v.analyze = analysis.New(cfg.Analysis.BaseURL)
		go v.pingSidecar()
	}

	if cfg.Frames.Watch && cfg.Frames.Dir != "" {
		w, err := volume.NewWatcher(cfg.Frames.Dir)
		if err != nil {
			logger.Warn("frame watcher unavailable", "error", err)
		} else {
			v.watcher = w
			defer w.Close()
		}
	}

	go v.loadFrames()

	ebiten.SetWindowTitle(cfg.Window.Title)
	ebiten.SetWindowSize(cfg.Window.Width, cfg.Window.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)
	if err := ebiten.RunGame(v); err != nil {
		log.Fatalf("voxview: %v", err)
	}
}

// newHardwareBackend returns a factory that opens the GPU adapter and routes
// its periodic device-side samples to the logger.
func newHardwareBackend(logger *slog.Logger) volcast.BackendFactory {
	return func() (volcast.Backend, error) {
		a, err := hardware.New()
		if err != nil {
			return nil, err
		}
		a.SetLogger(logger)
		a.OnPerformanceSample(func(s volcast.PerformanceSample) {
			logger.Debug("gpu sample",
				"fps", fmt.Sprintf("%.1f", s.FPS),
				"render", s.LastRenderTime,
				"resident_bytes", s.EstimatedMemory)
		})
		a.OnPerformanceWarning(func(w volcast.PerformanceWarning) {
			logger.Warn("gpu performance", "kind", w.Kind, "detail", w.Message)
		})
		return a, nil
	}
}

func applyRenderConfig(eng *volcast.Engine, cfg config.Config) {
	mode, _ := volcast.ParseMode(cfg.Render.Mode)
	eng.SetMode(mode)
	quality, _ := volcast.ParseQuality(cfg.Render.Quality)
	eng.SetQuality(quality)
	if err := eng.SetPreset(cfg.Render.Preset); err != nil {
		log.Fatalf("voxview: %v", err)
	}
	eng.SetStepSize(cfg.Render.StepSize)
	eng.SetBrightness(cfg.Render.Brightness)
	eng.SetIsovalue(cfg.Render.Isovalue)
	eng.SetOpacityScale(cfg.Render.OpacityScale)
}

// viewer is the ebiten front end: it forwards pointer and key input to the
// engine and presents the most recent rendered frame, upscaled to the window
// when the quality scheduler rendered below full resolution.
type viewer struct {
	eng *volcast.Engine
	cfg config.Config
	log *slog.Logger

	watcher *volume.Watcher
	analyze *analysis.Client

	latest      atomic.Pointer[volcast.Frame]
	dirty       atomic.Bool
	needsRender atomic.Bool
	status      atomic.Pointer[string]

	perfMu sync.Mutex
	perf   volcast.PerformanceSample

	tex     *ebiten.Image
	upscale *volcast.Frame
	width   int
	height  int

	printer *message.Printer
}

func newViewer(eng *volcast.Engine, cfg config.Config, logger *slog.Logger) *viewer {
	return &viewer{
		eng:     eng,
		cfg:     cfg,
		log:     logger,
		printer: message.NewPrinter(language.English),
	}
}

// presentFrame receives every applied frame from the engine. It runs on the
// engine's render goroutine, so it only stores the pointer for Draw.
func (v *viewer) presentFrame(f *volcast.Frame) {
	v.latest.Store(f)
	v.dirty.Store(true)
}

func (v *viewer) recordSample(s volcast.PerformanceSample) {
	v.perfMu.Lock()
	v.perf = s
	v.perfMu.Unlock()
}

func (v *viewer) Update() error {
	if v.watcher != nil {
		select {
		case <-v.watcher.Reload():
			v.log.Info("slice directory changed, reloading")
			go v.loadFrames()
		default:
		}
	}
	if v.needsRender.Swap(false) {
		v.requestRender()
	}

	v.handleMouse()
	return v.handleKeys()
}

func (v *viewer) handleMouse() {
	x, y := ebiten.CursorPosition()
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		v.eng.PointerDown(float64(x), float64(y))
	}
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if v.eng.PointerMove(float64(x), float64(y)) {
			v.requestRender()
		}
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		v.eng.PointerUp()
		v.requestRender()
	}
	if _, dy := ebiten.Wheel(); dy != 0 {
		v.eng.Dolly(dy * dollyPerWheelTick)
		v.requestRender()
	}
}

func (v *viewer) handleKeys() error {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		return ebiten.Termination
	case inpututil.IsKeyJustPressed(ebiten.KeyM):
		v.cycleMode()
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		v.cyclePreset()
	case inpututil.IsKeyJustPressed(ebiten.KeyQ):
		v.cycleQuality()
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		v.eng.ResetCamera()
		v.requestRender()
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		v.toggleRotation()
	case inpututil.IsKeyJustPressed(ebiten.KeyA):
		v.classifyFrame()
	case inpututil.IsKeyJustPressed(ebiten.KeyD):
		v.detectRegions()
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		v.adjustBrightness(brightnessStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		v.adjustBrightness(-brightnessStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight):
		v.adjustOpacity(opacityStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft):
		v.adjustOpacity(-opacityStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyPageUp):
		v.adjustIsovalue(isovalueStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyPageDown):
		v.adjustIsovalue(-isovalueStep)
	}
	return nil
}

func (v *viewer) cycleMode() {
	modes := []volcast.RenderMode{volcast.ModeMIP, volcast.ModeVolumetric, volcast.ModeIsosurface}
	cur := v.eng.Settings().Mode
	for i, m := range modes {
		if m == cur {
			v.eng.SetMode(modes[(i+1)%len(modes)])
			break
		}
	}
	v.requestRender()
}

func (v *viewer) cyclePreset() {
	names := volcast.PresetNames()
	if len(names) == 0 {
		return
	}
	next := names[0]
	cur := v.eng.PresetName()
	for i, n := range names {
		if n == cur {
			next = names[(i+1)%len(names)]
			break
		}
	}
	if err := v.eng.SetPreset(next); err != nil {
		v.log.Warn("preset switch failed", "preset", next, "error", err)
		return
	}
	v.requestRender()
}

func (v *viewer) cycleQuality() {
	tiers := []volcast.Quality{volcast.QualityLow, volcast.QualityMedium, volcast.QualityHigh}
	cur := v.eng.Quality()
	for i, q := range tiers {
		if q == cur {
			v.eng.SetQuality(tiers[(i+1)%len(tiers)])
			break
		}
	}
	v.requestRender()
}

func (v *viewer) toggleRotation() {
	if v.eng.AutoRotating() {
		v.eng.StopAutoRotation()
	} else {
		v.eng.StartAutoRotation()
	}
}

func (v *viewer) adjustBrightness(d float64) {
	v.eng.SetBrightness(v.eng.Settings().Brightness + d)
	v.requestRender()
}

func (v *viewer) adjustOpacity(d float64) {
	v.eng.SetOpacityScale(v.eng.OpacityScale() + d)
	v.requestRender()
}

func (v *viewer) adjustIsovalue(d float64) {
	v.eng.SetIsovalue(v.eng.Settings().Isovalue + d)
	v.requestRender()
}

func (v *viewer) requestRender() {
	if v.width <= 0 || v.height <= 0 {
		return
	}
	err := v.eng.RequestRender(v.width, v.height)
	if err != nil && !errors.Is(err, volcast.ErrBusy) && !errors.Is(err, volcast.ErrNotReady) {
		v.log.Warn("render request failed", "error", err)
	}
}

// loadFrames lists the slice directory and assembles it into the engine's
// volume. Runs on its own goroutine; rendering is requested through the
// needsRender flag so the call happens on the game loop.
func (v *viewer) loadFrames() {
	dir := v.cfg.Frames.Dir
	if dir == "" {
		v.setStatus("no slice directory configured, pass -frames or set frames.dir")
		return
	}
	sources, err := volume.DirFrames(dir)
	if err != nil {
		v.log.Error("list slice directory", "dir", dir, "error", err)
		v.setStatus("failed to read " + dir)
		return
	}

	start := time.Now()
	err = v.eng.LoadVolume(context.Background(), sources, func(loaded, total int) {
		if loaded == total || loaded%32 == 0 {
			v.log.Debug("decoding slices", "loaded", loaded, "total", total)
		}
	})
	if err != nil {
		v.log.Error("volume load failed", "error", err)
		v.setStatus("volume load failed: " + err.Error())
		return
	}
	vol := v.eng.Volume()
	if vol == nil {
		v.setStatus("slice directory is empty")
		return
	}

	sum := volume.Summarize(vol)
	v.log.Info("volume loaded",
		"dims", fmt.Sprintf("%dx%dx%d", vol.Width, vol.Height, vol.Depth),
		"voxels", sum.Voxels,
		"mean", fmt.Sprintf("%.1f", sum.Mean),
		"p01", fmt.Sprintf("%.1f", sum.P01),
		"p99", fmt.Sprintf("%.1f", sum.P99),
		"elapsed", time.Since(start))
	v.setStatus(v.printer.Sprintf("loaded %d slices, %d voxels", len(sources), sum.Voxels))
	v.needsRender.Store(true)
}

func (v *viewer) pingSidecar() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := v.analyze.Health(ctx)
	if err != nil {
		v.log.Warn("analysis sidecar unreachable", "error", err)
		return
	}
	v.log.Info("analysis sidecar ready",
		"service", h.Service, "version", h.Version, "model_loaded", h.ModelLoaded)
}

// classifyFrame sends the current frame to the analysis sidecar and surfaces
// the top labels in the status line.
func (v *viewer) classifyFrame() {
	if v.analyze == nil {
		v.setStatus("analysis disabled, set analysis.enabled in the config")
		return
	}
	f := v.eng.Frame()
	if f == nil {
		return
	}
	v.setStatus("classifying...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		results, model, err := v.analyze.Classify(ctx, f)
		if err != nil {
			v.setStatus("classify failed: " + err.Error())
			return
		}
		s := "classify (" + model + "):"
		for i, r := range results {
			if i == 3 {
				break
			}
			s += fmt.Sprintf(" %s %.0f%% (%s)", r.Label, r.Score*100, r.Confidence)
		}
		v.setStatus(s)
	}()
}

// detectRegions runs grid detection on the current frame.
func (v *viewer) detectRegions() {
	if v.analyze == nil {
		v.setStatus("analysis disabled, set analysis.enabled in the config")
		return
	}
	f := v.eng.Frame()
	if f == nil {
		return
	}
	v.setStatus("detecting...")
	grid := v.cfg.Analysis.GridSize
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		res, err := v.analyze.Detect(ctx, f, grid)
		if err != nil {
			v.setStatus("detect failed: " + err.Error())
			return
		}
		if len(res.Detections) == 0 {
			v.setStatus(fmt.Sprintf("detect: no findings across %d regions", res.Metadata.RegionsProcessed))
			return
		}
		s := "detect:"
		for i, d := range res.Detections {
			if i == 3 {
				s += fmt.Sprintf(" +%d more", len(res.Detections)-i)
				break
			}
			s += fmt.Sprintf(" %s@%s %.0f%%", d.Label, d.Location, d.Confidence*100)
		}
		v.setStatus(s)
	}()
}

func (v *viewer) setStatus(s string) {
	v.status.Store(&s)
}

func (v *viewer) Draw(screen *ebiten.Image) {
	f := v.latest.Load()
	if f == nil {
		v.drawHUD(screen)
		return
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	if v.dirty.Swap(false) || v.tex == nil || v.tex.Bounds().Dx() != sw || v.tex.Bounds().Dy() != sh {
		src := f
		if f.Width() != sw || f.Height() != sh {
			if v.upscale == nil || v.upscale.Width() != sw || v.upscale.Height() != sh {
				v.upscale = volcast.NewFrame(sw, sh)
			}
			f.UpscaleTo(v.upscale)
			src = v.upscale
		}
		if v.tex == nil || v.tex.Bounds().Dx() != sw || v.tex.Bounds().Dy() != sh {
			if v.tex != nil {
				v.tex.Deallocate()
			}
			v.tex = ebiten.NewImage(sw, sh)
		}
		v.tex.WritePixels(src.Pix())
	}
	screen.DrawImage(v.tex, nil)
	v.drawHUD(screen)
}

func (v *viewer) drawHUD(screen *ebiten.Image) {
	s := v.eng.Settings()
	stats := v.eng.CacheStats()
	v.perfMu.Lock()
	perf := v.perf
	v.perfMu.Unlock()

	preset := v.eng.PresetName()
	if preset == "" {
		preset = "custom"
	}
	rotating := ""
	if v.eng.AutoRotating() {
		rotating = "  rotating"
	}
	msg := v.printer.Sprintf(
		"%s | %s | quality %s | backend %s%s\nbrightness %.1f  opacity %.1f  iso %.0f  step %.2f\n%.1f fps  render %v  cache %d/%d hits %d misses %d",
		s.Mode, preset, v.eng.Quality(), v.eng.BackendName(), rotating,
		s.Brightness, v.eng.OpacityScale(), s.Isovalue, s.StepSize,
		perf.FPS, v.eng.LastRenderTime().Round(time.Millisecond),
		stats.Len, stats.Capacity, stats.Hits, stats.Misses)
	if st := v.status.Load(); st != nil && *st != "" {
		msg += "\n" + *st
	}
	msg += "\ndrag orbit  wheel dolly  [M]ode [P]reset [Q]uality [R]eset [space] rotate [A/D] analyze  arrows/pgup set"
	ebitenutil.DebugPrint(screen, msg)
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != v.width || outsideHeight != v.height {
		v.width, v.height = outsideWidth, outsideHeight
		v.dirty.Store(true)
		v.needsRender.Store(true)
	}
	return outsideWidth, outsideHeight
}
