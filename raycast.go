package volcast

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/voxview/volcast/internal/parallel"
	"github.com/voxview/volcast/volume"
)

// ErrNotReady is returned when a render is attempted before a volume with
// positive dimensions has been loaded.
var ErrNotReady = errors.New("volcast: volume not ready")

// opacitySaturated is the accumulated-opacity threshold for early ray
// termination. Contributions behind it are weighted by less than 1%, below
// one quantization step of the 8-bit output.
const opacitySaturated = 0.99

// bandRows is the number of scanlines per pool task.
const bandRows = 8

// SoftwareRenderer is the CPU ray caster. It produces frames by sampling the
// scalar field along one ray per output pixel, with scanline bands spread
// across a worker pool.
type SoftwareRenderer struct {
	pool *parallel.Pool
}

// NewSoftwareRenderer creates a renderer with the given pool size.
// workers <= 0 uses GOMAXPROCS.
func NewSoftwareRenderer(workers int) *SoftwareRenderer {
	return &SoftwareRenderer{pool: parallel.NewPool(workers)}
}

// Close releases the worker pool.
func (r *SoftwareRenderer) Close() {
	r.pool.Close()
}

// Render produces a frame at the plan's resolution and sampling step.
//
// Rays are cast from the camera through each pixel into the volume's local
// space and sampled from the near to the far bound. ModeIsosurface runs the
// volumetric path with a derived transfer function; the output is identical
// in structure. A panic in any scanline band is recovered and returned as an
// error so a single bad frame never takes down the caller.
func (r *SoftwareRenderer) Render(vol *volume.ScalarVolume, cam Camera, tf TransferFunction, settings RenderSettings, plan RenderPlan) (*Frame, error) {
	if !vol.Ready() {
		return nil, ErrNotReady
	}
	if plan.Width <= 0 || plan.Height <= 0 {
		return nil, fmt.Errorf("volcast: invalid plan size %dx%d", plan.Width, plan.Height)
	}

	active := tf
	if settings.Mode == ModeIsosurface {
		active = IsosurfaceTransfer(tf, settings.Isovalue, float64(vol.ScalarMin), float64(vol.ScalarMax))
	}

	forward, right, up := cam.Basis()
	step := plan.StepSize
	if step <= 0 {
		step = 1
	}

	rc := &rayContext{
		vol:        vol,
		tf:         active,
		mode:       settings.Mode,
		step:       step,
		brightness: settings.Brightness,
		origin:     cam.Position,
		forward:    forward,
		right:      right,
		up:         up,
		tanHalf:    math.Tan(cam.FOV * math.Pi / 360),
		aspect:     float64(plan.Width) / float64(plan.Height),
		width:      plan.Width,
		height:     plan.Height,
		boxMax:     mgl64.Vec3(vol.PhysicalExtent()),
		invSpacing: [3]float64{1 / vol.Spacing[0], 1 / vol.Spacing[1], 1 / vol.Spacing[2]},
	}

	frame := NewFrame(plan.Width, plan.Height)

	var (
		panicOnce sync.Once
		panicErr  error
	)
	tasks := make([]func(), 0, (plan.Height+bandRows-1)/bandRows)
	for y := 0; y < plan.Height; y += bandRows {
		y0, y1 := y, min(y+bandRows, plan.Height)
		tasks = append(tasks, func() {
			defer func() {
				if rec := recover(); rec != nil {
					panicOnce.Do(func() {
						panicErr = fmt.Errorf("volcast: render rows %d-%d: %v", y0, y1, rec)
					})
				}
			}()
			rc.renderRows(frame, y0, y1)
		})
	}
	r.pool.Do(tasks)

	if panicErr != nil {
		return nil, panicErr
	}
	return frame, nil
}

// rayContext is the per-frame immutable state shared by all scanline tasks.
type rayContext struct {
	vol        *volume.ScalarVolume
	tf         TransferFunction
	mode       RenderMode
	step       float64
	brightness float64

	origin             mgl64.Vec3
	forward, right, up mgl64.Vec3
	tanHalf            float64
	aspect             float64
	width, height      int
	boxMax             mgl64.Vec3
	invSpacing         [3]float64
}

func (rc *rayContext) renderRows(frame *Frame, y0, y1 int) {
	for y := y0; y < y1; y++ {
		v := (1 - 2*(float64(y)+0.5)/float64(rc.height)) * rc.tanHalf
		for x := 0; x < rc.width; x++ {
			u := (2*(float64(x)+0.5)/float64(rc.width) - 1) * rc.aspect * rc.tanHalf
			dir := rc.forward.Add(rc.right.Mul(u)).Add(rc.up.Mul(v)).Normalize()
			rc.castRay(frame, x, y, dir)
		}
	}
}

func (rc *rayContext) castRay(frame *Frame, x, y int, dir mgl64.Vec3) {
	tNear, tFar, hit := rayBox(rc.origin, dir, rc.boxMax)
	if !hit {
		if rc.mode == ModeMIP {
			frame.SetRGBA(x, y, 0, 0, 0, 255)
		}
		return
	}
	if tNear < 0 {
		tNear = 0
	}

	if rc.mode == ModeMIP {
		rc.castMIP(frame, x, y, dir, tNear, tFar)
		return
	}
	rc.castComposite(frame, x, y, dir, tNear, tFar)
}

// castMIP keeps the maximum scalar along the ray and maps it through a
// grayscale ramp.
func (rc *rayContext) castMIP(frame *Frame, x, y int, dir mgl64.Vec3, tNear, tFar float64) {
	maxS := rc.vol.ScalarMin
	for t := tNear; t <= tFar; t += rc.step {
		if s := rc.sample(rc.origin.Add(dir.Mul(t))); s > maxS {
			maxS = s
		}
	}
	g := unitToByte(rc.vol.Normalized(maxS) * rc.brightness)
	frame.SetRGBA(x, y, g, g, g, 255)
}

// castComposite accumulates color and opacity front to back, terminating
// early once the ray is effectively opaque.
func (rc *rayContext) castComposite(frame *Frame, x, y int, dir mgl64.Vec3, tNear, tFar float64) {
	var cr, cg, cb, accA float64
	for t := tNear; t <= tFar; t += rc.step {
		s := rc.sample(rc.origin.Add(dir.Mul(t)))
		r, g, b, a := rc.tf.Sample(rc.vol.Normalized(s))
		if a <= 0 {
			continue
		}
		w := (1 - accA) * a
		cr += w * r
		cg += w * g
		cb += w * b
		accA += w
		if accA >= opacitySaturated {
			break
		}
	}
	if accA <= 0 {
		return
	}
	frame.SetRGBA(x, y,
		unitToByte(cr*rc.brightness),
		unitToByte(cg*rc.brightness),
		unitToByte(cb*rc.brightness),
		unitToByte(accA))
}

// sample reads the nearest voxel at a physical-space position.
func (rc *rayContext) sample(p mgl64.Vec3) float32 {
	return rc.vol.At(
		int(p.X()*rc.invSpacing[0]),
		int(p.Y()*rc.invSpacing[1]),
		int(p.Z()*rc.invSpacing[2]),
	)
}

// rayBox intersects a ray with the volume's axis-aligned bounding box
// [0, boxMax] using the slab method. Returns the entry and exit distances.
func rayBox(origin, dir, boxMax mgl64.Vec3) (tNear, tFar float64, hit bool) {
	tNear = math.Inf(-1)
	tFar = math.Inf(1)

	for i := 0; i < 3; i++ {
		o, d := origin[i], dir[i]
		if math.Abs(d) < 1e-12 {
			// Ray parallel to this slab: either always inside or never.
			if o < 0 || o > boxMax[i] {
				return 0, 0, false
			}
			continue
		}
		t0 := -o / d
		t1 := (boxMax[i] - o) / d
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tNear {
			tNear = t0
		}
		if t1 < tFar {
			tFar = t1
		}
		if tNear > tFar {
			return 0, 0, false
		}
	}
	if tFar < 0 {
		return 0, 0, false
	}
	return tNear, tFar, true
}
