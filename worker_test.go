package volcast

import (
	"errors"
	"testing"
	"time"

	"github.com/voxview/volcast/volume"
)

func newTestWorker(t *testing.T) *renderWorker {
	t.Helper()
	r := NewSoftwareRenderer(1)
	t.Cleanup(r.Close)
	w, err := newRenderWorker(r)
	if err != nil {
		t.Fatalf("newRenderWorker: %v", err)
	}
	return w
}

func awaitResult(t *testing.T, w *renderWorker) renderResult {
	t.Helper()
	select {
	case res, ok := <-w.results:
		if !ok {
			t.Fatal("result channel closed while waiting for a result")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for render result")
	}
	return renderResult{}
}

func TestNewRenderWorkerNilRenderer(t *testing.T) {
	w, err := newRenderWorker(nil)
	if err == nil {
		t.Fatal("newRenderWorker(nil): got nil error")
	}
	if w != nil {
		t.Errorf("newRenderWorker(nil): got worker %v, want nil", w)
	}
}

func TestRenderWorkerDeliversFrame(t *testing.T) {
	w := newTestWorker(t)
	defer w.close()

	vol := slabVolume(t)
	key := FrameKey{X: 1, Y: 2, Z: 3, Mode: ModeMIP, Quality: QualityHigh}
	w.submit(renderJob{
		vol:      vol,
		camera:   framedCamera(vol),
		transfer: mustPreset(t, "mip"),
		settings: DefaultSettings(),
		plan:     testPlan(),
		key:      key,
		quality:  QualityHigh,
		seq:      7,
	})

	res := awaitResult(t, w)
	if res.err != nil {
		t.Fatalf("result error: %v", res.err)
	}
	if res.frame == nil {
		t.Fatal("result frame is nil")
	}
	if got, want := res.frame.Width(), testPlan().Width; got != want {
		t.Errorf("frame width = %d, want %d", got, want)
	}
	if got, want := res.frame.Height(), testPlan().Height; got != want {
		t.Errorf("frame height = %d, want %d", got, want)
	}
	if res.seq != 7 {
		t.Errorf("seq = %d, want 7", res.seq)
	}
	if res.key != key {
		t.Errorf("key = %+v, want %+v", res.key, key)
	}
	if res.quality != QualityHigh {
		t.Errorf("quality = %v, want %v", res.quality, QualityHigh)
	}
	if res.renderTime <= 0 {
		t.Errorf("renderTime = %v, want > 0", res.renderTime)
	}
}

func TestRenderWorkerReportsRenderError(t *testing.T) {
	w := newTestWorker(t)
	defer w.close()

	w.submit(renderJob{
		vol:      &volume.ScalarVolume{},
		camera:   *NewCamera(),
		settings: DefaultSettings(),
		plan:     testPlan(),
		seq:      1,
	})

	res := awaitResult(t, w)
	if !errors.Is(res.err, ErrNotReady) {
		t.Errorf("result error = %v, want ErrNotReady", res.err)
	}
	if res.frame != nil {
		t.Error("result frame should be nil on error")
	}
	if res.seq != 1 {
		t.Errorf("seq = %d, want 1", res.seq)
	}
}

func TestRenderWorkerSequentialJobs(t *testing.T) {
	w := newTestWorker(t)
	defer w.close()

	vol := slabVolume(t)
	for seq := uint64(1); seq <= 3; seq++ {
		w.submit(renderJob{
			vol:      vol,
			camera:   framedCamera(vol),
			transfer: mustPreset(t, "mip"),
			settings: DefaultSettings(),
			plan:     RenderPlan{Width: 16, Height: 16, StepSize: 2},
			seq:      seq,
		})
		res := awaitResult(t, w)
		if res.err != nil {
			t.Fatalf("job %d: %v", seq, res.err)
		}
		if res.seq != seq {
			t.Errorf("job %d: result seq = %d", seq, res.seq)
		}
	}
}

func TestRenderWorkerCloseEndsResults(t *testing.T) {
	w := newTestWorker(t)
	w.close()

	select {
	case <-w.done:
	default:
		t.Error("done channel still open after close")
	}

	if _, ok := <-w.results; ok {
		t.Error("results channel still delivering after close")
	}
}
