package analysis

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Errorf("got %s %s, want GET /health", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"medsiglip-analysis","model_loaded":true,"version":"1.2.0"}`))
	}))
	defer srv.Close()

	hs, err := New(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if hs.Status != "healthy" || hs.Service != "medsiglip-analysis" || !hs.ModelLoaded || hs.Version != "1.2.0" {
		t.Errorf("health = %+v", hs)
	}
}

func TestHealthBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Health(context.Background()); err == nil {
		t.Error("Health on 503: got nil error")
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/classify" {
			t.Errorf("got %s %s, want POST /classify", r.Method, r.URL.Path)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("multipart field image: %v", err)
			http.Error(w, `{"error":"no image"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		img, err := png.Decode(file)
		if err != nil {
			t.Errorf("decode submitted frame: %v", err)
		} else if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
			t.Errorf("submitted frame is %dx%d, want 8x6", b.Dx(), b.Dy())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"results":[` +
			`{"label":"chest x-ray","score":0.91,"confidence":"high"},` +
			`{"label":"abdominal ct","score":0.06,"confidence":"low"}],` +
			`"model":"medsiglip-448"}`))
	}))
	defer srv.Close()

	results, model, err := New(srv.URL).Classify(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if model != "medsiglip-448" {
		t.Errorf("model = %q, want medsiglip-448", model)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Label != "chest x-ray" || results[0].Score != 0.91 || results[0].Confidence != "high" {
		t.Errorf("top result = %+v", results[0])
	}
}

func TestClassifyServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error":"model not loaded"}`))
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).Classify(context.Background(), testFrame())
	if !errors.Is(err, ErrSidecar) {
		t.Fatalf("got %v, want ErrSidecar", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q does not carry the service message", err)
	}
}

func TestClassifyErrorStatusWithMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"image too large"}`, http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).Classify(context.Background(), testFrame())
	if !errors.Is(err, ErrSidecar) {
		t.Fatalf("got %v, want ErrSidecar", err)
	}
	if !strings.Contains(err.Error(), "image too large") {
		t.Errorf("error %q does not carry the service message", err)
	}
}

func TestClassifyErrorStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).Classify(context.Background(), testFrame())
	if err == nil {
		t.Fatal("got nil error on 502")
	}
	if errors.Is(err, ErrSidecar) {
		t.Errorf("bare 502 classified as a sidecar message: %v", err)
	}
}

func TestClassifyNilFrame(t *testing.T) {
	if _, _, err := New("http://localhost:1").Classify(context.Background(), nil); err == nil {
		t.Error("Classify(nil): got nil error")
	}
}

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("path = %s, want /detect", r.URL.Path)
		}
		if got := r.FormValue("grid_size"); got != "5" {
			t.Errorf("grid_size field = %q, want 5", got)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("multipart field image: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"detections":[` +
			`{"x":12,"y":34,"width":56,"height":78,"label":"pneumonia",` +
			`"confidence":0.81,"location":"upper left",` +
			`"description":"abnormal region in the upper left area"}],` +
			`"metadata":{"grid_size":5,"regions_processed":25,"model":"medsiglip-448"}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Detect(context.Background(), testFrame(), 5)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(res.Detections))
	}
	d := res.Detections[0]
	if d.X != 12 || d.Y != 34 || d.Width != 56 || d.Height != 78 {
		t.Errorf("region = %+v", d)
	}
	if d.Label != "pneumonia" || d.Confidence != 0.81 || d.Location != "upper left" {
		t.Errorf("labeling = %+v", d)
	}
	if res.Metadata.GridSize != 5 || res.Metadata.RegionsProcessed != 25 || res.Metadata.Model != "medsiglip-448" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestDetectDefaultGrid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The service default applies when the field is absent.
		if got := r.FormValue("grid_size"); got != "" {
			t.Errorf("grid_size field = %q, want absent", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"detections":[],"metadata":{"grid_size":3,"regions_processed":9,"model":"medsiglip-448"}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Detect(context.Background(), testFrame(), 0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Detections) != 0 {
		t.Errorf("got %d detections, want 0", len(res.Detections))
	}
	if res.Metadata.GridSize != 3 {
		t.Errorf("metadata grid = %d, want 3", res.Metadata.GridSize)
	}
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL + "/").Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	c := New("")
	if c.base != DefaultBaseURL {
		t.Errorf("base = %q, want %q", c.base, DefaultBaseURL)
	}
}

func TestCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(srv.URL).Health(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
