// Package analysis is a client for the MedSigLIP classification sidecar,
// an HTTP service that labels rendered frames and flags abnormal regions.
//
// The sidecar exposes three endpoints: GET /health, POST /classify, and
// POST /detect. Frames are submitted as PNG in a multipart field named
// "image". The service runs out of process; a missing or unhealthy sidecar
// degrades the viewer to plain rendering, so every method returns promptly
// with an error rather than retrying.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is where the sidecar listens when started with defaults.
const DefaultBaseURL = "http://localhost:5001"

// ErrSidecar wraps error strings reported by the service itself, as
// opposed to transport failures.
var ErrSidecar = errors.New("analysis: sidecar error")

// HealthStatus is the GET /health response.
type HealthStatus struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// Classification is one label candidate for a frame, highest score first.
// Confidence is the service's bucket for the score: "high", "medium", or
// "low".
type Classification struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
}

// Detection is one flagged region in frame pixel coordinates.
type Detection struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
}

// DetectMetadata describes how a /detect call was processed.
type DetectMetadata struct {
	GridSize         int    `json:"grid_size"`
	RegionsProcessed int    `json:"regions_processed"`
	Model            string `json:"model"`
}

// DetectResult is the POST /detect response payload.
type DetectResult struct {
	Detections []Detection
	Metadata   DetectMetadata
}

// Client talks to one sidecar instance. It is safe for concurrent use.
type Client struct {
	base   string
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets the per-request timeout. Classification of large frames
// on CPU-only hosts can take tens of seconds; the default is 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// New creates a Client for the sidecar at baseURL. An empty baseURL means
// DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks service liveness and whether the model finished loading.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("analysis: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis: health: unexpected status %s", resp.Status)
	}
	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("analysis: decode health: %w", err)
	}
	return &hs, nil
}

// Classify submits a frame and returns label candidates sorted by score,
// plus the model name.
func (c *Client) Classify(ctx context.Context, frame image.Image) ([]Classification, string, error) {
	var out struct {
		Success bool             `json:"success"`
		Results []Classification `json:"results"`
		Model   string           `json:"model"`
		Error   string           `json:"error"`
	}
	if err := c.postFrame(ctx, "/classify", frame, nil, &out); err != nil {
		return nil, "", err
	}
	if !out.Success {
		return nil, "", fmt.Errorf("%w: %s", ErrSidecar, out.Error)
	}
	return out.Results, out.Model, nil
}

// Detect splits the frame into a gridSize x gridSize grid server-side and
// returns regions whose top label is abnormal. gridSize <= 0 selects the
// service default of 3.
func (c *Client) Detect(ctx context.Context, frame image.Image, gridSize int) (*DetectResult, error) {
	var fields map[string]string
	if gridSize > 0 {
		fields = map[string]string{"grid_size": strconv.Itoa(gridSize)}
	}
	var out struct {
		Success    bool           `json:"success"`
		Detections []Detection    `json:"detections"`
		Metadata   DetectMetadata `json:"metadata"`
		Error      string         `json:"error"`
	}
	if err := c.postFrame(ctx, "/detect", frame, fields, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", ErrSidecar, out.Error)
	}
	return &DetectResult{Detections: out.Detections, Metadata: out.Metadata}, nil
}

// postFrame encodes the frame as PNG into a multipart body, posts it, and
// decodes the JSON response into out. Non-2xx responses with a JSON error
// body surface the service's message.
func (c *Client) postFrame(ctx context.Context, path string, frame image.Image, fields map[string]string, out any) error {
	if frame == nil {
		return errors.New("analysis: nil frame")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "frame.png")
	if err != nil {
		return fmt.Errorf("analysis: build form: %w", err)
	}
	if err := png.Encode(fw, frame); err != nil {
		return fmt.Errorf("analysis: encode frame: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("analysis: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("analysis: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &body)
	if err != nil {
		return fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("analysis: %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("analysis: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Error responses carry {"error": "..."} or {"success": false,
		// "error": "..."}; prefer the message over the bare status.
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w: %s", ErrSidecar, e.Error)
		}
		return fmt.Errorf("analysis: %s: unexpected status %s", path, resp.Status)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("analysis: decode response: %w", err)
	}
	return nil
}
