// Package inference calls the remote vehicle, plate and attribute models.
//
// Each call is a single POST of raw image bytes with a fixed timeout. Calls
// are never retried here; failures are returned as *detection.StageError
// wrapping ErrInvalidInput, ErrTimeout, ErrTransport or ErrBadResponse.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
)

const (
	DefaultTimeout = 10 * time.Second

	pathVehicles   = "/api/detect/vehicles"
	pathPlates     = "/api/detect/license-plates"
	pathAttributes = "/api/infer/attributes"

	// responses larger than this are treated as malformed
	maxResponseBytes = 4 << 20
)

// Recorder receives the outcome of every stage call.
type Recorder interface {
	RecordStage(stage detection.Stage, d time.Duration, err error)
}

type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	log      zerolog.Logger
	recorder Recorder
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		log:     log.With().Str("component", "inference_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DetectVehicles runs the vehicle detector on a full frame.
func (c *Client) DetectVehicles(ctx context.Context, frame []byte) ([]detection.VehicleDetection, error) {
	var resp detection.VehicleDetectionResponse
	if err := c.call(ctx, detection.StageVehicles, pathVehicles, frame, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// ExtractPlate reads the license plate on a vehicle crop. A nil plate with a
// nil error means the model found no plate.
func (c *Client) ExtractPlate(ctx context.Context, crop []byte) (*detection.Plate, error) {
	var resp detection.PlateResponse
	if err := c.call(ctx, detection.StagePlate, pathPlates, crop, &resp); err != nil {
		return nil, err
	}
	return resp.Plate, nil
}

// InferAttributes classifies make, model and color on a vehicle crop.
func (c *Client) InferAttributes(ctx context.Context, crop []byte) (*detection.Attributes, error) {
	var resp detection.AttributesResponse
	if err := c.call(ctx, detection.StageAttributes, pathAttributes, crop, &resp); err != nil {
		return nil, err
	}
	if resp.Attributes == nil {
		return nil, &detection.StageError{
			Stage: detection.StageAttributes,
			Err:   fmt.Errorf("%w: response has no attributes", detection.ErrBadResponse),
		}
	}
	return resp.Attributes, nil
}

func (c *Client) call(ctx context.Context, stage detection.Stage, path string, payload []byte, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordStage(stage, time.Since(start), err)
		}
	}()

	if len(payload) == 0 {
		return &detection.StageError{Stage: stage, Err: fmt.Errorf("%w: empty image payload", detection.ErrInvalidInput)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &detection.StageError{Stage: stage, Err: fmt.Errorf("%w: %w", detection.ErrInvalidInput, err)}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	c.log.Debug().Str("stage", string(stage)).Int("bytes", len(payload)).Msg("calling inference stage")

	resp, err := c.http.Do(req)
	if err != nil {
		return &detection.StageError{Stage: stage, Err: detection.Classify(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &detection.StageError{Stage: stage, Err: detection.Classify(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &detection.StageError{
			Stage: stage,
			Err:   fmt.Errorf("%w: status %d: %s", detection.ErrBadResponse, resp.StatusCode, truncate(body, 200)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &detection.StageError{Stage: stage, Err: fmt.Errorf("%w: malformed body: %w", detection.ErrBadResponse, err)}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
