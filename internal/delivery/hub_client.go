package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"toll-monitor/internal/domain/detection"
)

const ingestPath = "/api/detections"

// HubClient posts detection events to the central hub ingestion endpoint.
type HubClient struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

func NewHubClient(baseURL, apiKey string, timeout time.Duration, hc *http.Client) *HubClient {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HubClient{
		url:     strings.TrimRight(baseURL, "/") + ingestPath,
		apiKey:  apiKey,
		timeout: timeout,
		http:    hc,
	}
}

// Send delivers one event. Any 2xx response counts as accepted.
func (c *HubClient) Send(ctx context.Context, ev detection.DetectionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", detection.ErrInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", detection.ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return detection.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: hub returned %d: %s", detection.ErrBadResponse, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
