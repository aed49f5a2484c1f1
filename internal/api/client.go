// Package api is the REST client for the tracking snapshot endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/tracking"
)

type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a client for the API rooted at baseURL. A nil hc uses a
// client with a 10s timeout.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: hc}, nil
}

// Snapshot fetches GET /jobs/{id}/tracking.
func (c *Client) Snapshot(ctx context.Context, jobID string) (models.TrackingSnapshot, error) {
	var snap models.TrackingSnapshot
	endpoint := c.base.JoinPath("jobs", jobID, "tracking")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return snap, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch tracking %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return snap, tracking.ErrJobNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("fetch tracking %s: %s: %s", jobID, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode tracking %s: %w", jobID, err)
	}
	if snap.Status != "" {
		st, err := models.ParseStatus(string(snap.Status))
		if err != nil {
			return snap, fmt.Errorf("decode tracking %s: %w", jobID, err)
		}
		snap.Status = st
	}
	return snap, nil
}
