// Package dispatch notifies the booking backend of job status changes.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/job-tracking/internal/events"
)

// WebhookSink posts every status change to the booking backend so it can
// react (receipts, ratings prompts). Location updates are not forwarded.
type WebhookSink struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookSink(endpoint string) *WebhookSink {
	return &WebhookSink{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

type statusPayload struct {
	JobID    string    `json:"job_id"`
	Status   string    `json:"status"`
	DriverID string    `json:"driver_id,omitempty"`
	At       time.Time `json:"ts"`
}

func (d *WebhookSink) Publish(ctx context.Context, ev events.Event) error {
	u, ok := ev.(events.StatusUpdate)
	if !ok {
		return nil
	}
	b, err := json.Marshal(statusPayload{JobID: u.JobID, Status: string(u.Status), DriverID: u.DriverID, At: u.At})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("status webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status webhook: %s", resp.Status)
	}
	return nil
}
