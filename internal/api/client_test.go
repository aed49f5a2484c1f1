package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/tracking"
)

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/j1/tracking":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"started","pickup_location":{"lat":26.1,"lng":-80.1},"driver_location":{"lat":26.12,"lng":-80.14},"eta_minutes":7}`))
		case "/jobs/gone/tracking":
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	snap, err := c.Snapshot(context.Background(), "j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != models.StatusInProgress {
		t.Fatalf("expected legacy status to be normalised, got %s", snap.Status)
	}
	if snap.DriverLocation == nil || snap.DriverLocation.Lat != 26.12 || snap.ETAMinutes == nil || *snap.ETAMinutes != 7 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Pickup == nil || snap.Pickup.Lng != -80.1 {
		t.Fatalf("pickup not decoded: %+v", snap.Pickup)
	}

	if _, err := c.Snapshot(context.Background(), "gone"); !errors.Is(err, tracking.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := c.Snapshot(context.Background(), "broken"); err == nil || errors.Is(err, tracking.ErrJobNotFound) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}

func TestSnapshotNullDriver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending","driver_location":null,"eta_minutes":null}`))
	}))
	defer srv.Close()
	c, _ := NewClient(srv.URL, srv.Client())
	snap, err := c.Snapshot(context.Background(), "j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.DriverLocation != nil || snap.ETAMinutes != nil {
		t.Fatalf("expected null driver and eta, got %+v", snap)
	}
}
