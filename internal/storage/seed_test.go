package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/job-tracking/internal/models"
)

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	yml := `
- id: j1
  status: accepted
  driver_id: d1
  pickup_location: {lat: 26.1224, lng: -80.1373}
- id: j2
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewMemoryStore()
	n, err := LoadSeed(context.Background(), s, path)
	if err != nil || n != 2 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	j, err := s.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != models.StatusAssigned || j.Pickup.Lat != 26.1224 || j.DriverID != "d1" {
		t.Fatalf("unexpected job %+v", j)
	}
	if j2, _ := s.GetJob(context.Background(), "j2"); j2 == nil || j2.Status != models.StatusPending {
		t.Fatalf("expected pending default, got %+v", j2)
	}
}

func TestLoadSeedRejectsUnknownStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte("- id: j1\n  status: lost\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeed(context.Background(), NewMemoryStore(), path); err == nil {
		t.Fatalf("expected an error")
	}
}
