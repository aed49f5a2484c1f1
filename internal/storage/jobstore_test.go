package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/job-tracking/internal/models"
)

func newJob(id string) *models.Job {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &models.Job{ID: id, Status: models.StatusPending, Pickup: models.Coord{Lat: 26.1224, Lng: -80.1373}, CreatedAt: now, UpdatedAt: now}
}

// exerciseStore runs the same contract against every backend.
func exerciseStore(t *testing.T, s JobStore) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveJob(ctx, newJob("j1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	if err := s.UpdateStatus(ctx, "j1", models.StatusPending, models.StatusAssigned, "d1", at); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := s.UpdateStatus(ctx, "j1", models.StatusPending, models.StatusEnRoute, "", at); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale from-status, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "nope", models.StatusPending, models.StatusEnRoute, "", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateDriverLocation(ctx, models.LocationSample{JobID: "j1", Location: models.Coord{Lat: 26.12, Lng: -80.14}, At: at}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := s.UpdateStatus(ctx, "j1", models.StatusAssigned, models.StatusCompleted, "", at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	j, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != models.StatusCompleted || j.DriverID != "d1" {
		t.Fatalf("unexpected job %+v", j)
	}
	if j.DriverLocation == nil || j.DriverLocation.Lat != 26.12 {
		t.Fatalf("driver location not stored: %+v", j.DriverLocation)
	}
	if j.CompletedAt == nil || !j.CompletedAt.Equal(at) {
		t.Fatalf("completed_at not stored: %v", j.CompletedAt)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveJob(ctx, newJob("j1"))
	j, _ := s.GetJob(ctx, "j1")
	j.Status = models.StatusCancelled
	again, _ := s.GetJob(ctx, "j1")
	if again.Status != models.StatusPending {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestBindNumbersPlaceholders(t *testing.T) {
	s := &sqlStore{numbered: true}
	if got := s.bind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("bind = %q", got)
	}
	s.numbered = false
	if got := s.bind("a = ?"); got != "a = ?" {
		t.Fatalf("bind = %q", got)
	}
}
