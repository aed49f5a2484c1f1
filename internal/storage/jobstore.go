package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/job-tracking/internal/models"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the job's stored status no longer matches the status
	// the caller read, so the update was not applied.
	ErrConflict = errors.New("job status changed concurrently")
)

// JobStore is the tracking subsystem's window onto the booking system's job
// record, which stays the system of record.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	SaveJob(ctx context.Context, j *models.Job) error
	// UpdateStatus moves job id from status `from` to `to`. driverID, when
	// non-empty, replaces the assigned driver.
	UpdateStatus(ctx context.Context, id string, from, to models.Status, driverID string, at time.Time) error
	UpdateDriverLocation(ctx context.Context, s models.LocationSample) error
	Close() error
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (m *MemoryStore) SaveJob(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to models.Status, driverID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != from {
		return ErrConflict
	}
	j.Status = to
	if driverID != "" {
		j.DriverID = driverID
	}
	j.UpdatedAt = at
	if to == models.StatusCompleted {
		t := at
		j.CompletedAt = &t
	}
	return nil
}

func (m *MemoryStore) UpdateDriverLocation(_ context.Context, s models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[s.JobID]
	if !ok {
		return ErrNotFound
	}
	c := s.Location
	j.DriverLocation = &c
	return nil
}

func (m *MemoryStore) Close() error { return nil }
