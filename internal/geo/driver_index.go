package geo

import (
	"context"
	"sort"
	"sync"

	"github.com/example/job-tracking/internal/models"
)

// NearbyDriver is one result of a radius search.
type NearbyDriver struct {
	ID        string
	Location  models.Coord
	DistanceM float64
}

// DriverIndex holds the last known position of every online driver.
type DriverIndex interface {
	Upsert(ctx context.Context, driverID string, c models.Coord) error
	Remove(ctx context.Context, driverID string) error
	// Nearby returns up to limit drivers within radiusM of c, closest first.
	// A non-positive limit means no limit.
	Nearby(ctx context.Context, c models.Coord, radiusM float64, limit int) ([]NearbyDriver, error)
}

// MemoryIndex is the single-process DriverIndex. Nearby is a linear scan.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]models.Coord)}
}

func (m *MemoryIndex) Upsert(_ context.Context, driverID string, c models.Coord) error {
	m.mu.Lock()
	m.drivers[driverID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, driverID string) error {
	m.mu.Lock()
	delete(m.drivers, driverID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, c models.Coord, radiusM float64, limit int) ([]NearbyDriver, error) {
	m.mu.RLock()
	var out []NearbyDriver
	for id, at := range m.drivers {
		if d := Distance(c, at); d <= radiusM {
			out = append(out, NearbyDriver{ID: id, Location: at, DistanceM: d})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
