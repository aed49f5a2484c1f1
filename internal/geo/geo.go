package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/job-tracking/internal/models"
)

// LocationCache retains the latest driver sample per job.
type LocationCache interface {
	Put(ctx context.Context, s models.LocationSample) error
	Get(ctx context.Context, jobID string) (models.LocationSample, bool, error)
	Delete(ctx context.Context, jobID string) error
}

// MemoryCache is the single-process LocationCache.
type MemoryCache struct {
	mu      sync.RWMutex
	samples map[string]cached
	ttl     time.Duration
	now     func() time.Time
}

// cached pairs a sample with the local time it arrived. Expiry runs on the
// arrival time; the device timestamp only orders samples from one driver.
type cached struct {
	sample   models.LocationSample
	received time.Time
}

// NewMemoryCache returns a cache whose entries expire ttl after they were
// stored. A zero ttl keeps samples until they are replaced or deleted.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{samples: make(map[string]cached), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) expired(e cached, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.received) > c.ttl
}

// Put replaces the stored sample unless a live sample from the same driver
// carries a later device timestamp.
func (c *MemoryCache) Put(_ context.Context, s models.LocationSample) error {
	now := c.now()
	if s.At.IsZero() {
		s.At = now
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.samples[s.JobID]; ok && !c.expired(cur, now) &&
		cur.sample.DriverID == s.DriverID && cur.sample.At.After(s.At) {
		return nil
	}
	c.samples[s.JobID] = cached{sample: s, received: now}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, jobID string) (models.LocationSample, bool, error) {
	c.mu.RLock()
	e, ok := c.samples[jobID]
	c.mu.RUnlock()
	if !ok {
		return models.LocationSample{}, false, nil
	}
	if c.expired(e, c.now()) {
		c.mu.Lock()
		delete(c.samples, jobID)
		c.mu.Unlock()
		return models.LocationSample{}, false, nil
	}
	return e.sample, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.samples, jobID)
	return nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}
