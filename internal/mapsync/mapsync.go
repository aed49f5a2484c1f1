// Package mapsync keeps the pickup and driver markers of a map view in step
// with tracking state without rebuilding the view.
package mapsync

import (
	"sync"

	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/tracking"
)

type MarkerKind string

const (
	Pickup MarkerKind = "pickup"
	Driver MarkerKind = "driver"
)

// Marker is a placed map marker.
type Marker interface {
	Move(c models.Coord)
	Remove()
}

// Renderer is the map view. AddMarker is only called once per live marker.
type Renderer interface {
	AddMarker(kind MarkerKind, c models.Coord) Marker
}

type Synchronizer struct {
	mu       sync.Mutex
	renderer Renderer
	markers  map[MarkerKind]Marker
	last     map[MarkerKind]models.Coord
}

func New(r Renderer) *Synchronizer {
	return &Synchronizer{
		renderer: r,
		markers:  make(map[MarkerKind]Marker),
		last:     make(map[MarkerKind]models.Coord),
	}
}

// Upsert creates the marker for kind on first use and moves it afterwards.
func (s *Synchronizer) Upsert(kind MarkerKind, c models.Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(kind, c)
}

func (s *Synchronizer) upsert(kind MarkerKind, c models.Coord) {
	m, ok := s.markers[kind]
	if !ok {
		s.markers[kind] = s.renderer.AddMarker(kind, c)
		s.last[kind] = c
		return
	}
	if s.last[kind] == c {
		return
	}
	m.Move(c)
	s.last[kind] = c
}

// Remove drops the marker for kind, if any.
func (s *Synchronizer) Remove(kind MarkerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(kind)
}

func (s *Synchronizer) remove(kind MarkerKind) {
	if m, ok := s.markers[kind]; ok {
		m.Remove()
		delete(s.markers, kind)
		delete(s.last, kind)
	}
}

// Sync positions both markers. A nil driver leaves only the pickup marker.
func (s *Synchronizer) Sync(pickup, driver *models.Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pickup != nil {
		s.upsert(Pickup, *pickup)
	}
	if driver == nil {
		s.remove(Driver)
		return
	}
	s.upsert(Driver, *driver)
}

// Apply is a tracking.Store subscriber.
func (s *Synchronizer) Apply(st tracking.State) {
	s.Sync(st.Pickup, st.DriverLocation)
}
