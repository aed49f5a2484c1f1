// Package tracking reconciles a job's REST snapshot with the live relay
// stream into a single view for one viewer.
package tracking

import (
	"errors"
	"time"

	"github.com/example/job-tracking/internal/models"
)

// ErrJobNotFound is the one condition the machine cannot recover from.
var ErrJobNotFound = errors.New("tracking: job not found")

type Phase int

const (
	Connecting Phase = iota
	Synced
	Stale
	Closed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Synced:
		return "synced"
	case Stale:
		return "stale"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is what a viewer renders.
type State struct {
	JobID          string
	Phase          Phase
	Status         models.Status
	Pickup         *models.Coord
	DriverLocation *models.Coord
	// LocationAt is when this viewer received DriverLocation, live or in a
	// snapshot.
	LocationAt time.Time
	ETAMinutes *int
	Connected  bool
	// Err is set in the Failed phase, and while a snapshot fetch is being
	// retried.
	Err error
}

// Live reports whether the viewer should show the live indicator rather
// than a reconnecting one.
func (s State) Live() bool { return s.Connected && s.Phase == Synced }

func (s State) clone() State {
	s.Pickup = cloneCoord(s.Pickup)
	s.DriverLocation = cloneCoord(s.DriverLocation)
	if s.ETAMinutes != nil {
		v := *s.ETAMinutes
		s.ETAMinutes = &v
	}
	return s
}

func cloneCoord(c *models.Coord) *models.Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
