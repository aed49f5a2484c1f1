// Package matcher alerts online drivers near a new job's pickup.
package matcher

import (
	"context"
	"log/slog"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/observability"
)

// DefaultRadiusM is how far from the pickup a driver still hears about a job.
const DefaultRadiusM = 30000.0

// Notifier reaches drivers by id. *bus.Bus satisfies it.
type Notifier interface {
	SendToDriver(driverID string, ev events.Event) int
	DriverOnline(driverID string) bool
}

type Service struct {
	Index   geo.DriverIndex
	Notify  Notifier
	RadiusM float64
	// Limit caps the drivers alerted per job; zero alerts everyone in range.
	Limit  int
	Logger *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Announce sends a job:new offer to every online driver within RadiusM of
// the pickup, closest first, and returns how many were reached. Index
// entries for drivers without a connection are dropped along the way.
func (s *Service) Announce(ctx context.Context, j *models.Job) (int, error) {
	radius := s.RadiusM
	if radius <= 0 {
		radius = DefaultRadiusM
	}
	cands, err := s.Index.Nearby(ctx, j.Pickup, radius, s.Limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, c := range cands {
		if !s.Notify.DriverOnline(c.ID) {
			if err := s.Index.Remove(ctx, c.ID); err != nil {
				s.logger().Debug("driver index remove failed", "driver_id", c.ID, "error", err)
			}
			continue
		}
		offer := events.JobOffer{
			JobID:       j.ID,
			Status:      j.Status,
			Pickup:      j.Pickup,
			Address:     j.Address,
			ScheduledAt: j.ScheduledAt,
			DistanceM:   c.DistanceM,
		}
		if s.Notify.SendToDriver(c.ID, offer) > 0 {
			sent++
		}
	}
	observability.JobAlertsSent.Add(float64(sent))
	return sent, nil
}

// TrackDriver records a driver's latest position.
func (s *Service) TrackDriver(ctx context.Context, driverID string, c models.Coord) error {
	return s.Index.Upsert(ctx, driverID, c)
}

// DriverOffline forgets a driver once its last connection has closed.
func (s *Service) DriverOffline(ctx context.Context, driverID string) error {
	if s.Notify.DriverOnline(driverID) {
		return nil
	}
	return s.Index.Remove(ctx, driverID)
}
