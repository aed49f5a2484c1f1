// Package jobs is the server side of job tracking: it builds snapshots,
// applies status transitions and accepts driver location reports, and pushes
// the resulting events into the bus.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/job-tracking/internal/eta"
	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/observability"
	"github.com/example/job-tracking/internal/storage"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAssigned       = errors.New("driver is not assigned to this job")
	ErrJobFinished       = errors.New("job is finished")
	ErrJobExists         = errors.New("job already exists")
)

// TransitionError carries the statuses a job could have moved to instead.
type TransitionError struct {
	From    models.Status
	To      models.Status
	Allowed []models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type Publisher interface {
	Publish(from string, room models.RoomID, ev events.Event) int
}

// EventSink receives a copy of every accepted event, e.g. a Kafka topic.
type EventSink interface {
	Publish(ctx context.Context, ev events.Event) error
}

// MultiSink publishes to every sink in order and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev events.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Settler settles the booking payment once a job is terminal.
type Settler interface {
	Settle(ctx context.Context, job *models.Job) error
}

// Announcer tells drivers near the pickup about a new job.
type Announcer interface {
	Announce(ctx context.Context, job *models.Job) (int, error)
}

// settleTimeout bounds one background payment settlement.
const settleTimeout = 30 * time.Second

type Service struct {
	Store     storage.JobStore
	Locations geo.LocationCache
	Bus       Publisher
	Sink      EventSink // optional
	Settler   Settler   // optional
	Announcer Announcer // optional
	SpeedMps  float64
	Logger    *slog.Logger
	Now       func() time.Time

	settling sync.WaitGroup
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Job returns the full job record.
func (s *Service) Job(ctx context.Context, id string) (*models.Job, error) {
	j, err := s.Store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Snapshot builds the authoritative tracking view of a job.
func (s *Service) Snapshot(ctx context.Context, id string) (models.TrackingSnapshot, error) {
	start := time.Now()
	defer func() { observability.SnapshotLatency.Observe(time.Since(start).Seconds()) }()

	j, err := s.Job(ctx, id)
	if err != nil {
		return models.TrackingSnapshot{}, err
	}
	pickup := j.Pickup
	snap := models.TrackingSnapshot{Status: j.Status, Pickup: &pickup}
	if j.Status.Terminal() {
		return snap, nil
	}
	if s.Locations != nil {
		sample, ok, err := s.Locations.Get(ctx, id)
		if err != nil {
			// a cache outage degrades to "no driver position", never to an error
			s.logger().Warn("location cache read failed", "job_id", id, "error", err)
		} else if ok {
			c := sample.Location
			snap.DriverLocation = &c
		}
	} else if j.DriverLocation != nil {
		c := *j.DriverLocation
		snap.DriverLocation = &c
	}
	snap.ETAMinutes = eta.MinutesPtr(snap.DriverLocation, snap.Pickup, s.SpeedMps)
	return snap, nil
}

// Transition is the driver path: driverID must be the job's driver, or
// claims a job that has none yet. An empty driverID is refused.
func (s *Service) Transition(ctx context.Context, id string, next models.Status, driverID string) (*models.Job, error) {
	return s.transition(ctx, id, next, driverID, true)
}

// OperatorTransition moves a job on behalf of the booking backend or an
// operator, without the assigned-driver check. A non-empty driverID assigns
// the job to that driver.
func (s *Service) OperatorTransition(ctx context.Context, id string, next models.Status, driverID string) (*models.Job, error) {
	return s.transition(ctx, id, next, driverID, false)
}

func (s *Service) transition(ctx context.Context, id string, next models.Status, driverID string, asDriver bool) (*models.Job, error) {
	const attempts = 3
	var j *models.Job
	for i := 0; ; i++ {
		var err error
		j, err = s.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if asDriver && (driverID == "" || (j.DriverID != "" && j.DriverID != driverID)) {
			return nil, ErrNotAssigned
		}
		if !j.Status.CanTransitionTo(next) {
			return nil, &TransitionError{From: j.Status, To: next, Allowed: j.Status.AllowedTransitions()}
		}
		at := s.now()
		err = s.Store.UpdateStatus(ctx, id, j.Status, next, driverID, at)
		if err == nil {
			j.Status = next
			j.UpdatedAt = at
			if driverID != "" {
				j.DriverID = driverID
			}
			break
		}
		if !errors.Is(err, storage.ErrConflict) || i == attempts-1 {
			return nil, fmt.Errorf("transition %s to %s: %w", id, next, err)
		}
	}
	observability.StatusTransitions.WithLabelValues(string(next)).Inc()

	ev := events.StatusUpdate{JobID: id, Status: next, DriverID: j.DriverID, At: j.UpdatedAt}
	if !next.Terminal() {
		if snap, err := s.Snapshot(ctx, id); err == nil {
			ev.ETAMinutes = snap.ETAMinutes
		}
	}
	s.Bus.Publish("", models.JobRoom(id), ev)
	s.sink(ctx, ev)

	if next.Terminal() {
		if s.Locations != nil {
			if err := s.Locations.Delete(ctx, id); err != nil {
				s.logger().Warn("location cache delete failed", "job_id", id, "error", err)
			}
		}
		if s.Settler != nil {
			s.settle(context.WithoutCancel(ctx), *j)
		}
	}
	s.logger().Info("job status changed", "job_id", id, "status", next, "driver_id", j.DriverID)
	return j, nil
}

// settle runs the payment settlement off the caller's goroutine so a slow
// provider never holds up a driver's connection.
func (s *Service) settle(ctx context.Context, j models.Job) {
	s.settling.Add(1)
	go func() {
		defer s.settling.Done()
		ctx, cancel := context.WithTimeout(ctx, settleTimeout)
		defer cancel()
		if err := s.Settler.Settle(ctx, &j); err != nil {
			s.logger().Error("payment settle failed", "job_id", j.ID, "status", j.Status, "error", err)
		}
	}()
}

// Drain waits for in-flight payment settlements.
func (s *Service) Drain() { s.settling.Wait() }

// Create stores a new job and announces it to nearby drivers. A missing id
// is generated; a missing status means pending.
func (s *Service) Create(ctx context.Context, j *models.Job) (*models.Job, error) {
	if !events.ValidCoord(j.Pickup) {
		return nil, fmt.Errorf("%w: pickup out of range", events.ErrMalformed)
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = models.StatusPending
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("%w: new job cannot be %s", events.ErrMalformed, j.Status)
	}
	if _, err := s.Store.GetJob(ctx, j.ID); err == nil {
		return nil, ErrJobExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	if err := s.Store.SaveJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job %s: %w", j.ID, err)
	}
	s.logger().Info("job created", "job_id", j.ID, "status", j.Status)
	if s.Announcer != nil {
		n, err := s.Announcer.Announce(ctx, j)
		if err != nil {
			s.logger().Warn("nearby driver alert failed", "job_id", j.ID, "error", err)
		} else {
			s.logger().Debug("nearby drivers alerted", "job_id", j.ID, "drivers", n)
		}
	}
	return j, nil
}

// ReportLocation records a driver sample and fans it out to the job room.
// Only the job's assigned driver may report. from is the publishing
// connection, which does not get its own event back.
func (s *Service) ReportLocation(ctx context.Context, from string, u events.LocationUpdate) error {
	if !events.ValidCoord(u.Location) {
		return fmt.Errorf("%w: coordinate out of range", events.ErrMalformed)
	}
	j, err := s.Job(ctx, u.JobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrJobFinished
	}
	if u.DriverID == "" || u.DriverID != j.DriverID {
		return ErrNotAssigned
	}
	if u.At.IsZero() {
		u.At = s.now()
	}
	if s.Locations != nil {
		if err := s.Locations.Put(ctx, u.Sample()); err != nil {
			s.logger().Warn("location cache write failed", "job_id", u.JobID, "error", err)
		}
	}
	s.Bus.Publish(from, models.JobRoom(u.JobID), u)
	s.sink(ctx, u)
	return nil
}

func (s *Service) sink(ctx context.Context, ev events.Event) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.Publish(ctx, ev); err != nil {
		s.logger().Warn("event sink publish failed", "kind", ev.Kind(), "job_id", events.JobIDOf(ev), "error", err)
	}
}
