// Package publisher runs on the driver's side: it samples the device
// location on a cadence and pushes it, and driver status changes, into the
// job room.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/transport"
)

var ErrJobFinished = errors.New("publisher: job is finished")

// LocationSource reports where the device is right now.
type LocationSource interface {
	Current(ctx context.Context) (models.Coord, error)
}

// Conn is the driver's relay connection. *transport.Client satisfies it.
type Conn interface {
	Updates() <-chan transport.Update
	Join(room models.RoomID) error
	Leave(room models.RoomID) error
	Send(ev events.Event) error
}

type Config struct {
	// Interval between location samples.
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

const DefaultInterval = 5 * time.Second

type Publisher struct {
	jobID    string
	driverID string
	room     models.RoomID
	src      LocationSource
	conn     Conn
	cfg      Config
	log      *slog.Logger

	mu        sync.Mutex
	status    models.Status
	lastAt    time.Time
	connected bool
	finished  bool
	done      chan struct{}
}

// New returns a publisher for a job the driver is assigned to. status is the
// job's current status, if known.
func New(jobID, driverID string, status models.Status, src LocationSource, conn Conn, cfg Config) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		jobID:    jobID,
		driverID: driverID,
		room:     models.JobRoom(jobID),
		src:      src,
		conn:     conn,
		cfg:      cfg,
		log:      cfg.Logger.With("job_id", jobID, "driver_id", driverID),
		status:   status,
		finished: status.Terminal(),
		done:     make(chan struct{}),
	}
}

// Run joins the job room on every (re)connect and publishes a location
// sample each Interval while connected. It returns once the job is finished
// or ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.Finished() {
		return ErrJobFinished
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	updates := p.conn.Updates()
	for {
		select {
		case <-ctx.Done():
			p.leave()
			return ctx.Err()
		case <-p.done:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			p.handle(ctx, u)
		case <-ticker.C:
			if !p.isConnected() {
				continue
			}
			if err := p.PublishLocation(ctx); err != nil && !errors.Is(err, ErrJobFinished) {
				p.log.Warn("location publish failed", "error", err)
			}
		}
	}
}

func (p *Publisher) handle(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.Connected:
		p.setConnected(true)
		if err := p.conn.Join(p.room); err != nil {
			p.log.Warn("join failed", "error", err)
			return
		}
		// publish immediately so viewers don't wait a full interval
		if err := p.PublishLocation(ctx); err != nil && !errors.Is(err, ErrJobFinished) {
			p.log.Warn("location publish failed", "error", err)
		}
	case transport.Disconnected:
		p.setConnected(false)
	case transport.Message:
		switch v := u.Event.(type) {
		case events.StatusUpdate:
			// the job can also end server side, e.g. an admin cancellation
			if v.JobID == p.jobID && v.Status.Terminal() {
				p.finish(v.Status)
			}
		case events.ErrorNotice:
			p.log.Warn("relay rejected a publish", "message", v.Message)
		}
	}
}

// PublishLocation samples the source and publishes one location update.
// Timestamps are strictly increasing per publisher.
func (p *Publisher) PublishLocation(ctx context.Context) error {
	if p.Finished() {
		return ErrJobFinished
	}
	loc, err := p.src.Current(ctx)
	if err != nil {
		return fmt.Errorf("sample location: %w", err)
	}
	if !events.ValidCoord(loc) {
		return fmt.Errorf("sample location: coordinate out of range (%f,%f)", loc.Lat, loc.Lng)
	}

	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return ErrJobFinished
	}
	at := p.cfg.Now().UTC()
	if !at.After(p.lastAt) {
		at = p.lastAt.Add(time.Millisecond)
	}
	p.lastAt = at
	p.mu.Unlock()

	return p.conn.Send(events.LocationUpdate{JobID: p.jobID, DriverID: p.driverID, Location: loc, At: at})
}

// MarkStatus publishes a driver-initiated status change. Completing or
// cancelling the job leaves the room and stops publishing.
func (p *Publisher) MarkStatus(_ context.Context, s models.Status) error {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return ErrJobFinished
	}
	if p.status != "" && !p.status.CanTransitionTo(s) {
		from := p.status
		p.mu.Unlock()
		return fmt.Errorf("cannot mark %s from %s", s, from)
	}
	p.mu.Unlock()

	if err := p.conn.Send(events.StatusUpdate{JobID: p.jobID, Status: s, DriverID: p.driverID, At: p.cfg.Now().UTC()}); err != nil {
		return fmt.Errorf("publish status %s: %w", s, err)
	}
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
	if s.Terminal() {
		p.finish(s)
	}
	return nil
}

func (p *Publisher) Status() models.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Publisher) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *Publisher) finish(s models.Status) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.status = s
	p.mu.Unlock()

	p.leave()
	close(p.done)
	p.log.Info("job finished, publisher stopped", "status", s)
}

func (p *Publisher) leave() {
	if err := p.conn.Leave(p.room); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		p.log.Debug("leave failed", "error", err)
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}
