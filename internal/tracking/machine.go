package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/job-tracking/internal/eta"
	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/transport"
)

// SnapshotFetcher returns the authoritative view of a job. It returns
// ErrJobNotFound when the job no longer exists.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, jobID string) (models.TrackingSnapshot, error)
}

// Transport is the viewer's relay connection.
type Transport interface {
	Updates() <-chan transport.Update
	Join(room models.RoomID) error
	Leave(room models.RoomID) error
}

type Config struct {
	// SpeedMps is the assumed average speed for ETA; eta.DefaultSpeedMps when zero.
	SpeedMps float64
	// LocationTTL clears a driver location that has not been refreshed for
	// this long. Zero keeps locations until replaced.
	LocationTTL time.Duration
	// Backoff paces snapshot retries.
	Backoff transport.Backoff
	Now     func() time.Time
	Logger  *slog.Logger
}

// Machine is the per-viewer tracking state machine. It is owned by a single
// goroutine; none of its methods are safe for concurrent use. Observers read
// state through Store.
type Machine struct {
	cfg     Config
	fetcher SnapshotFetcher
	conn    Transport
	store   *Store
	log     *slog.Logger

	room  models.RoomID
	state State
	// resync is set while the connection is down; the next connect refetches
	// the snapshot because the relay has no replay.
	resync bool
}

func New(jobID string, fetcher SnapshotFetcher, conn Transport, cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backoff == (transport.Backoff{}) {
		cfg.Backoff = transport.DefaultBackoff()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Machine{
		cfg:     cfg,
		fetcher: fetcher,
		conn:    conn,
		store:   NewStore(),
		log:     cfg.Logger.With("job_id", jobID),
		room:    models.JobRoom(jobID),
		state:   State{JobID: jobID, Phase: Connecting},
	}
	m.store.set(m.state)
	return m
}

func (m *Machine) Store() *Store { return m.store }

func (m *Machine) State() State { return m.state.clone() }

func (m *Machine) publish() { m.store.set(m.state) }

func (m *Machine) done() bool {
	return m.state.Phase == Closed || m.state.Phase == Failed
}

// Run fetches the initial snapshot and then drives the machine from the
// transport until ctx is cancelled, the transport shuts down, or the job
// turns out not to exist. Cancellation is the normal way for a viewer to
// navigate away and yields a nil error.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.Sync(ctx); err != nil {
		return m.exit(ctx, err)
	}

	var expire <-chan time.Time
	if m.cfg.LocationTTL > 0 {
		t := time.NewTicker(expiryInterval(m.cfg.LocationTTL))
		defer t.Stop()
		expire = t.C
	}
	updates := m.conn.Updates()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case u, ok := <-updates:
			if !ok {
				m.Close()
				return nil
			}
			if err := m.Handle(ctx, u); err != nil {
				return m.exit(ctx, err)
			}
		case <-expire:
			m.Expire()
		}
		if m.done() {
			return nil
		}
	}
}

func (m *Machine) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		m.Close()
		return nil
	}
	return err
}

func expiryInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > 0 {
		return d
	}
	return ttl
}

// Sync fetches the snapshot and replaces the tracked state with it, retrying
// with backoff while the fetch fails. Only ErrJobNotFound ends the retries.
func (m *Machine) Sync(ctx context.Context) error {
	var delay time.Duration
	for {
		snap, err := m.fetcher.Snapshot(ctx, m.state.JobID)
		if err == nil {
			m.applySnapshot(snap)
			return nil
		}
		if errors.Is(err, ErrJobNotFound) {
			m.state.Phase = Failed
			m.state.Connected = false
			m.state.Err = err
			m.publish()
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay = m.cfg.Backoff.Next(delay)
		m.log.Warn("tracking snapshot fetch failed", "error", err, "retry_in", delay)
		m.state.Err = err
		m.publish()
		if !transport.Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (m *Machine) applySnapshot(snap models.TrackingSnapshot) {
	m.state.Status = snap.Status
	if snap.Pickup != nil {
		m.state.Pickup = cloneCoord(snap.Pickup)
	}
	m.state.DriverLocation = cloneCoord(snap.DriverLocation)
	m.state.LocationAt = time.Time{}
	if snap.DriverLocation != nil {
		m.state.LocationAt = m.cfg.Now()
	}
	m.state.ETAMinutes = nil
	if snap.ETAMinutes != nil {
		v := *snap.ETAMinutes
		m.state.ETAMinutes = &v
	}
	if snap.Status.Terminal() {
		m.clearDriver()
	}
	m.state.Err = nil
	m.resync = false
	m.publish()
}

// Handle applies one transport update.
func (m *Machine) Handle(ctx context.Context, u transport.Update) error {
	if m.done() {
		return nil
	}
	switch u.Kind {
	case transport.Connected:
		return m.HandleConnected(ctx)
	case transport.Disconnected:
		m.HandleDisconnected()
	case transport.Message:
		m.handleEvent(u.Event)
	}
	return nil
}

func (m *Machine) handleEvent(ev events.Event) {
	switch v := ev.(type) {
	case events.LocationUpdate:
		m.HandleLocation(v)
	case events.StatusUpdate:
		m.HandleStatus(v)
	case events.ErrorNotice:
		m.log.Warn("relay rejected a request", "message", v.Message)
	case events.Joined:
		m.log.Debug("joined room", "room", v.Room.String())
	}
}

// HandleConnected re-joins the job room and, after a dropped connection,
// refetches the snapshot before any further event is applied.
func (m *Machine) HandleConnected(ctx context.Context) error {
	if m.done() {
		return nil
	}
	m.state.Connected = true
	if err := m.conn.Join(m.room); err != nil {
		m.log.Warn("join failed", "error", err)
	}
	if m.resync {
		m.publish()
		if err := m.Sync(ctx); err != nil {
			return err
		}
	}
	m.state.Phase = Synced
	m.publish()
	return nil
}

// HandleDisconnected keeps the last known state on screen.
func (m *Machine) HandleDisconnected() {
	if m.done() {
		return
	}
	m.state.Connected = false
	if m.state.Phase == Synced {
		m.state.Phase = Stale
	}
	m.resync = true
	m.publish()
}

// HandleLocation replaces the driver location, latest delivery wins. It
// reports whether the update was applied.
func (m *Machine) HandleLocation(u events.LocationUpdate) bool {
	if m.done() || u.JobID != m.state.JobID || m.state.Status.Terminal() {
		return false
	}
	loc := u.Location
	m.state.DriverLocation = &loc
	// staleness runs on the viewer's clock, never the device's
	m.state.LocationAt = m.cfg.Now()
	if m.state.Pickup != nil {
		m.state.ETAMinutes = eta.MinutesPtr(&loc, m.state.Pickup, m.cfg.SpeedMps)
	}
	m.publish()
	return true
}

// HandleStatus applies u unless it would move the job backwards, in which
// case it is a late or duplicate delivery and is dropped.
func (m *Machine) HandleStatus(u events.StatusUpdate) bool {
	if m.done() || u.JobID != m.state.JobID {
		return false
	}
	if !m.state.Status.Admits(u.Status) {
		m.log.Debug("discarding stale status", "current", m.state.Status, "incoming", u.Status)
		return false
	}
	m.state.Status = u.Status
	switch {
	case u.Status.Terminal():
		m.clearDriver()
	case m.state.DriverLocation == nil && u.ETAMinutes != nil:
		v := *u.ETAMinutes
		m.state.ETAMinutes = &v
	}
	m.publish()
	return true
}

// Expire clears a driver location not refreshed within LocationTTL.
func (m *Machine) Expire() bool {
	if m.cfg.LocationTTL <= 0 || m.state.DriverLocation == nil || m.done() {
		return false
	}
	if m.cfg.Now().Sub(m.state.LocationAt) <= m.cfg.LocationTTL {
		return false
	}
	m.clearDriver()
	m.publish()
	return true
}

func (m *Machine) clearDriver() {
	m.state.DriverLocation = nil
	m.state.LocationAt = time.Time{}
	m.state.ETAMinutes = nil
}

// Close leaves the job room. Events still in flight are dropped.
func (m *Machine) Close() {
	if m.done() {
		return
	}
	if err := m.conn.Leave(m.room); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		m.log.Debug("leave failed", "error", err)
	}
	m.state.Phase = Closed
	m.state.Connected = false
	m.publish()
}
