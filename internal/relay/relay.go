// Package relay exposes the event bus over websockets.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/job-tracking/internal/bus"
	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/jobs"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/observability"
)

type Config struct {
	SendQueue      int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	// HandlerTimeout bounds the store work done for one inbound event.
	HandlerTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendQueue:      64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		HandlerTimeout: 5 * time.Second,
	}
}

// Tracker is the part of the jobs service the relay drives.
type Tracker interface {
	Job(ctx context.Context, id string) (*models.Job, error)
	ReportLocation(ctx context.Context, from string, u events.LocationUpdate) error
	Transition(ctx context.Context, id string, next models.Status, driverID string) (*models.Job, error)
}

// Fleet keeps the driver position index used for new-job alerts.
type Fleet interface {
	TrackDriver(ctx context.Context, driverID string, c models.Coord) error
	DriverOffline(ctx context.Context, driverID string) error
}

var (
	errNotPublisher    = errors.New("only the job's driver may publish into this room")
	errAnonymousDriver = errors.New("driver connections must identify with driver_id")
	errUnexpected      = errors.New("event not accepted from clients")
)

type Relay struct {
	bus      *bus.Bus
	tracker  Tracker
	fleet    Fleet
	logger   *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

// New returns a relay over b. fleet may be nil, which disables driver
// position tracking.
func New(b *bus.Bus, t Tracker, fleet Fleet, logger *slog.Logger, cfg Config) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}
	return &Relay{
		bus:     b,
		tracker: t,
		fleet:   fleet,
		logger:  logger,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// auth happens upstream of the relay
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the session until the peer goes
// away. driver_id in the query string identifies a driver connection.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s := newSession(conn, req.URL.Query().Get("driver_id"), r.cfg.SendQueue)
	r.bus.Attach(s)
	log := r.logger.With("conn_id", s.id)
	log.Debug("relay connection opened", "driver_id", s.driverID)

	go s.writePump(r.cfg, func(err error) { log.Debug("relay write failed", "error", err) })
	r.readLoop(req.Context(), s, log)

	r.bus.Detach(s.id)
	s.close()
	if s.driverID != "" && r.fleet != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HandlerTimeout)
		if err := r.fleet.DriverOffline(ctx, s.driverID); err != nil {
			log.Debug("driver offline update failed", "error", err)
		}
		cancel()
	}
	log.Debug("relay connection closed")
}

func (r *Relay) readLoop(ctx context.Context, s *Session, log *slog.Logger) {
	s.conn.SetReadLimit(r.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
	})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("relay read failed", "error", err)
			}
			return
		}
		ev, err := events.Decode(msg)
		if err != nil {
			observability.EventsRejected.WithLabelValues("malformed").Inc()
			log.Warn("discarding malformed frame", "error", err)
			s.Enqueue(events.ErrorNotice{Message: err.Error()})
			continue
		}
		if err := r.handle(ctx, s, ev); err != nil {
			observability.EventsRejected.WithLabelValues(reason(err)).Inc()
			log.Info("event rejected", "kind", ev.Kind(), "job_id", events.JobIDOf(ev), "error", err)
			s.Enqueue(events.ErrorNotice{Message: err.Error()})
		}
	}
}

func (r *Relay) handle(ctx context.Context, s *Session, ev events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()
	switch v := ev.(type) {
	case events.Join:
		if v.Role == models.RoleDriver {
			if err := r.authorizeDriver(ctx, s, v.Room); err != nil {
				return err
			}
		}
		r.bus.Join(s.id, v.Room, v.Role)
		return nil
	case events.Leave:
		r.bus.Leave(s.id, v.Room)
		return nil
	case events.LocationUpdate:
		if !r.isPublisher(s, v.JobID) {
			return errNotPublisher
		}
		v.DriverID = s.driverID
		if err := r.tracker.ReportLocation(ctx, s.id, v); err != nil {
			return err
		}
		r.trackDriver(ctx, s, v.Location)
		return nil
	case events.StatusUpdate:
		if !r.isPublisher(s, v.JobID) {
			return errNotPublisher
		}
		_, err := r.tracker.Transition(ctx, v.JobID, v.Status, s.driverID)
		return err
	case events.DriverPosition:
		if s.driverID == "" {
			return errAnonymousDriver
		}
		r.trackDriver(ctx, s, v.Location)
		return nil
	}
	return errUnexpected
}

// authorizeDriver admits a driver-role join only for the job's assigned
// driver.
func (r *Relay) authorizeDriver(ctx context.Context, s *Session, room models.RoomID) error {
	if s.driverID == "" {
		return errAnonymousDriver
	}
	if !room.IsJob() {
		return errUnexpected
	}
	j, err := r.tracker.Job(ctx, room.JobID())
	if err != nil {
		return err
	}
	if j.DriverID != s.driverID {
		return jobs.ErrNotAssigned
	}
	return nil
}

func (r *Relay) trackDriver(ctx context.Context, s *Session, c models.Coord) {
	if r.fleet == nil {
		return
	}
	if err := r.fleet.TrackDriver(ctx, s.driverID, c); err != nil {
		r.logger.Debug("driver position update failed", "driver_id", s.driverID, "error", err)
	}
}

func (r *Relay) isPublisher(s *Session, jobID string) bool {
	if s.driverID == "" {
		return false
	}
	m, ok := r.bus.Rooms().RoomOf(s.id)
	return ok && m.Role == models.RoleDriver && m.Room == models.JobRoom(jobID)
}

func reason(err error) string {
	switch {
	case errors.Is(err, errNotPublisher), errors.Is(err, errAnonymousDriver), errors.Is(err, jobs.ErrNotAssigned):
		return "not_publisher"
	case errors.Is(err, jobs.ErrInvalidTransition):
		return "stale_status"
	case errors.Is(err, jobs.ErrJobFinished):
		return "job_finished"
	case errors.Is(err, jobs.ErrJobNotFound):
		return "unknown_job"
	case errors.Is(err, events.ErrMalformed):
		return "malformed"
	}
	return "other"
}
