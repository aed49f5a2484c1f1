// Command driversim plays the driver's app for one job: it drives a straight
// line to the pickup, publishing locations on the way, then walks the job
// through arrival to completion.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/example/job-tracking/internal/api"
	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/logging"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/publisher"
	"github.com/example/job-tracking/internal/transport"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "tracking API base url")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "relay websocket url")
	jobID := flag.String("job", "", "job to drive")
	driverID := flag.String("driver", "", "assigned driver id")
	startLat := flag.Float64("start-lat", 26.10, "starting latitude")
	startLng := flag.Float64("start-lng", -80.20, "starting longitude")
	speed := flag.Float64("speed", 15, "simulated speed in m/s")
	interval := flag.Duration("interval", 3*time.Second, "location publish interval")
	onSite := flag.Duration("on-site", 10*time.Second, "time spent on site before completing")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *jobID == "" || *driverID == "" {
		fmt.Fprintln(os.Stderr, "--job and --driver are required")
		os.Exit(2)
	}
	logger := logging.NewLogger(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := api.NewClient(*apiURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	snap, err := client.Snapshot(ctx, *jobID)
	if err != nil {
		logger.Error("fetch job", "job_id", *jobID, "error", err)
		os.Exit(1)
	}
	if snap.Pickup == nil {
		logger.Error("job has no pickup location", "job_id", *jobID)
		os.Exit(1)
	}

	route := &straightLine{
		at:    models.Coord{Lat: *startLat, Lng: *startLng},
		to:    *snap.Pickup,
		speed: *speed,
		last:  time.Now(),
		now:   time.Now,
	}
	conn := transport.New(transport.Options{URL: *wsURL, DriverID: *driverID, Role: models.RoleDriver, Logger: logger})
	pub := publisher.New(*jobID, *driverID, snap.Status, route, conn, publisher.Config{Interval: *interval, Logger: logger})

	go func() { _ = conn.Run(ctx) }()
	go drive(ctx, pub, route, *onSite, logger)

	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("publisher stopped", "error", err)
		os.Exit(1)
	}
}

// drive walks the job through its driver-side statuses as the route
// progresses.
func drive(ctx context.Context, pub *publisher.Publisher, route *straightLine, onSite time.Duration, logger *slog.Logger) {
	steps := []models.Status{models.StatusEnRoute, models.StatusArrived, models.StatusInProgress, models.StatusCompleted}
	for _, next := range steps {
		if !pub.Status().CanTransitionTo(next) {
			continue
		}
		switch next {
		case models.StatusArrived:
			for !route.Arrived() {
				if !transport.Sleep(ctx, time.Second) {
					return
				}
			}
		case models.StatusCompleted:
			if !transport.Sleep(ctx, onSite) {
				return
			}
		}
		for {
			err := pub.MarkStatus(ctx, next)
			if err == nil {
				logger.Info("status marked", "status", next)
				break
			}
			if errors.Is(err, publisher.ErrJobFinished) {
				return
			}
			logger.Warn("mark status failed, retrying", "status", next, "error", err)
			if !transport.Sleep(ctx, time.Second) {
				return
			}
		}
	}
}

// straightLine is a publisher.LocationSource that moves towards a target at
// a constant speed.
type straightLine struct {
	mu    sync.Mutex
	at    models.Coord
	to    models.Coord
	speed float64
	last  time.Time
	now   func() time.Time
}

func (s *straightLine) Current(context.Context) (models.Coord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	step := s.speed * now.Sub(s.last).Seconds()
	s.last = now
	remaining := geo.Distance(s.at, s.to)
	if remaining <= step || remaining == 0 {
		s.at = s.to
		return s.at, nil
	}
	f := step / remaining
	s.at = models.Coord{
		Lat: s.at.Lat + (s.to.Lat-s.at.Lat)*f,
		Lng: s.at.Lng + (s.to.Lng-s.at.Lng)*f,
	}
	return s.at, nil
}

func (s *straightLine) Arrived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geo.Distance(s.at, s.to) < 25
}
