// Command tracker follows one job from the viewer's side and prints every
// state change.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/example/job-tracking/internal/api"
	"github.com/example/job-tracking/internal/logging"
	"github.com/example/job-tracking/internal/mapsync"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/timeline"
	"github.com/example/job-tracking/internal/tracking"
	"github.com/example/job-tracking/internal/transport"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "tracking API base url")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "relay websocket url")
	jobID := flag.String("job", "", "job to follow")
	speed := flag.Float64("speed", 8, "assumed driver speed in m/s for ETA")
	ttl := flag.Duration("location-ttl", 2*time.Minute, "forget a driver location not refreshed for this long (0 disables)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "--job is required")
		os.Exit(2)
	}
	logger := logging.New(os.Stderr, *logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := api.NewClient(*apiURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	conn := transport.New(transport.Options{URL: *wsURL, Logger: logger})
	m := tracking.New(*jobID, client, conn, tracking.Config{SpeedMps: *speed, LocationTTL: *ttl, Logger: logger})

	markers := mapsync.New(&consoleMap{w: os.Stdout})
	m.Store().Subscribe(markers.Apply)
	m.Store().Subscribe(func(st tracking.State) { printState(os.Stdout, st) })

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	go func() {
		if err := conn.Run(connCtx); err != nil && connCtx.Err() == nil {
			logger.Error("transport stopped", "error", err)
		}
	}()

	if err := m.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tracking %s: %v\n", *jobID, err)
		os.Exit(1)
	}
}

func printState(w io.Writer, st tracking.State) {
	indicator := "reconnecting"
	if st.Live() {
		indicator = "live"
	}
	driver, etaText := "-", "-"
	if st.DriverLocation != nil {
		driver = fmt.Sprintf("%.5f,%.5f", st.DriverLocation.Lat, st.DriverLocation.Lng)
	}
	if st.ETAMinutes != nil {
		etaText = fmt.Sprintf("%d min", *st.ETAMinutes)
	}
	fmt.Fprintf(w, "[%s/%s] status=%s driver=%s eta=%s %s\n", st.Phase, indicator, st.Status, driver, etaText, renderTimeline(st.Status))
}

func renderTimeline(s models.Status) string {
	v := timeline.Render(s)
	if v.Cancelled {
		return "(cancelled)"
	}
	parts := make([]string, len(v.Steps))
	for i, st := range v.Steps {
		switch st.State {
		case timeline.Done:
			parts[i] = "[x] " + st.Label
		case timeline.Active:
			parts[i] = "[>] " + st.Label
		default:
			parts[i] = "[ ] " + st.Label
		}
	}
	return strings.Join(parts, " ")
}

// consoleMap is a mapsync.Renderer that prints marker changes.
type consoleMap struct{ w io.Writer }

func (c *consoleMap) AddMarker(kind mapsync.MarkerKind, at models.Coord) mapsync.Marker {
	fmt.Fprintf(c.w, "map: %s marker at %.5f,%.5f\n", kind, at.Lat, at.Lng)
	return &consoleMarker{w: c.w, kind: kind}
}

type consoleMarker struct {
	w    io.Writer
	kind mapsync.MarkerKind
}

func (m *consoleMarker) Move(at models.Coord) {
	fmt.Fprintf(m.w, "map: %s marker moved to %.5f,%.5f\n", m.kind, at.Lat, at.Lng)
}

func (m *consoleMarker) Remove() { fmt.Fprintf(m.w, "map: %s marker removed\n", m.kind) }
