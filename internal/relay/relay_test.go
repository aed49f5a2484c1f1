package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/job-tracking/internal/bus"
	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/jobs"
	"github.com/example/job-tracking/internal/matcher"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/rooms"
	"github.com/example/job-tracking/internal/storage"
)

type fixture struct {
	srv   *httptest.Server
	svc   *jobs.Service
	index *geo.MemoryIndex
}

func newTestRelay(t *testing.T, status models.Status) (*httptest.Server, *jobs.Service) {
	t.Helper()
	f := newFixture(t, status)
	return f.srv, f.svc
}

func newFixture(t *testing.T, status models.Status) fixture {
	t.Helper()
	b := bus.New(rooms.NewManager(), nil)
	store := storage.NewMemoryStore()
	_ = store.SaveJob(context.Background(), &models.Job{ID: "j1", Status: status, DriverID: "d1", Pickup: models.Coord{Lat: 26.1224, Lng: -80.1373}})
	index := geo.NewMemoryIndex()
	fleet := &matcher.Service{Index: index, Notify: b}
	svc := &jobs.Service{Store: store, Locations: geo.NewMemoryCache(0), Bus: b, Announcer: fleet, SpeedMps: 10}
	srv := httptest.NewServer(New(b, svc, fleet, nil, DefaultConfig()))
	t.Cleanup(srv.Close)
	return fixture{srv: srv, svc: svc, index: index}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, ev events.Event) {
	t.Helper()
	b, err := events.Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func next(t *testing.T, c *websocket.Conn) events.Event {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := events.Decode(msg)
	if err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return ev
}

func expectJoined(t *testing.T, c *websocket.Conn) {
	t.Helper()
	if _, ok := next(t, c).(events.Joined); !ok {
		t.Fatalf("expected join ack")
	}
}

func TestDriverLocationReachesViewer(t *testing.T) {
	srv, _ := newTestRelay(t, models.StatusEnRoute)
	driver := dial(t, srv, "?driver_id=d1")
	viewer := dial(t, srv, "")

	send(t, driver, events.Join{Role: models.RoleDriver, Room: models.JobRoom("j1")})
	expectJoined(t, driver)
	send(t, viewer, events.Join{Role: models.RoleViewer, Room: models.JobRoom("j1")})
	expectJoined(t, viewer)

	send(t, driver, events.LocationUpdate{JobID: "j1", Location: models.Coord{Lat: 26.12, Lng: -80.14}})
	got, ok := next(t, viewer).(events.LocationUpdate)
	if !ok {
		t.Fatalf("expected a location update")
	}
	if got.Location != (models.Coord{Lat: 26.12, Lng: -80.14}) || got.DriverID != "d1" {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestViewerCannotPublishLocation(t *testing.T) {
	srv, _ := newTestRelay(t, models.StatusEnRoute)
	viewer := dial(t, srv, "")
	send(t, viewer, events.Join{Role: models.RoleViewer, Room: models.JobRoom("j1")})
	expectJoined(t, viewer)
	send(t, viewer, events.LocationUpdate{JobID: "j1", Location: models.Coord{Lat: 1, Lng: 1}})
	if _, ok := next(t, viewer).(events.ErrorNotice); !ok {
		t.Fatalf("expected an error notice")
	}
}

func TestDriverStatusIsPersistedAndBroadcast(t *testing.T) {
	srv, svc := newTestRelay(t, models.StatusAssigned)
	driver := dial(t, srv, "?driver_id=d1")
	viewer := dial(t, srv, "")
	send(t, driver, events.Join{Role: models.RoleDriver, Room: models.JobRoom("j1")})
	expectJoined(t, driver)
	send(t, viewer, events.Join{Role: models.RoleViewer, Room: models.JobRoom("j1")})
	expectJoined(t, viewer)

	send(t, driver, events.StatusUpdate{JobID: "j1", Status: models.StatusEnRoute})
	got, ok := next(t, viewer).(events.StatusUpdate)
	if !ok || got.Status != models.StatusEnRoute {
		t.Fatalf("expected en_route broadcast, got %+v", got)
	}
	j, err := svc.Job(context.Background(), "j1")
	if err != nil || j.Status != models.StatusEnRoute {
		t.Fatalf("status not persisted: %+v %v", j, err)
	}
}

func TestMalformedFrameGetsNotice(t *testing.T) {
	srv, _ := newTestRelay(t, models.StatusEnRoute)
	c := dial(t, srv, "")
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"event":"driver:location","data":{"job_id":"j1"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := next(t, c).(events.ErrorNotice); !ok {
		t.Fatalf("expected an error notice")
	}
}

func TestAnonymousDriverRoleCannotPublish(t *testing.T) {
	srv, svc := newTestRelay(t, models.StatusEnRoute)
	anon := dial(t, srv, "")

	send(t, anon, events.Join{Role: models.RoleDriver, Room: models.JobRoom("j1")})
	if _, ok := next(t, anon).(events.ErrorNotice); !ok {
		t.Fatalf("driver join without driver_id should be refused")
	}
	send(t, anon, events.LocationUpdate{JobID: "j1", Location: models.Coord{Lat: 1, Lng: 1}})
	if _, ok := next(t, anon).(events.ErrorNotice); !ok {
		t.Fatalf("expected an error notice for the location")
	}
	send(t, anon, events.StatusUpdate{JobID: "j1", Status: models.StatusCancelled})
	if _, ok := next(t, anon).(events.ErrorNotice); !ok {
		t.Fatalf("expected an error notice for the status")
	}

	snap, err := svc.Snapshot(context.Background(), "j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != models.StatusEnRoute || snap.DriverLocation != nil {
		t.Fatalf("anonymous connection changed the job: %+v", snap)
	}
}

func TestOtherDriverCannotJoinAsDriver(t *testing.T) {
	srv, svc := newTestRelay(t, models.StatusEnRoute)
	other := dial(t, srv, "?driver_id=d2")
	send(t, other, events.Join{Role: models.RoleDriver, Room: models.JobRoom("j1")})
	notice, ok := next(t, other).(events.ErrorNotice)
	if !ok || !strings.Contains(notice.Message, "not assigned") {
		t.Fatalf("expected a not-assigned notice, got %+v", notice)
	}
	send(t, other, events.StatusUpdate{JobID: "j1", Status: models.StatusCancelled})
	if _, ok := next(t, other).(events.ErrorNotice); !ok {
		t.Fatalf("expected an error notice for the status")
	}
	if j, _ := svc.Job(context.Background(), "j1"); j.Status != models.StatusEnRoute {
		t.Fatalf("job moved to %s", j.Status)
	}
}

func TestNewJobAlertsNearbyDriver(t *testing.T) {
	f := newFixture(t, models.StatusEnRoute)
	idle := dial(t, f.srv, "?driver_id=d7")
	send(t, idle, events.DriverPosition{Location: models.Coord{Lat: 26.13, Lng: -80.14}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := f.index.Nearby(context.Background(), models.Coord{Lat: 26.13, Lng: -80.14}, 10, 0)
		if len(got) == 1 && got[0].ID == "d7" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("driver position never indexed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := f.svc.Create(context.Background(), &models.Job{ID: "j2", Pickup: models.Coord{Lat: 26.12, Lng: -80.13}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	offer, ok := next(t, idle).(events.JobOffer)
	if !ok || offer.JobID != "j2" || offer.DistanceM <= 0 {
		t.Fatalf("expected a job:new offer, got %+v", offer)
	}
}
