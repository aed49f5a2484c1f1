package bus

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/observability"
	"github.com/example/job-tracking/internal/rooms"
)

type fakePeer struct {
	id  string
	cap int

	mu  sync.Mutex
	got []events.Event
}

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) Enqueue(ev events.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cap > 0 && len(f.got) >= f.cap {
		return false
	}
	f.got = append(f.got, ev)
	return true
}

// received returns everything except join acks.
func (f *fakePeer) received() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, ev := range f.got {
		if _, ok := ev.(events.Joined); ok {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func newBus(peers ...*fakePeer) *Bus {
	b := New(rooms.NewManager(), nil)
	for _, p := range peers {
		b.Attach(p)
	}
	return b
}

func loc(job string, lat float64) events.LocationUpdate {
	return events.LocationUpdate{JobID: job, Location: models.Coord{Lat: lat, Lng: -80.14}}
}

func TestPublishStaysInRoom(t *testing.T) {
	driver, viewer, other := &fakePeer{id: "d"}, &fakePeer{id: "v"}, &fakePeer{id: "o"}
	b := newBus(driver, viewer, other)
	b.Join("d", models.JobRoom("j1"), models.RoleDriver)
	b.Join("v", models.JobRoom("j1"), models.RoleViewer)
	b.Join("o", models.JobRoom("j2"), models.RoleViewer)

	if n := b.Publish("d", models.JobRoom("j1"), loc("j1", 26.1)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(viewer.received()) != 1 {
		t.Fatalf("viewer got %d events", len(viewer.received()))
	}
	if len(other.received()) != 0 {
		t.Fatalf("event leaked into another room")
	}
	if len(driver.received()) != 0 {
		t.Fatalf("publisher received its own event")
	}
}

func TestSinglePublisherFIFO(t *testing.T) {
	driver, viewer := &fakePeer{id: "d"}, &fakePeer{id: "v"}
	b := newBus(driver, viewer)
	room := models.JobRoom("j1")
	b.Join("d", room, models.RoleDriver)
	b.Join("v", room, models.RoleViewer)
	for i := 0; i < 50; i++ {
		b.Publish("d", room, loc("j1", float64(i)))
	}
	got := viewer.received()
	if len(got) != 50 {
		t.Fatalf("expected 50 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.(events.LocationUpdate).Location.Lat != float64(i) {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
	}
}

func TestJoinAck(t *testing.T) {
	v := &fakePeer{id: "v"}
	b := newBus(v)
	b.Join("v", models.JobRoom("j1"), models.RoleViewer)
	if len(v.got) != 1 {
		t.Fatalf("expected a join ack")
	}
	if ack, ok := v.got[0].(events.Joined); !ok || ack.Room != models.JobRoom("j1") {
		t.Fatalf("unexpected ack %+v", v.got[0])
	}
}

func TestAdminMirror(t *testing.T) {
	driver, admin := &fakePeer{id: "d"}, &fakePeer{id: "a"}
	b := newBus(driver, admin)
	b.Join("d", models.JobRoom("j1"), models.RoleDriver)
	b.Join("a", models.AdminRoom, models.RoleAdmin)

	b.Publish("d", models.JobRoom("j1"), loc("j1", 1))
	b.Broadcast(models.JobRoom("j1"), events.StatusUpdate{JobID: "j1", Status: models.StatusEnRoute})
	got := admin.received()
	if len(got) != 2 {
		t.Fatalf("admin got %d events", len(got))
	}
	if _, ok := got[0].(events.AdminLocation); !ok {
		t.Fatalf("expected AdminLocation, got %T", got[0])
	}
	if st, ok := got[1].(events.AdminStatus); !ok || st.Status != models.StatusEnRoute {
		t.Fatalf("expected AdminStatus, got %+v", got[1])
	}
}

func TestFullQueueDrops(t *testing.T) {
	driver, slow := &fakePeer{id: "d"}, &fakePeer{id: "s", cap: 2}
	b := newBus(driver, slow)
	room := models.JobRoom("j1")
	b.Join("d", room, models.RoleDriver)
	b.Join("s", room, models.RoleViewer) // the ack takes one slot

	before := testutil.ToFloat64(observability.EventsDropped.WithLabelValues(string(events.KindDriverLocation)))
	b.Publish("d", room, loc("j1", 1))
	b.Publish("d", room, loc("j1", 2))
	after := testutil.ToFloat64(observability.EventsDropped.WithLabelValues(string(events.KindDriverLocation)))
	if len(slow.received()) != 1 {
		t.Fatalf("expected one delivered event, got %d", len(slow.received()))
	}
	if after-before != 1 {
		t.Fatalf("expected one dropped event, got %v", after-before)
	}
}

func TestDetachDropsMembershipAndDeliveries(t *testing.T) {
	driver, viewer := &fakePeer{id: "d"}, &fakePeer{id: "v"}
	b := newBus(driver, viewer)
	room := models.JobRoom("j1")
	b.Join("d", room, models.RoleDriver)
	b.Join("v", room, models.RoleViewer)
	b.Detach("v")
	if n := b.Publish("d", room, loc("j1", 1)); n != 0 {
		t.Fatalf("expected no deliveries after detach, got %d", n)
	}
	if _, ok := b.Rooms().RoomOf("v"); ok {
		t.Fatalf("detached peer still has membership")
	}
	if b.Send("v", loc("j1", 2)) {
		t.Fatalf("send to detached peer should fail silently")
	}
}

func TestLeaveThenPublishIsSilentlyDropped(t *testing.T) {
	driver, viewer := &fakePeer{id: "d"}, &fakePeer{id: "v"}
	b := newBus(driver, viewer)
	room := models.JobRoom("j1")
	b.Join("d", room, models.RoleDriver)
	b.Join("v", room, models.RoleViewer)
	if !b.Leave("v", room) || b.Leave("v", room) {
		t.Fatalf("leave should succeed once then be a no-op")
	}
	b.Publish("d", room, loc("j1", 1))
	if len(viewer.received()) != 0 {
		t.Fatalf("viewer received after leaving")
	}
}

type driverPeer struct {
	*fakePeer
	driverID string
}

func (d driverPeer) DriverID() string { return d.driverID }

func TestSendToDriverReachesEveryConnection(t *testing.T) {
	phone := driverPeer{&fakePeer{id: "c1"}, "d1"}
	tablet := driverPeer{&fakePeer{id: "c2"}, "d1"}
	other := driverPeer{&fakePeer{id: "c3"}, "d2"}
	viewer := &fakePeer{id: "c4"}
	b := New(rooms.NewManager(), nil)
	for _, p := range []Peer{phone, tablet, other, viewer} {
		b.Attach(p)
	}

	offer := events.JobOffer{JobID: "j1", Status: models.StatusPending}
	if n := b.SendToDriver("d1", offer); n != 2 {
		t.Fatalf("expected delivery to both d1 connections, got %d", n)
	}
	if len(phone.received()) != 1 || len(tablet.received()) != 1 || len(other.received()) != 0 || len(viewer.received()) != 0 {
		t.Fatalf("offer reached the wrong peers")
	}

	b.Detach("c1")
	if !b.DriverOnline("d1") {
		t.Fatalf("d1 still has a connection")
	}
	b.Detach("c2")
	if b.DriverOnline("d1") {
		t.Fatalf("d1 should be offline")
	}
	if n := b.SendToDriver("d1", offer); n != 0 {
		t.Fatalf("offline driver received %d", n)
	}
}
