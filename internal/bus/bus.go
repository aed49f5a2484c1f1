// Package bus is the room-scoped publish/subscribe relay.
//
// Delivery is fire-and-forget and at-most-once. Each peer owns a FIFO
// outbound queue, so events a single publisher sends into a room reach every
// member in the order they were published. A peer whose queue is full loses
// the event; nothing is retried or persisted.
package bus

import (
	"log/slog"
	"sync"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/observability"
	"github.com/example/job-tracking/internal/rooms"
)

// Peer is the bus's view of one transport connection.
type Peer interface {
	ID() string
	// Enqueue hands ev to the connection's outbound queue without blocking.
	// It reports false when the queue is full or the connection is gone.
	Enqueue(ev events.Event) bool
}

// DriverPeer is a Peer opened by an identified driver. Such peers can be
// addressed by driver id outside any room.
type DriverPeer interface {
	Peer
	DriverID() string
}

type Bus struct {
	rooms  *rooms.Manager
	logger *slog.Logger

	mu      sync.RWMutex
	peers   map[string]Peer
	drivers map[string]map[string]struct{} // driver id -> conn ids
}

func New(r *rooms.Manager, logger *slog.Logger) *Bus {
	if r == nil {
		r = rooms.NewManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rooms: r, logger: logger, peers: make(map[string]Peer), drivers: make(map[string]map[string]struct{})}
}

func (b *Bus) Rooms() *rooms.Manager { return b.rooms }

func (b *Bus) Attach(p Peer) {
	b.mu.Lock()
	b.peers[p.ID()] = p
	if id := driverOf(p); id != "" {
		if b.drivers[id] == nil {
			b.drivers[id] = make(map[string]struct{})
		}
		b.drivers[id][p.ID()] = struct{}{}
	}
	n := len(b.peers)
	b.mu.Unlock()
	observability.ConnectionsActive.Set(float64(n))
}

// Detach forgets the peer and drops its room membership.
func (b *Bus) Detach(connID string) {
	b.mu.Lock()
	if id := driverOf(b.peers[connID]); id != "" {
		delete(b.drivers[id], connID)
		if len(b.drivers[id]) == 0 {
			delete(b.drivers, id)
		}
	}
	delete(b.peers, connID)
	n := len(b.peers)
	b.mu.Unlock()
	if room, ok := b.rooms.Disconnect(connID); ok {
		b.logger.Debug("peer detached", "conn_id", connID, "room", room.String())
	}
	observability.ConnectionsActive.Set(float64(n))
	b.syncRoomGauge()
}

// Join adds connID to room and acknowledges with a Joined event. Joining a
// room the connection is already in is a no-op apart from the ack.
func (b *Bus) Join(connID string, room models.RoomID, role models.Role) rooms.JoinResult {
	res := b.rooms.Join(connID, room, role)
	if p := b.peer(connID); p != nil {
		p.Enqueue(events.Joined{Room: room})
	}
	b.syncRoomGauge()
	return res
}

// Leave is idempotent.
func (b *Bus) Leave(connID string, room models.RoomID) bool {
	left := b.rooms.Leave(connID, room)
	b.syncRoomGauge()
	return left
}

// Publish fans ev out to every member of room except the sender. Location
// and status events published into a job room are mirrored to the admin
// room. It returns the number of peers the event was queued for.
func (b *Bus) Publish(from string, room models.RoomID, ev events.Event) int {
	observability.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	n := b.fanout(from, room, ev)
	if room.IsJob() {
		if mirror := adminMirror(ev); mirror != nil {
			n += b.fanout(from, models.AdminRoom, mirror)
		}
	}
	return n
}

// Broadcast publishes a server-originated event.
func (b *Bus) Broadcast(room models.RoomID, ev events.Event) int {
	return b.Publish("", room, ev)
}

// Send delivers ev to one connection only.
func (b *Bus) Send(connID string, ev events.Event) bool {
	p := b.peer(connID)
	if p == nil {
		return false
	}
	return p.Enqueue(ev)
}

// SendToDriver delivers ev to every open connection of driverID and returns
// how many accepted it.
func (b *Bus) SendToDriver(driverID string, ev events.Event) int {
	b.mu.RLock()
	targets := make([]Peer, 0, len(b.drivers[driverID]))
	for connID := range b.drivers[driverID] {
		targets = append(targets, b.peers[connID])
	}
	b.mu.RUnlock()
	n := 0
	for _, p := range targets {
		if p.Enqueue(ev) {
			n++
		} else {
			observability.EventsDropped.WithLabelValues(string(ev.Kind())).Inc()
		}
	}
	return n
}

// DriverOnline reports whether driverID has at least one open connection.
func (b *Bus) DriverOnline(driverID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.drivers[driverID]) > 0
}

func driverOf(p Peer) string {
	if dp, ok := p.(DriverPeer); ok {
		return dp.DriverID()
	}
	return ""
}

func (b *Bus) fanout(from string, room models.RoomID, ev events.Event) int {
	kind := string(ev.Kind())
	members := b.rooms.Members(room)
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, m := range members {
		if m.ConnID == from {
			continue
		}
		p, ok := b.peers[m.ConnID]
		if !ok {
			continue
		}
		if !p.Enqueue(ev) {
			observability.EventsDropped.WithLabelValues(kind).Inc()
			b.logger.Debug("event dropped", "conn_id", m.ConnID, "room", room.String(), "kind", kind)
			continue
		}
		observability.EventsDelivered.WithLabelValues(kind).Inc()
		n++
	}
	return n
}

func (b *Bus) peer(connID string) Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peers[connID]
}

func (b *Bus) syncRoomGauge() {
	n, _ := b.rooms.Counts()
	observability.RoomsActive.Set(float64(n))
}

func adminMirror(ev events.Event) events.Event {
	switch v := ev.(type) {
	case events.LocationUpdate:
		return events.AdminLocation{LocationUpdate: v}
	case events.StatusUpdate:
		return events.AdminStatus{StatusUpdate: v}
	}
	return nil
}
