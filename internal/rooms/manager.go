// Package rooms tracks which connection belongs to which room.
//
// Membership lives only as long as the transport connection. A client whose
// transport drops must join again after reconnecting; nothing here survives a
// Disconnect.
package rooms

import (
	"sync"
	"time"

	"github.com/example/job-tracking/internal/models"
)

type Member struct {
	ConnID   string
	Room     models.RoomID
	Role     models.Role
	JoinedAt time.Time
}

// JoinResult describes what a Join changed.
type JoinResult struct {
	// Changed is false when the connection was already in the room with the
	// same role.
	Changed bool
	// Previous is the room the connection was moved out of, if any.
	Previous models.RoomID
}

// Manager maps connections to rooms. A connection is in at most one room at
// a time. Several driver-role connections in one room are accepted; keeping
// one driver per job is the assignment workflow's job.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[models.RoomID]map[string]Member
	byConn map[string]Member
	now    func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[models.RoomID]map[string]Member),
		byConn: make(map[string]Member),
		now:    time.Now,
	}
}

// Register puts connID into jobID's room under role.
func (m *Manager) Register(connID, jobID string, role models.Role) JoinResult {
	return m.Join(connID, models.JobRoom(jobID), role)
}

// Join is idempotent. Joining a different room first leaves the current one.
func (m *Manager) Join(connID string, room models.RoomID, role models.Role) JoinResult {
	if room.IsZero() || connID == "" {
		return JoinResult{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res JoinResult
	if cur, ok := m.byConn[connID]; ok {
		if cur.Room == room && cur.Role == role {
			return res
		}
		if cur.Room != room {
			res.Previous = cur.Room
		}
		m.removeLocked(cur)
	}
	mem := Member{ConnID: connID, Room: room, Role: role, JoinedAt: m.now()}
	set, ok := m.rooms[room]
	if !ok {
		set = make(map[string]Member)
		m.rooms[room] = set
	}
	set[connID] = mem
	m.byConn[connID] = mem
	res.Changed = true
	return res
}

// Leave removes connID from room. Leaving a room the connection is not in is
// a no-op and reports false.
func (m *Manager) Leave(connID string, room models.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byConn[connID]
	if !ok || cur.Room != room {
		return false
	}
	m.removeLocked(cur)
	return true
}

// Disconnect drops every membership held by connID.
func (m *Manager) Disconnect(connID string) (models.RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byConn[connID]
	if !ok {
		return models.RoomID{}, false
	}
	m.removeLocked(cur)
	return cur.Room, true
}

func (m *Manager) removeLocked(mem Member) {
	delete(m.byConn, mem.ConnID)
	if set, ok := m.rooms[mem.Room]; ok {
		delete(set, mem.ConnID)
		if len(set) == 0 {
			delete(m.rooms, mem.Room)
		}
	}
}

// Members returns a copy of room's membership.
func (m *Manager) Members(room models.RoomID) []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.rooms[room]
	out := make([]Member, 0, len(set))
	for _, mem := range set {
		out = append(out, mem)
	}
	return out
}

func (m *Manager) RoomOf(connID string) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.byConn[connID]
	return mem, ok
}

// Counts reports the number of non-empty rooms and of joined connections.
func (m *Manager) Counts() (rooms, members int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms), len(m.byConn)
}
