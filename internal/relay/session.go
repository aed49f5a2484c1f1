package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/job-tracking/internal/events"
)

// Session represents one connected websocket client. Outbound events go
// through a bounded queue drained by a single writer goroutine, which keeps
// per-connection delivery FIFO.
type Session struct {
	id       string
	driverID string
	conn     *websocket.Conn
	send     chan events.Event

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, driverID string, queue int) *Session {
	return &Session{
		id:       uuid.NewString(),
		driverID: driverID,
		conn:     conn,
		send:     make(chan events.Event, queue),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// DriverID is the driver the connection identified as, or "".
func (s *Session) DriverID() string { return s.driverID }

// Enqueue never blocks; a full queue or a closed session drops the event.
func (s *Session) Enqueue(ev events.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writePump(cfg Config, onError func(error)) {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case ev := <-s.send:
			b, err := events.Encode(ev)
			if err != nil {
				onError(err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				onError(err)
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(cfg.WriteWait))
			return
		}
	}
}
