package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextUpdate(t *testing.T, c *Client) Update {
	t.Helper()
	select {
	case u, ok := <-c.Updates():
		if !ok {
			t.Fatalf("updates closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
	}
	return Update{}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	var dials atomic.Int32
	joins := make(chan string, 4)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := dials.Add(1)
		joins <- r.URL.Query().Get("driver_id")
		if n == 1 {
			return
		}
		b, _ := events.Encode(events.Joined{Room: models.JobRoom("j1")})
		_ = conn.WriteMessage(websocket.TextMessage, b)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(Options{URL: wsURL(srv), DriverID: "d1", Backoff: Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if u := nextUpdate(t, c); u.Kind != Connected {
		t.Fatalf("expected connected, got %v", u.Kind)
	}
	if u := nextUpdate(t, c); u.Kind != Disconnected {
		t.Fatalf("expected disconnected, got %v", u.Kind)
	}
	if u := nextUpdate(t, c); u.Kind != Connected {
		t.Fatalf("expected reconnect, got %v", u.Kind)
	}
	u := nextUpdate(t, c)
	if j, ok := u.Event.(events.Joined); u.Kind != Message || !ok || j.Room != models.JobRoom("j1") {
		t.Fatalf("expected joined message, got %+v", u)
	}
	if id := <-joins; id != "d1" {
		t.Fatalf("driver id not sent, got %q", id)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
	for range c.Updates() {
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	if err := c.Join(models.JobRoom("j1")); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestBackoffCaps(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second}
	d := b.Next(0)
	if d != time.Second {
		t.Fatalf("expected initial delay, got %v", d)
	}
	d = b.Next(b.Next(d))
	if d != 3*time.Second {
		t.Fatalf("expected capped delay, got %v", d)
	}
}
