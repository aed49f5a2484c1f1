// Package transport is the client end of the relay: a websocket connection
// that redials with backoff and reports connectivity changes alongside
// decoded events on a single channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/models"
)

var ErrNotConnected = errors.New("transport not connected")

type Kind int

const (
	Connected Kind = iota
	Disconnected
	Message
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "message"
}

// Update is one item on the Updates channel. Event is set for Message, Err
// may be set for Disconnected.
type Update struct {
	Kind  Kind
	Event events.Event
	Err   error
}

type Options struct {
	// URL of the relay endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// DriverID identifies a driver connection to the relay. Empty for viewers.
	DriverID  string
	Role      models.Role
	Dialer    *websocket.Dialer
	Backoff   Backoff
	WriteWait time.Duration
	Buffer    int
	Logger    *slog.Logger
}

// Client owns a single relay connection at a time. It is created per
// session; nothing in this package is global.
type Client struct {
	opts    Options
	updates chan Update

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Role == "" {
		opts.Role = models.RoleViewer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, updates: make(chan Update, opts.Buffer)}
}

// Updates is closed when Run returns.
func (c *Client) Updates() <-chan Update { return c.updates }

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	if c.opts.DriverID != "" {
		q := u.Query()
		q.Set("driver_id", c.opts.DriverID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run dials the relay and keeps redialing until ctx is done. Membership is
// not restored on reconnect; consumers re-join on every Connected update.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.updates)
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	log := c.opts.Logger.With("url", endpoint)

	var delay time.Duration
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay = c.opts.Backoff.Next(delay)
			log.Warn("relay dial failed", "error", err, "retry_in", delay)
			if !Sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		delay = 0
		c.setConn(conn)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

		if !c.emit(ctx, Update{Kind: Connected}) {
			stop()
			c.setConn(nil)
			_ = conn.Close()
			return ctx.Err()
		}
		readErr := c.readLoop(ctx, conn)

		stop()
		c.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info("relay connection lost", "error", readErr)
		if !c.emit(ctx, Update{Kind: Disconnected, Err: readErr}) {
			return ctx.Err()
		}
		delay = c.opts.Backoff.Next(delay)
		if !Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := events.Decode(msg)
		if err != nil {
			c.opts.Logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		if !c.emit(ctx, Update{Kind: Message, Event: ev}) {
			return ctx.Err()
		}
	}
}

func (c *Client) emit(ctx context.Context, u Update) bool {
	select {
	case c.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send writes ev on the current connection. It fails with ErrNotConnected
// while the client is between connections; callers treat that as a dropped
// best-effort publish.
func (c *Client) Send(ev events.Event) error {
	b, err := events.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

func (c *Client) Join(room models.RoomID) error {
	return c.Send(events.Join{Role: c.opts.Role, Room: room})
}

func (c *Client) Leave(room models.RoomID) error {
	return c.Send(events.Leave{Role: c.opts.Role, Room: room})
}
