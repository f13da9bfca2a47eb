// Package signaling drives the persistent duplex socket carrying JSON
// signaling messages between the client and the inference backend.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apisignaling "github.com/tern/realtime-monitor-session/api/signaling"
)

// Status is the signaling socket lifecycle, independent of peer-connection
// state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// ErrNotOpen is returned by Send when the socket is not open. Callers must
// surface it rather than buffer and retry silently.
var ErrNotOpen = errors.New("signaling transport is not open")

// ErrUnreachable marks a dial failure where the server could not be reached.
var ErrUnreachable = errors.New("signaling server unreachable")

// Handler receives every inbound signaling message.
type Handler func(apisignaling.Envelope)

// StatusHandler receives socket lifecycle transitions.
type StatusHandler func(Status)

// Config controls transport behavior.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
}

// Dependencies wires seams for tests and runtime integrations.
type Dependencies struct {
	Logger *zap.Logger
	Dialer *websocket.Dialer
}

type handlerEntry struct {
	id int
	fn Handler
}

type statusEntry struct {
	id int
	fn StatusHandler
}

// Transport is a WebSocket-backed signaling channel with ordered fan-out
// delivery to all subscribed handlers.
type Transport struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	status     Status
	generation int
	nextID     int
	handlers   []handlerEntry
	statusSubs []statusEntry
}

// New constructs a Transport for one signaling endpoint.
func New(cfg Config, deps Dependencies) (*Transport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("signaling url is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Dialer == nil {
		d := *websocket.DefaultDialer
		deps.Dialer = &d
	}
	deps.Dialer.HandshakeTimeout = cfg.HandshakeTimeout

	return &Transport{
		cfg:    cfg,
		log:    deps.Logger,
		dialer: deps.Dialer,
		status: StatusClosed,
	}, nil
}

// URL returns the endpoint this transport dials.
func (t *Transport) URL() string {
	return t.cfg.URL
}

// Status returns the current socket lifecycle state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect opens the socket and returns once it is usable. Connecting an
// already-open transport is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.status == StatusOpen {
		t.mu.Unlock()
		return nil
	}
	if t.status == StatusConnecting || t.status == StatusClosing {
		t.mu.Unlock()
		return fmt.Errorf("signaling transport is %s", t.status)
	}
	notify := t.setStatusLocked(StatusConnecting)
	t.mu.Unlock()
	notify()

	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		t.mu.Lock()
		notify = t.setStatusLocked(StatusClosed)
		t.mu.Unlock()
		notify()
		return classifyDialError(t.cfg.URL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.generation++
	gen := t.generation
	notify = t.setStatusLocked(StatusOpen)
	t.mu.Unlock()
	notify()

	go t.readLoop(conn, gen)
	return nil
}

// Send serializes and transmits one signaling message. It fails with
// ErrNotOpen when the socket is not open.
func (t *Transport) Send(env apisignaling.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	open := t.status == StatusOpen
	t.mu.Unlock()
	if !open || conn == nil {
		return fmt.Errorf("send %s: %w", env.Type, ErrNotOpen)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	// gorilla connections do not allow concurrent writers.
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Subscribe registers a fan-out message handler and returns its disposer.
// Every registered handler receives every inbound message, in arrival order.
func (t *Transport) Subscribe(fn Handler) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers = append(t.handlers, handlerEntry{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, entry := range t.handlers {
			if entry.id == id {
				t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnStatus registers a lifecycle transition handler and returns its disposer.
func (t *Transport) OnStatus(fn StatusHandler) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.statusSubs = append(t.statusSubs, statusEntry{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, entry := range t.statusSubs {
			if entry.id == id {
				t.statusSubs = append(t.statusSubs[:i], t.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// Disconnect tears the socket down. Message handlers are detached before the
// socket closes so no handler fires during or after teardown. Safe to call
// repeatedly or before Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.status == StatusClosed && t.conn == nil {
		t.mu.Unlock()
		return
	}
	notifyClosing := t.setStatusLocked(StatusClosing)
	// Detach handlers and invalidate the read-loop generation first: a read
	// completing during close must not reach any subscriber.
	t.handlers = nil
	t.generation++
	conn := t.conn
	t.conn = nil
	notifyClosed := t.setStatusLocked(StatusClosed)
	t.mu.Unlock()
	notifyClosing()
	notifyClosed()

	if conn != nil {
		t.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stale := gen != t.generation
			notify := func() {}
			if !stale {
				t.conn = nil
				notify = t.setStatusLocked(StatusClosed)
			}
			t.mu.Unlock()
			notify()
			if !stale {
				t.log.Warn("signaling socket closed", zap.Error(err))
				_ = conn.Close()
			}
			return
		}

		env, err := apisignaling.Decode(raw)
		if err != nil {
			// Malformed frames are dropped; they must not crash the transport.
			t.log.Warn("dropping malformed signaling message", zap.Error(err))
			continue
		}

		t.mu.Lock()
		if gen != t.generation {
			t.mu.Unlock()
			return
		}
		handlers := make([]Handler, 0, len(t.handlers))
		for _, entry := range t.handlers {
			handlers = append(handlers, entry.fn)
		}
		t.mu.Unlock()

		for _, fn := range handlers {
			fn(env)
		}
	}
}

// setStatusLocked updates status and returns the notification for the caller
// to run after releasing mu, keeping delivery ordered per transition source.
func (t *Transport) setStatusLocked(status Status) func() {
	if t.status == status {
		return func() {}
	}
	t.status = status
	subs := make([]StatusHandler, 0, len(t.statusSubs))
	for _, entry := range t.statusSubs {
		subs = append(subs, entry.fn)
	}
	return func() {
		for _, fn := range subs {
			fn(status)
		}
	}
}

func classifyDialError(url string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("dial %s: %w: %v", url, ErrUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("dial %s: %w: %v", url, ErrUnreachable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("dial %s: %w: %v", url, ErrUnreachable, err)
	}
	return fmt.Errorf("dial %s: %w", url, err)
}
