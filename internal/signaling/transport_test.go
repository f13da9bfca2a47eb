package signaling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apisignaling "github.com/tern/realtime-monitor-session/api/signaling"
)

func newWSServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestTransport(t *testing.T, url string) *Transport {
	t.Helper()
	tr, err := New(Config{URL: url}, Dependencies{})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	t.Cleanup(tr.Disconnect)
	return tr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestSendBeforeConnectFailsNotOpen(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, "ws://example.invalid/ws")
	err := tr.Send(apisignaling.NewOffer("v=0", "offer"))
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected not-open error, got %v", err)
	}
}

func TestConnectDeliversMessagesInOrder(t *testing.T) {
	t.Parallel()

	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome","client_id":"c-1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","sdp":"v=0","sdpType":"answer"}`))
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := newTestTransport(t, url)
	var mu sync.Mutex
	var got []apisignaling.MessageType
	tr.Subscribe(func(env apisignaling.Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if tr.Status() != StatusOpen {
		t.Fatalf("expected open status, got %s", tr.Status())
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != apisignaling.TypeWelcome || got[1] != apisignaling.TypeAnswer {
		t.Fatalf("expected welcome then answer, got %v", got)
	}
}

func TestConnectTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := newTestTransport(t, url)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("expected second connect to be a no-op, got %v", err)
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	t.Parallel()

	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome","client_id":"c-2"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := newTestTransport(t, url)
	var mu sync.Mutex
	var got []apisignaling.Envelope
	tr.Subscribe(func(env apisignaling.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0].ClientID != "c-2" {
		t.Fatalf("expected valid message delivered after malformed one, got %+v", got[0])
	}
	if tr.Status() != StatusOpen {
		t.Fatalf("expected transport to survive malformed frame, got %s", tr.Status())
	}
}

func TestSendRoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- raw
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := newTestTransport(t, url)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if err := tr.Send(apisignaling.NewOffer("v=0", "offer")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case raw := <-received:
		env, err := apisignaling.Decode(raw)
		if err != nil {
			t.Fatalf("server received malformed frame: %v", err)
		}
		if env.Type != apisignaling.TypeOffer || env.SDP != "v=0" || env.SDPType != "offer" {
			t.Fatalf("unexpected wire envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the offer")
	}
}

func TestDisconnectTwiceDetachesHandlers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	url := newWSServer(t, func(conn *websocket.Conn) {
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome","client_id":"late"}`))
	})

	tr := newTestTransport(t, url)
	var mu sync.Mutex
	calls := 0
	tr.Subscribe(func(env apisignaling.Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	tr.Disconnect()
	tr.Disconnect()
	if tr.Status() != StatusClosed {
		t.Fatalf("expected closed status, got %s", tr.Status())
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no handler invocation after disconnect, got %d", calls)
	}
}

func TestConnectUnreachableServer(t *testing.T) {
	t.Parallel()

	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected listen error: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tr := newTestTransport(t, "ws://"+addr+"/ws")
	err = tr.Connect(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if tr.Status() != StatusClosed {
		t.Fatalf("expected closed status after failed connect, got %s", tr.Status())
	}
}

func TestStatusTransitionsAreObservable(t *testing.T) {
	t.Parallel()

	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := newTestTransport(t, url)
	var mu sync.Mutex
	var seen []Status
	tr.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	tr.Disconnect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 4
	})
	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusOpen, StatusClosing, StatusClosed}
	for i, s := range want {
		if seen[i] != s {
			t.Fatalf("expected status sequence %v, got %v", want, seen)
		}
	}
}
