package eventsock

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions() Options {
	return Options{
		MaxReconnectAttempts:  5,
		ReconnectInitialDelay: 2 * time.Millisecond,
		ReconnectMaxDelay:     10 * time.Millisecond,
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// holdOpen keeps the server side of a connection alive until the peer closes.
func holdOpen(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestSocket_RejectsBadEndpointScheme(t *testing.T) {
	if _, err := New("ftp://example.com", Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSocket_EmitRequiresConnection(t *testing.T) {
	s, err := New("http://127.0.0.1:1", Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Emit("ping", nil, nil); err != ErrNotConnected {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestSocket_EmitAckRoundTrip(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := parseFrame(data)
			if err != nil || f.Ack == 0 {
				continue
			}
			resp := fmt.Sprintf(`{"ack":%d,"args":["ok",{"answer":42}]}`, f.Ack)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	})

	s, err := New(srv.URL, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	connected := make(chan struct{})
	s.On(EventConnect, func(json.RawMessage) { close(connected) })
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	waitSignal(t, connected, "connect")

	acked := make(chan []json.RawMessage, 1)
	err = s.Emit("query", map[string]any{"q": "answer"}, func(args []json.RawMessage) {
		acked <- args
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case args := <-acked:
		if len(args) != 2 {
			t.Fatalf("unexpected args: %v", args)
		}
		var status string
		if err := json.Unmarshal(args[0], &status); err != nil || status != "ok" {
			t.Fatalf("unexpected status: %s", args[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for ack")
	}
}

func TestSocket_DispatchesServerEventsInOrder(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			msg := fmt.Sprintf(`{"event":"text","payload":{"seq":%d}}`, i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		holdOpen(conn)
	})

	s, err := New(srv.URL, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var seqs []int
	gotAll := make(chan struct{})
	s.On("text", func(payload json.RawMessage) {
		var p struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Errorf("bad payload: %s", payload)
			return
		}
		seqs = append(seqs, p.Seq)
		if len(seqs) == 3 {
			close(gotAll)
		}
	})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	waitSignal(t, gotAll, "three text events")
	for i, seq := range seqs {
		if seq != i {
			t.Fatalf("out of order: %v", seqs)
		}
	}
}

func TestSocket_DispatchesToAllHandlersForEvent(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"text","payload":{"seq":0}}`)); err != nil {
			return
		}
		holdOpen(conn)
	})

	s, err := New(srv.URL, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	both := make(chan struct{})
	var first, second bool
	s.On("text", func(json.RawMessage) {
		first = true
		if second {
			close(both)
		}
	})
	s.On("text", func(json.RawMessage) {
		second = true
		if first {
			close(both)
		}
	})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	waitSignal(t, both, "both handlers")
}

func TestSocket_ReconnectsAfterTransientDrop(t *testing.T) {
	var conns atomic.Int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.Close()
			return
		}
		holdOpen(conn)
	})

	s, err := New(srv.URL, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var connects atomic.Int32
	reconnected := make(chan struct{})
	var attempts []int
	s.On(EventConnect, func(json.RawMessage) {
		if connects.Add(1) == 2 {
			close(reconnected)
		}
	})
	s.On(EventReconnecting, func(payload json.RawMessage) {
		var p struct {
			Attempt int `json:"attempt"`
		}
		_ = json.Unmarshal(payload, &p)
		attempts = append(attempts, p.Attempt)
	})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	waitSignal(t, reconnected, "reconnect")
	if len(attempts) == 0 || attempts[0] != 1 {
		t.Fatalf("unexpected attempts: %v", attempts)
	}
}

func TestSocket_GivesUpAfterMaxAttempts(t *testing.T) {
	// An address nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	endpoint := "http://" + ln.Addr().String()
	ln.Close()

	opts := testOptions()
	opts.MaxReconnectAttempts = 3
	s, err := New(endpoint, opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var mu sync.Mutex
	counts := map[string]int{}
	record := func(event string) func(json.RawMessage) {
		return func(json.RawMessage) {
			mu.Lock()
			counts[event]++
			mu.Unlock()
		}
	}
	s.On(EventConnect, record(EventConnect))
	s.On(EventConnectError, record(EventConnectError))
	s.On(EventReconnecting, record(EventReconnecting))
	s.On(EventDisconnect, record(EventDisconnect))
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		done := counts[EventConnectError] >= 4
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for give-up: %v", counts)
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let any stray activity surface.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Initial dial plus three bounded retries.
	if counts[EventConnectError] != 4 {
		t.Fatalf("connect_error=%d, want 4", counts[EventConnectError])
	}
	if counts[EventReconnecting] != 3 {
		t.Fatalf("reconnecting=%d, want 3", counts[EventReconnecting])
	}
	if counts[EventConnect] != 0 || counts[EventDisconnect] != 0 {
		t.Fatalf("unexpected lifecycle events: %v", counts)
	}
}

func TestSocket_DisconnectDeliversExactlyOneEvent(t *testing.T) {
	srv := newWSServer(t, holdOpen)

	s, err := New(srv.URL, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	connected := make(chan struct{})
	var disconnects atomic.Int32
	gotDisconnect := make(chan struct{})
	s.On(EventConnect, func(json.RawMessage) { close(connected) })
	s.On(EventDisconnect, func(json.RawMessage) {
		if disconnects.Add(1) == 1 {
			close(gotDisconnect)
		}
	})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitSignal(t, connected, "connect")

	s.Disconnect()
	s.Disconnect()
	waitSignal(t, gotDisconnect, "disconnect")
	time.Sleep(50 * time.Millisecond)

	if n := disconnects.Load(); n != 1 {
		t.Fatalf("disconnect events=%d, want 1", n)
	}
	if s.Connected() {
		t.Fatalf("still connected after disconnect")
	}
}
