// A minimal conference signaling server for local E2E runs. It accepts any
// websocket connection, answers login and relogin requests with fresh
// reconnection tickets, acknowledges text sends, and periodically emits
// participant and text events so a probe has something to trace.
//
// Not a real server: no auth, no rooms, single shared state. For tests only.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame mirrors the client transport's wire format: events carry an optional
// ack id the peer answers with, acks carry positional args.
type frame struct {
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ack     uint64          `json:"ack,omitempty"`
	Args    []any           `json:"args,omitempty"`
}

var ticketSeq atomic.Uint64

func nextTicket() string {
	return fmt.Sprintf("ticket-%d", ticketSeq.Add(1))
}

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)
	eventPeriod := time.Duration(envIntOrDefault("EVENT_PERIOD_MS", 3000)) * time.Millisecond

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}
	fmt.Printf("signaling-server listening on ws://%s\n", ln.Addr())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serveConn(conn, eventPeriod)
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	_ = srv.Close()
}

func serveConn(conn *websocket.Conn, eventPeriod time.Duration) {
	defer conn.Close()
	fmt.Printf("client connected: %s\n", conn.RemoteAddr())

	writes := make(chan frame, 16)
	done := make(chan struct{})
	defer close(done)

	// Single writer; the reader and the event ticker both produce frames.
	go func() {
		for {
			select {
			case f := <-writes:
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	go emitEvents(writes, done, eventPeriod)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			fmt.Printf("client gone: %s\n", conn.RemoteAddr())
			return
		}
		handleFrame(f, writes)
	}
}

func handleFrame(f frame, writes chan<- frame) {
	switch f.Event {
	case "login":
		fmt.Printf("login request: %s\n", f.Payload)
		reply(writes, f.Ack, "ok", map[string]any{
			"room":               map[string]string{"id": "e2e-room"},
			"reconnectionTicket": nextTicket(),
		})
	case "relogin":
		fmt.Printf("relogin with ticket %s\n", f.Payload)
		reply(writes, f.Ack, "ok", map[string]any{
			"reconnectionTicket": nextTicket(),
		})
	case "text":
		reply(writes, f.Ack, "ok")
	default:
		fmt.Printf("unhandled event %q\n", f.Event)
		reply(writes, f.Ack, "error", "unknown request")
	}
}

func reply(writes chan<- frame, ack uint64, args ...any) {
	if ack == 0 {
		return
	}
	writes <- frame{Ack: ack, Args: args}
}

// emitEvents feeds the client a steady trickle of room activity.
func emitEvents(writes chan<- frame, done <-chan struct{}, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ticker.C:
		case <-done:
			return
		}
		n++
		var f frame
		switch n % 3 {
		case 0:
			f = frame{Event: "participant", Payload: mustJSON(map[string]any{
				"action": "join",
				"data":   map[string]string{"id": fmt.Sprintf("p%d", n), "role": "presenter"},
			})}
		case 1:
			f = frame{Event: "text", Payload: mustJSON(map[string]string{
				"from":    "server",
				"message": fmt.Sprintf("tick %d", n),
			})}
		case 2:
			f = frame{Event: "stream", Payload: mustJSON(map[string]any{
				"status": "add",
				"id":     fmt.Sprintf("s%d", n),
				"data":   map[string]string{"id": fmt.Sprintf("s%d", n), "type": "forward"},
			})}
		}
		select {
		case writes <- f:
		case <-done:
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q\n", key, v)
		os.Exit(2)
	}
	return n
}
