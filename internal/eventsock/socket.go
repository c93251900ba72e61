package eventsock

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected   = errors.New("eventsock: not connected")
	ErrAlreadyStarted = errors.New("eventsock: already started")
	errBadEndpoint    = errors.New("eventsock: endpoint must be http(s) or ws(s)")
)

// Options configures a Socket.
type Options struct {
	// MaxReconnectAttempts bounds automatic reconnection. After the initial
	// dial, up to this many further attempts are made; the final failure is
	// reported with a last connect_error event and the socket stops.
	MaxReconnectAttempts int

	// TLSConfig overrides certificate trust and hostname verification.
	TLSConfig *tls.Config

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Reconnect delays grow exponentially between these bounds. Exposed so
	// tests can keep episodes short.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	Logger *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReconnectInitialDelay <= 0 {
		o.ReconnectInitialDelay = 250 * time.Millisecond
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.WithField("component", "eventsock")
	}
	return o
}

// Socket is an event-named duplex channel over one websocket.
//
// All handler invocations, for server events and lifecycle events alike, come
// from the socket's single run goroutine, in arrival order. Handlers must not
// block.
type Socket struct {
	endpoint string
	opts     Options
	dialer   *websocket.Dialer
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	conn     *websocket.Conn
	acks     map[int64]func([]json.RawMessage)
	nextAck  int64
	started  bool
	closed   bool

	writeMu sync.Mutex

	// attempts is owned by the run goroutine.
	attempts int
}

// New builds a socket for an http(s) or ws(s) endpoint URL. http(s) schemes
// are rewritten to their websocket counterparts.
func New(endpoint string, opts Options) (*Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("eventsock: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %q", errBadEndpoint, u.Scheme)
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		endpoint: u.String(),
		opts:     opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			TLSClientConfig:  opts.TLSConfig,
		},
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string][]func(json.RawMessage)),
		acks:     make(map[int64]func([]json.RawMessage)),
	}, nil
}

// On registers a handler for the named event. Handlers should be registered
// before Connect; events fired before registration are lost.
func (s *Socket) On(event string, handler func(payload json.RawMessage)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

// Connect starts the connection loop. Connection progress is reported through
// the lifecycle events, not the return value.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	return nil
}

// Connected reports whether a websocket is currently established.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Emit sends an event frame. payload may be nil; ack, when non-nil, is
// invoked with the peer's acknowledgement arguments. Acks that are still
// outstanding when the connection drops are discarded without being invoked.
func (s *Socket) Emit(event string, payload any, ack func(args []json.RawMessage)) error {
	if event == "" {
		return errMissingEvent
	}

	f := frame{Event: event}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("eventsock: marshal payload: %w", err)
		}
		f.Payload = body
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if ack != nil {
		s.nextAck++
		f.Ack = s.nextAck
		s.acks[f.Ack] = ack
	}
	s.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("eventsock: marshal frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the socket deliberately. Exactly one disconnect event is
// delivered, after which the socket stops all activity. Repeated calls are
// no-ops.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if !started {
		// No run goroutine to deliver the event.
		s.dispatch(EventDisconnect, nil)
	}
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.ReconnectInitialDelay
	bo.MaxInterval = s.opts.ReconnectMaxDelay
	// Attempts are bounded by count, not elapsed time.
	bo.MaxElapsedTime = 0

	for {
		conn, resp, err := s.dialer.DialContext(s.ctx, s.endpoint, nil)
		if err != nil && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if s.isClosed() {
			if conn != nil {
				_ = conn.Close()
			}
			s.dispatch(EventDisconnect, nil)
			return
		}
		if err != nil {
			s.log.WithError(err).Debug("dial failed")
			s.dispatch(EventConnectError, errorPayload(err))
			if s.attempts >= s.opts.MaxReconnectAttempts {
				s.log.Warn("giving up after exhausting reconnect attempts")
				return
			}
			if !s.beginAttempt(bo) {
				return
			}
			continue
		}

		bo.Reset()
		s.attempts = 0
		s.setConn(conn)
		s.dispatch(EventConnect, nil)

		s.readLoop(conn)
		s.clearConn()

		if s.isClosed() {
			s.dispatch(EventDisconnect, nil)
			return
		}
		// Transient drop: start a reconnect episode.
		if !s.beginAttempt(bo) {
			return
		}
	}
}

// beginAttempt announces the next reconnect attempt and waits out the backoff
// delay. It returns false when the socket was closed while waiting, after
// delivering the disconnect event.
func (s *Socket) beginAttempt(bo backoff.BackOff) bool {
	s.attempts++
	s.dispatch(EventReconnecting, attemptPayload(s.attempts))

	t := time.NewTimer(bo.NextBackOff())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		s.dispatch(EventDisconnect, nil)
		return false
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		f, err := parseFrame(data)
		if err != nil {
			// A malformed frame is the peer's defect, not a reason to drop
			// the session.
			s.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		if f.isAck() {
			if ack := s.takeAck(f.Ack); ack != nil {
				ack(f.Args)
			}
			continue
		}
		s.dispatch(f.Event, f.Payload)
	}
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// clearConn drops the connection and any outstanding acks; their senders'
// callbacks are never invoked.
func (s *Socket) clearConn() {
	s.mu.Lock()
	s.conn = nil
	s.acks = make(map[int64]func([]json.RawMessage))
	s.mu.Unlock()
}

func (s *Socket) takeAck(id int64) func([]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ack := s.acks[id]
	delete(s.acks, id)
	return ack
}

func (s *Socket) dispatch(event string, payload json.RawMessage) {
	s.mu.Lock()
	hs := make([]func(json.RawMessage), len(s.handlers[event]))
	copy(hs, s.handlers[event])
	s.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}
