package signaling

import (
	"encoding/json"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/conferencekit/conference-go/internal/metrics"
	"github.com/conferencekit/conference-go/internal/token"
)

const (
	// maxReconnectAttempts bounds the transport's automatic reconnection.
	// Once exhausted the channel treats the connection as terminally failed.
	maxReconnectAttempts = 5

	// protocolVersion is sent in the login request. The server rejects logins
	// from protocol versions it no longer speaks.
	protocolVersion = "1.1"

	sdkType    = "go"
	sdkVersion = "1.0.0"
)

type loginRequest struct {
	Token     string     `json:"token"`
	UserAgent clientInfo `json:"userAgent"`
	Protocol  string     `json:"protocol"`
}

type clientInfo struct {
	SDK struct {
		Type    string `json:"type"`
		Version string `json:"version"`
	} `json:"sdk"`
	Runtime struct {
		OS   string `json:"os"`
		Arch string `json:"arch"`
	} `json:"runtime"`
}

func userAgent() clientInfo {
	var info clientInfo
	info.SDK.Type = sdkType
	info.SDK.Version = sdkVersion
	info.Runtime.OS = runtime.GOOS
	info.Runtime.Arch = runtime.GOARCH
	return info
}

type pendingMessage struct {
	event   string
	payload any
	ack     AckFunc
}

// Channel is the signaling client for one conference session.
//
// A Channel is bound to a single token and observer and is not reusable:
// after Disconnect or a terminal failure, create a new instance for a new
// session.
type Channel struct {
	token    string
	observer Observer
	log      *logrus.Entry
	counters *metrics.Metrics

	// tasks funnels every external call and transport callback onto one
	// worker goroutine; done is closed when that goroutine exits.
	tasks chan func()
	done  chan struct{}

	// Session state below is owned exclusively by the worker goroutine.
	// There is no lock by design: nothing else may touch these fields.
	cfg        Configuration
	transport  Transport
	loggedIn   bool
	ticket     string
	attempts   int
	pending    []pendingMessage
	terminated bool
}

// New creates a channel for the given session token. No network activity
// happens until Connect. The observer must be non-nil.
func New(tok string, observer Observer) *Channel {
	if observer == nil {
		panic("signaling: nil observer")
	}
	c := &Channel{
		token:    tok,
		observer: observer,
		log:      logrus.WithField("channel", uuid.NewString()[:8]),
		counters: metrics.New(),
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Channel) run() {
	defer close(c.done)
	for fn := range c.tasks {
		fn()
		if c.terminated {
			return
		}
	}
}

// exec queues fn onto the worker goroutine. After termination tasks are
// silently dropped; late transport callbacks and discarded completion
// callbacks land here.
func (c *Channel) exec(fn func()) {
	select {
	case <-c.done:
	case c.tasks <- fn:
	}
}

// Metrics returns the channel's counter registry. The probe tool exposes it
// through the Prometheus text handler.
func (c *Channel) Metrics() *metrics.Metrics {
	return c.counters
}

// Counters returns a point-in-time copy of the channel's counters.
func (c *Channel) Counters() map[string]uint64 {
	return c.counters.Snapshot()
}

// Connect decodes the token, builds the transport and starts connecting.
// Failures are reported through Observer.OnRoomConnectFailed, never returned:
// a bad token is a session-level condition, not a programming error.
func (c *Channel) Connect(cfg Configuration) {
	c.exec(func() { c.connect(cfg) })
}

// Send emits an application request to the server, or queues it for replay if
// the transport is not currently connected. ack, when non-nil, is invoked
// with the server's acknowledgement; callers must not assume synchronous
// completion. Queued messages that are still pending at terminal disconnect
// are dropped without invoking their callbacks.
func (c *Channel) Send(event string, payload any, ack AckFunc) {
	c.exec(func() { c.send(pendingMessage{event: event, payload: payload, ack: ack}) })
}

// Disconnect deliberately closes the session. The observer receives a final
// OnRoomDisconnected once the transport confirms closure; after that no
// further callbacks are delivered. Calling Disconnect again, or before
// Connect, is a no-op.
func (c *Channel) Disconnect() {
	c.exec(c.disconnect)
}

func (c *Channel) connect(cfg Configuration) {
	if c.terminated || c.transport != nil {
		return
	}
	c.cfg = cfg.withDefaults()
	if c.cfg.Logger != nil {
		c.log = c.cfg.Logger
	}

	tok, err := token.Decode(c.token)
	if err != nil {
		c.connectFailed(err.Error())
		return
	}
	endpoint, err := tok.Endpoint()
	if err != nil {
		c.connectFailed(err.Error())
		return
	}

	t, err := c.cfg.TransportFactory(endpoint, TransportOptions{
		MaxReconnectAttempts: maxReconnectAttempts,
		TLSConfig:            c.cfg.TLSConfig,
	})
	if err != nil {
		c.connectFailed(err.Error())
		return
	}
	c.transport = t

	// All handlers are installed before the connection attempt starts so no
	// early event can be missed. EventDisconnect is deliberately absent: it
	// is bound only by an explicit Disconnect, so passive drops go through
	// the reconnect path instead.
	t.On(EventConnect, func(json.RawMessage) {
		c.exec(c.onTransportConnected)
	})
	t.On(EventConnectError, func(payload json.RawMessage) {
		c.exec(func() { c.onTransportConnectError(payload) })
	})
	t.On(EventReconnecting, func(json.RawMessage) {
		c.exec(c.onTransportReconnecting)
	})
	t.On(eventProgress, func(payload json.RawMessage) {
		c.exec(func() { c.onProgress(payload) })
	})
	t.On(eventParticipant, func(payload json.RawMessage) {
		c.exec(func() { c.onParticipant(payload) })
	})
	t.On(eventStream, func(payload json.RawMessage) {
		c.exec(func() { c.onStream(payload) })
	})
	t.On(eventText, func(payload json.RawMessage) {
		c.exec(func() { c.onText(payload) })
	})
	t.On(eventDrop, func(json.RawMessage) {
		// Reserved for future server semantics; must not error.
	})

	c.log.WithField("endpoint", endpoint).Info("connecting to signaling endpoint")
	if err := t.Connect(); err != nil {
		c.connectFailed(err.Error())
	}
}

func (c *Channel) disconnect() {
	if c.terminated || c.transport == nil {
		return
	}
	// Bind the disconnect handler only now, so the resulting EventDisconnect
	// is known to be deliberate.
	c.transport.On(EventDisconnect, func(json.RawMessage) {
		c.exec(c.triggerDisconnected)
	})
	c.transport.Disconnect()
}

func (c *Channel) onTransportConnected() {
	if c.terminated {
		return
	}
	if c.loggedIn {
		c.relogin()
	} else {
		c.login()
	}
}

func (c *Channel) onTransportConnectError(payload json.RawMessage) {
	if c.terminated {
		return
	}
	msg := transportErrorMessage(payload)
	if c.attempts < maxReconnectAttempts {
		// The transport keeps retrying below the bound; individual errors
		// are not surfaced.
		c.log.WithField("error", msg).Debug("transient connect error")
		return
	}
	c.log.WithField("error", msg).Warn("reconnect attempts exhausted")
	if c.loggedIn {
		c.triggerDisconnected()
	} else {
		c.connectFailed("connect failed: " + msg)
	}
}

func (c *Channel) onTransportReconnecting() {
	if c.terminated {
		return
	}
	c.attempts++
	c.counters.Inc(metrics.ReconnectAttempts)
	// Notify only on the first attempt of an episode, and only when the
	// session had been established. A UI can show a spinner without yet
	// declaring failure.
	if c.loggedIn && c.attempts == 1 {
		c.observer.OnReconnecting()
	}
}

func (c *Channel) login() {
	req := loginRequest{
		Token:     c.token,
		UserAgent: userAgent(),
		Protocol:  protocolVersion,
	}
	err := c.transport.Emit(eventLogin, req, func(args []json.RawMessage) {
		c.exec(func() { c.handleLoginAck(args) })
	})
	if err != nil {
		// The connection raced away between EventConnect and the emit. The
		// transport's lifecycle events decide what happens next.
		c.log.WithError(err).Warn("login emit failed")
	}
}

func (c *Channel) handleLoginAck(args []json.RawMessage) {
	if c.terminated {
		return
	}
	status, err := ackStatus(args)
	if err != nil {
		c.violation(err)
		return
	}
	if status != statusOK {
		c.counters.Inc(metrics.LoginFailed)
		c.connectFailed(ackReason(args))
		return
	}

	info, err := parseRoomInfo(ackBody(args))
	if err != nil {
		// The session is usable without a ticket, but every reconnect will
		// now fail its relogin. Loud in strict mode.
		c.violation(err)
	}
	c.loggedIn = true
	if info.ReconnectionTicket != "" {
		c.ticket = info.ReconnectionTicket
	}
	c.counters.Inc(metrics.LoginOK)
	c.log.WithField("room", info.ID).Info("room connected")
	c.observer.OnRoomConnected(info)
}

func (c *Channel) relogin() {
	if c.ticket == "" {
		// Unreachable by construction: relogin is only chosen when loggedIn
		// is set, and login stores the ticket before setting it.
		c.violation(protocolErrorf(eventRelogin, "no reconnection ticket stored"))
		return
	}
	err := c.transport.Emit(eventRelogin, c.ticket, func(args []json.RawMessage) {
		c.exec(func() { c.handleReloginAck(args) })
	})
	if err != nil {
		c.log.WithError(err).Warn("relogin emit failed")
	}
}

func (c *Channel) handleReloginAck(args []json.RawMessage) {
	if c.terminated {
		return
	}
	status, err := ackStatus(args)
	if err != nil {
		c.violation(err)
		c.triggerDisconnected()
		return
	}
	if status != statusOK {
		c.counters.Inc(metrics.ReloginFailed)
		c.log.WithField("reason", ackReason(args)).Warn("relogin rejected")
		c.triggerDisconnected()
		return
	}

	// The new ticket supersedes the old one the moment it is received; the
	// attempt counter resets only on a successful relogin.
	fresh, err := reloginTicket(ackBody(args))
	if err != nil {
		c.violation(err)
	} else {
		c.ticket = fresh
		c.attempts = 0
		c.counters.Inc(metrics.ReloginOK)
	}
	c.log.Info("session resumed")
	c.flushPending()
}

// send is the single send path used for live sends and queue replay.
func (c *Channel) send(m pendingMessage) {
	if c.terminated {
		return
	}
	if c.transport == nil || !c.transport.Connected() {
		c.pending = append(c.pending, m)
		c.counters.Inc(metrics.MessagesQueued)
		return
	}
	if err := c.transport.Emit(m.event, m.payload, c.wrapAck(m.ack)); err != nil {
		// Isolated per message: a failed emit must not affect others. The
		// caller's ack simply never fires.
		c.counters.Inc(metrics.FlushFailures)
		c.log.WithError(err).WithField("event", m.event).Warn("send failed")
	}
}

// flushPending replays queued messages strictly in enqueue order. Each item
// goes through the live send path independently; if the transport dropped
// again mid-flush, the remainder re-queues for the next episode.
func (c *Channel) flushPending() {
	if len(c.pending) == 0 {
		return
	}
	queued := c.pending
	c.pending = nil
	c.log.WithField("count", len(queued)).Debug("replaying queued messages")
	for _, m := range queued {
		c.send(m)
		c.counters.Inc(metrics.MessagesFlushed)
	}
}

func (c *Channel) wrapAck(ack AckFunc) AckFunc {
	if ack == nil {
		return nil
	}
	return func(args []json.RawMessage) {
		c.exec(func() { ack(args) })
	}
}

func (c *Channel) onProgress(payload json.RawMessage) {
	if c.terminated {
		return
	}
	if len(payload) == 0 {
		c.violation(protocolErrorf(eventProgress, "empty payload"))
		return
	}
	c.observer.OnProgressMessage(payload)
}

func (c *Channel) onParticipant(payload json.RawMessage) {
	if c.terminated {
		return
	}
	update, err := parseParticipantEvent(payload)
	if err != nil {
		c.violation(err)
		return
	}
	switch update.action {
	case participantActionJoin:
		c.observer.OnParticipantJoined(update.joined)
	case participantActionLeave:
		c.observer.OnParticipantLeft(update.leftID)
	}
}

func (c *Channel) onStream(payload json.RawMessage) {
	if c.terminated {
		return
	}
	update, err := parseStreamEvent(payload)
	if err != nil {
		c.violation(err)
		return
	}
	switch update.status {
	case streamStatusAdd:
		c.observer.OnStreamAdded(RemoteStream{ID: update.id, Raw: update.data})
	case streamStatusRemove:
		c.observer.OnStreamRemoved(update.id)
	case streamStatusUpdate:
		c.observer.OnStreamUpdated(update.id, update.data)
	}
}

func (c *Channel) onText(payload json.RawMessage) {
	if c.terminated {
		return
	}
	msg, err := parseTextEvent(payload)
	if err != nil {
		c.violation(err)
		return
	}
	c.observer.OnTextMessage(msg.From, msg.Message)
}

// connectFailed terminates a session that never reached the room.
func (c *Channel) connectFailed(reason string) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.pending = nil
	c.releaseTransport()
	c.log.WithField("reason", reason).Warn("room connect failed")
	c.observer.OnRoomConnectFailed(reason)
}

// triggerDisconnected terminates an established session: explicit disconnect,
// relogin rejection, or exhausted reconnects.
func (c *Channel) triggerDisconnected() {
	if c.terminated {
		return
	}
	c.terminated = true
	c.loggedIn = false
	c.attempts = 0
	c.pending = nil
	c.releaseTransport()
	c.log.Info("room disconnected")
	c.observer.OnRoomDisconnected()
}

// releaseTransport drops the transport reference so no reconnect loop or
// callback outlives the session.
func (c *Channel) releaseTransport() {
	if c.transport == nil {
		return
	}
	c.transport.Disconnect()
	c.transport = nil
}

func (c *Channel) violation(err error) {
	c.counters.Inc(metrics.ProtocolViolations)
	if c.cfg.StrictProtocol {
		panic(err)
	}
	c.log.WithError(err).Warn("protocol violation")
}
