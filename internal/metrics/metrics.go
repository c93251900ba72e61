package metrics

import "sync"

// Counter names used by the signaling channel.
const (
	ReconnectAttempts  = "reconnect_attempts"
	MessagesQueued     = "messages_queued"
	MessagesFlushed    = "messages_flushed"
	FlushFailures      = "flush_failures"
	ProtocolViolations = "protocol_violations"
	LoginOK            = "login_ok"
	LoginFailed        = "login_failed"
	ReloginOK          = "relogin_ok"
	ReloginFailed      = "relogin_failed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Applications embedding the SDK are expected to plug into their own metrics
// backend; this type exists to keep channel behavior testable and to provide
// reconnect/queue counters for the probe tool's debug endpoint.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
