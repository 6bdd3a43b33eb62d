package metrics

import "sync"

// Counter names.
const (
	ConnectionsAccepted       = "connections_accepted"
	ConnectionsRejectedLimit  = "connections_rejected_limit"
	ConnectionsRejectedOrigin = "connections_rejected_origin"
	ConnectionsClosed         = "connections_closed"

	FramesReceived      = "frames_received"
	FramesMalformed     = "frames_malformed"
	FramesOversize      = "frames_oversize"
	FramesRateLimited   = "frames_rate_limited"
	FramesSent          = "frames_sent"
	FramesDroppedQueue  = "frames_dropped_send_queue"
	PayloadsRejected    = "payloads_rejected"
	SignalsUnroutable   = "signals_unroutable"
	SignalsUnidentified = "signals_unidentified"

	RoomsCreated   = "rooms_created"
	RoomsDestroyed = "rooms_destroyed"

	TURNCredentialsIssued = "turn_credentials_issued"
)

// Gauge names.
const (
	GaugeConnections = "connections"
	GaugeRooms       = "rooms"
	GaugeIdentities  = "identities"
)

// Metrics is a concurrency-safe registry of monotonic counters and
// point-in-time gauges.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]int64
}

func New() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot copies both maps under a single lock.
func (m *Metrics) Snapshot() (counters map[string]uint64, gauges map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters = make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	gauges = make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return counters, gauges
}
