package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vibesync/vibesync/signaling-relay/internal/metrics"
)

// peer is the Hub's view of a connection. send and close are only called
// from the Hub goroutine. send must not block.
type peer interface {
	Handle() Handle
	send(msg Outbound) bool
	close()
}

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now stamps room creation. Defaults to time.Now.
	Now func() time.Time

	// EventBuffer sizes the queue between connections and the Hub loop.
	EventBuffer int
}

const defaultHubEventBuffer = 1024

var ErrHubStopped = errors.New("signaling: hub stopped")

// Hub is the single writer of all routing state. Connections submit events
// with Register, Deliver and Unregister; Run applies them one at a time.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	registry   *Registry
	identities *identityIndex
	peers      map[Handle]peer

	events chan hubEvent
	quit   chan struct{} // closed when shutdown begins
	done   chan struct{} // closed when Run returns
}

type hubEvent interface{}

type registerEvent struct{ p peer }

type unregisterEvent struct{ h Handle }

type deliverEvent struct {
	from Handle
	msg  inbound
}

type queryEvent struct{ fn func() }

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultHubEventBuffer
	}
	return &Hub{
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		registry:   NewRegistry(cfg.Now),
		identities: newIdentityIndex(),
		peers:      make(map[Handle]peer),
		events:     make(chan hubEvent, cfg.EventBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every remaining
// connection. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.events:
			h.apply(ev)
		case <-ctx.Done():
			close(h.quit)
			h.shutdown()
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) stopped() bool {
	select {
	case <-h.quit:
		return true
	default:
		return false
	}
}

func (h *Hub) submit(ev hubEvent) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	}
}

// Register adds a connection. It returns false once the Hub has stopped.
func (h *Hub) Register(p peer) bool {
	return h.submit(registerEvent{p: p})
}

// Unregister runs disconnect cleanup for h. Unregistering twice is harmless.
func (h *Hub) Unregister(handle Handle) {
	h.submit(unregisterEvent{h: handle})
}

// Deliver hands a validated client message to the router.
func (h *Hub) Deliver(from Handle, msg inbound) {
	h.submit(deliverEvent{from: from, msg: msg})
}

// Snapshot is a point-in-time copy of the Hub's state.
type Snapshot struct {
	Connections int        `json:"connections"`
	Identities  int        `json:"identities"`
	Rooms       []RoomInfo `json:"rooms"`
}

// Snapshot reads the Hub's state from inside the loop.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	ev := queryEvent{fn: func() {
		out <- Snapshot{
			Connections: len(h.peers),
			Identities:  h.identities.users(),
			Rooms:       h.registry.Rooms(),
		}
	}}

	if !h.submit(ev) {
		return Snapshot{}, ErrHubStopped
	}
	select {
	case s := <-out:
		return s, nil
	case <-h.done:
		return Snapshot{}, ErrHubStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (h *Hub) apply(ev hubEvent) {
	switch ev := ev.(type) {
	case registerEvent:
		h.connect(ev.p)
	case unregisterEvent:
		h.disconnect(ev.h)
	case deliverEvent:
		h.dispatch(ev.from, ev.msg)
	case queryEvent:
		ev.fn()
	}
}

func (h *Hub) connect(p peer) {
	handle := p.Handle()
	h.peers[handle] = p
	h.metrics.Inc(metrics.ConnectionsAccepted)
	h.updateGauges()
	h.log.Debug("signaling connection opened", "connection_handle", handle)

	h.sendTo(handle, Outbound{Event: EventConnected, Data: ConnectedData{ConnectionHandle: handle}})
}

// disconnect removes handle from every room, notifying the members left
// behind, then forgets its identity and closes it.
func (h *Hub) disconnect(handle Handle) {
	p, ok := h.peers[handle]
	if !ok {
		return
	}

	for _, roomID := range h.registry.RoomsOf(handle) {
		h.leave(roomID, handle)
	}
	h.identities.detach(handle)
	delete(h.peers, handle)
	p.close()

	h.metrics.Inc(metrics.ConnectionsClosed)
	h.updateGauges()
	h.log.Debug("signaling connection closed", "connection_handle", handle)
}

func (h *Hub) shutdown() {
	for handle, p := range h.peers {
		delete(h.peers, handle)
		p.close()
	}
	// Connections that registered after the last event was applied.
	for {
		select {
		case ev := <-h.events:
			if reg, ok := ev.(registerEvent); ok {
				reg.p.close()
			}
		default:
			h.updateGauges()
			return
		}
	}
}

func (h *Hub) dispatch(from Handle, msg inbound) {
	if _, ok := h.peers[from]; !ok {
		// Late frame from a connection that has already been cleaned up.
		return
	}

	switch m := msg.(type) {
	case authenticateMsg:
		prev := h.identities.attach(from, m.UserIdentity)
		h.updateGauges()
		h.log.Debug("signaling identity attached", "connection_handle", from, "user_identity", m.UserIdentity, "replaced", prev)

	case joinRoomMsg:
		h.join(from, m)

	case leaveRoomMsg:
		h.leave(m.RoomID, from)

	case roomSignalMsg:
		if _, ok := h.peers[m.To]; !ok {
			h.metrics.Inc(metrics.SignalsUnroutable)
			h.log.Debug("signal dropped: unknown target", "event", m.Kind, "connection_handle", from, "to", m.To, "room_id", m.RoomID)
			return
		}
		h.sendTo(m.To, Outbound{Event: m.Kind, Data: RoomSignalData{From: from, Payload: m.Payload}})

	case callSignalMsg:
		sender, ok := h.identities.identityOf(from)
		if !ok {
			h.metrics.Inc(metrics.SignalsUnidentified)
			h.log.Debug("call signal dropped: sender not authenticated", "event", m.Kind, "connection_handle", from)
			return
		}
		h.sendToIdentity(m.To, Outbound{
			Event: m.Kind,
			Data:  CallSignalData{From: sender, Payload: m.Payload, CallID: m.CallID},
		})

	case callEndMsg:
		sender, ok := h.identities.identityOf(from)
		if !ok {
			h.metrics.Inc(metrics.SignalsUnidentified)
			h.log.Debug("call-end dropped: sender not authenticated", "connection_handle", from)
			return
		}
		h.sendToIdentity(m.To, Outbound{
			Event: EventCallEnd,
			Data:  CallEndData{From: sender, CallID: m.CallID},
		})
	}
}

func (h *Hub) join(from Handle, m joinRoomMsg) {
	res, err := h.registry.Join(m.RoomID, from)
	if err != nil {
		h.log.Debug("join rejected", "connection_handle", from, "err", err)
		return
	}
	if res.Created {
		h.metrics.Inc(metrics.RoomsCreated)
		h.updateGauges()
		h.log.Debug("room created", "room_id", m.RoomID)
	}

	h.sendTo(from, Outbound{Event: EventExistingUsers, Data: res.Others})
	if !res.Added {
		return
	}

	identity := m.UserIdentity
	if identity == "" {
		identity, _ = h.identities.identityOf(from)
	}
	joined := Outbound{Event: EventUserJoined, Data: UserJoinedData{UserIdentity: identity, ConnectionHandle: from}}
	for _, other := range res.Others {
		h.sendTo(other, joined)
	}
	h.log.Debug("room joined", "room_id", m.RoomID, "connection_handle", from, "members", len(res.Others)+1)
}

func (h *Hub) leave(roomID string, handle Handle) {
	res := h.registry.Leave(roomID, handle)
	if !res.Removed {
		return
	}

	left := Outbound{Event: EventUserLeft, Data: handle}
	for _, other := range res.Remaining {
		h.sendTo(other, left)
	}
	if res.Deleted {
		h.metrics.Inc(metrics.RoomsDestroyed)
		h.updateGauges()
		h.log.Debug("room deleted", "room_id", roomID)
	}
}

func (h *Hub) sendToIdentity(user string, msg Outbound) {
	targets := h.identities.connectionsOf(user)
	if len(targets) == 0 {
		h.metrics.Inc(metrics.SignalsUnroutable)
		h.log.Debug("call signal dropped: identity offline", "event", msg.Event, "to", user)
		return
	}
	for _, target := range targets {
		h.sendTo(target, msg)
	}
}

// sendTo queues msg for handle. It reports false when the handle is unknown
// or its queue is full; the message is dropped either way.
func (h *Hub) sendTo(handle Handle, msg Outbound) bool {
	p, ok := h.peers[handle]
	if !ok {
		return false
	}
	if !p.send(msg) {
		h.metrics.Inc(metrics.FramesDroppedQueue)
		h.log.Warn("signaling send queue full; dropping message", "connection_handle", handle, "event", msg.Event)
		return false
	}
	return true
}

func (h *Hub) updateGauges() {
	h.metrics.SetGauge(metrics.GaugeConnections, int64(len(h.peers)))
	h.metrics.SetGauge(metrics.GaugeRooms, int64(h.registry.Len()))
	h.metrics.SetGauge(metrics.GaugeIdentities, int64(h.identities.users()))
}
