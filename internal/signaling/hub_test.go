package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/vibesync/vibesync/signaling-relay/internal/metrics"
)

type recordingPeer struct {
	h      Handle
	got    []Outbound
	closed bool
	full   bool
}

func (p *recordingPeer) Handle() Handle { return p.h }

func (p *recordingPeer) send(msg Outbound) bool {
	if p.full {
		return false
	}
	p.got = append(p.got, msg)
	return true
}

func (p *recordingPeer) close() { p.closed = true }

// take returns and clears everything p has received.
func (p *recordingPeer) take() []Outbound {
	got := p.got
	p.got = nil
	return got
}

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := NewHub(HubConfig{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
		Now:     fixedClock(time.Unix(1_700_000_000, 0)),
	})
	return h, m
}

func connectPeer(t *testing.T, h *Hub, handle Handle) *recordingPeer {
	t.Helper()
	p := &recordingPeer{h: handle}
	h.connect(p)
	got := p.take()
	if len(got) != 1 || got[0].Event != EventConnected {
		t.Fatalf("%s: first message = %+v, want connected", handle, got)
	}
	if d := got[0].Data.(ConnectedData); d.ConnectionHandle != handle {
		t.Fatalf("%s: connected handle=%q", handle, d.ConnectionHandle)
	}
	return p
}

func authenticate(h *Hub, from Handle, user string) {
	h.dispatch(from, authenticateMsg{UserIdentity: user})
}

func joinRoom(h *Hub, from Handle, roomID string) {
	h.dispatch(from, joinRoomMsg{RoomID: roomID})
}

func expectEvents(t *testing.T, p *recordingPeer, want ...Event) []Outbound {
	t.Helper()
	got := p.take()
	events := make([]Event, 0, len(got))
	for _, msg := range got {
		events = append(events, msg.Event)
	}
	if len(want) == 0 {
		want = []Event{}
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("%s received %v, want %v", p.h, events, want)
	}
	return got
}

func TestHub_RoomScenario(t *testing.T) {
	h, _ := newTestHub(t)
	c1 := connectPeer(t, h, "c1")
	c2 := connectPeer(t, h, "c2")
	authenticate(h, "c1", "alice")
	authenticate(h, "c2", "bob")

	joinRoom(h, "c1", "room-42")
	got := expectEvents(t, c1, EventExistingUsers)
	if others := got[0].Data.([]Handle); len(others) != 0 || others == nil {
		t.Fatalf("c1 existing-users=%#v, want empty list", others)
	}

	joinRoom(h, "c2", "room-42")
	got = expectEvents(t, c2, EventExistingUsers)
	if others := got[0].Data.([]Handle); !reflect.DeepEqual(others, []Handle{"c1"}) {
		t.Fatalf("c2 existing-users=%v", others)
	}
	got = expectEvents(t, c1, EventUserJoined)
	if d := got[0].Data.(UserJoinedData); d.ConnectionHandle != "c2" || d.UserIdentity != "bob" {
		t.Fatalf("user-joined=%+v", d)
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.dispatch("c1", roomSignalMsg{Kind: EventOffer, To: "c2", RoomID: "room-42", Payload: offer})
	got = expectEvents(t, c2, EventOffer)
	if d := got[0].Data.(RoomSignalData); d.From != "c1" || string(d.Payload) != string(offer) {
		t.Fatalf("offer=%+v", d)
	}
	expectEvents(t, c1)

	h.disconnect("c2")
	if !c2.closed {
		t.Fatalf("c2 should be closed")
	}
	got = expectEvents(t, c1, EventUserLeft)
	if got[0].Data.(Handle) != "c2" {
		t.Fatalf("user-left=%v", got[0].Data)
	}
	info, ok := h.registry.Room("room-42")
	if !ok || !reflect.DeepEqual(info.Members, []Handle{"c1"}) {
		t.Fatalf("room-42=%+v ok=%v", info, ok)
	}

	c3 := connectPeer(t, h, "c3")
	joinRoom(h, "c3", "room-42")
	got = expectEvents(t, c3, EventExistingUsers)
	if others := got[0].Data.([]Handle); !reflect.DeepEqual(others, []Handle{"c1"}) {
		t.Fatalf("c3 existing-users=%v", others)
	}
}

func TestHub_JoinIdentityFromMessageOrAuth(t *testing.T) {
	h, _ := newTestHub(t)
	c1 := connectPeer(t, h, "c1")
	connectPeer(t, h, "c2")
	connectPeer(t, h, "c3")
	authenticate(h, "c3", "carol")

	joinRoom(h, "c1", "r")
	c1.take()

	h.dispatch("c2", joinRoomMsg{RoomID: "r", UserIdentity: "dave"})
	got := expectEvents(t, c1, EventUserJoined)
	if d := got[0].Data.(UserJoinedData); d.UserIdentity != "dave" {
		t.Fatalf("identity from join message=%q", d.UserIdentity)
	}

	joinRoom(h, "c3", "r")
	got = expectEvents(t, c1, EventUserJoined)
	if d := got[0].Data.(UserJoinedData); d.UserIdentity != "carol" {
		t.Fatalf("identity from authenticate=%q", d.UserIdentity)
	}

	// A join identity is announced but never attached.
	if _, ok := h.identities.identityOf("c2"); ok {
		t.Fatalf("join-room userIdentity should not authenticate the connection")
	}
}

func TestHub_DuplicateJoinDoesNotRebroadcast(t *testing.T) {
	h, _ := newTestHub(t)
	c1 := connectPeer(t, h, "c1")
	c2 := connectPeer(t, h, "c2")

	joinRoom(h, "c1", "r")
	joinRoom(h, "c2", "r")
	c1.take()
	c2.take()

	joinRoom(h, "c2", "r")
	got := expectEvents(t, c2, EventExistingUsers)
	if others := got[0].Data.([]Handle); !reflect.DeepEqual(others, []Handle{"c1"}) {
		t.Fatalf("existing-users on rejoin=%v", others)
	}
	expectEvents(t, c1)

	info, _ := h.registry.Room("r")
	if len(info.Members) != 2 {
		t.Fatalf("members=%v", info.Members)
	}
}

func TestHub_RoomLifecycleAndMetrics(t *testing.T) {
	h, m := newTestHub(t)
	connectPeer(t, h, "c1")
	c2 := connectPeer(t, h, "c2")

	joinRoom(h, "c1", "r")
	joinRoom(h, "c2", "r")
	if m.Get(metrics.RoomsCreated) != 1 || m.Gauge(metrics.GaugeRooms) != 1 {
		t.Fatalf("rooms_created=%d gauge=%d", m.Get(metrics.RoomsCreated), m.Gauge(metrics.GaugeRooms))
	}
	c2.take()

	h.dispatch("c1", leaveRoomMsg{RoomID: "r"})
	expectEvents(t, c2, EventUserLeft)
	if _, ok := h.registry.Room("r"); !ok {
		t.Fatalf("room with one member should exist")
	}

	h.dispatch("c2", leaveRoomMsg{RoomID: "r"})
	if _, ok := h.registry.Room("r"); ok {
		t.Fatalf("empty room should be deleted")
	}
	if m.Get(metrics.RoomsDestroyed) != 1 || m.Gauge(metrics.GaugeRooms) != 0 {
		t.Fatalf("rooms_destroyed=%d gauge=%d", m.Get(metrics.RoomsDestroyed), m.Gauge(metrics.GaugeRooms))
	}

	// Leaving again is a no-op.
	h.dispatch("c2", leaveRoomMsg{RoomID: "r"})
	if m.Get(metrics.RoomsDestroyed) != 1 {
		t.Fatalf("second leave destroyed a room")
	}
}

func TestHub_DisconnectLeavesEveryRoom(t *testing.T) {
	h, m := newTestHub(t)
	a := connectPeer(t, h, "a")
	b := connectPeer(t, h, "b")
	connectPeer(t, h, "x")
	authenticate(h, "x", "xavier")

	joinRoom(h, "a", "room-a")
	joinRoom(h, "b", "room-b")
	joinRoom(h, "x", "room-a")
	joinRoom(h, "x", "room-b")
	a.take()
	b.take()

	h.disconnect("x")
	for _, p := range []*recordingPeer{a, b} {
		got := expectEvents(t, p, EventUserLeft)
		if got[0].Data.(Handle) != "x" {
			t.Fatalf("%s user-left=%v", p.h, got[0].Data)
		}
	}
	if rooms := h.registry.RoomsOf("x"); len(rooms) != 0 {
		t.Fatalf("x still in %v", rooms)
	}
	if got := h.identities.connectionsOf("xavier"); len(got) != 0 {
		t.Fatalf("xavier still mapped to %v", got)
	}
	if _, ok := h.peers["x"]; ok {
		t.Fatalf("x still registered")
	}

	// Cleanup is idempotent.
	h.disconnect("x")
	if got := m.Get(metrics.ConnectionsClosed); got != 1 {
		t.Fatalf("connections_closed=%d, want 1", got)
	}
	if got := m.Gauge(metrics.GaugeConnections); got != 2 {
		t.Fatalf("connections gauge=%d, want 2", got)
	}
}

func TestHub_RoomSignalReachesOnlyTarget(t *testing.T) {
	h, m := newTestHub(t)
	peers := map[Handle]*recordingPeer{}
	for _, id := range []Handle{"a", "b", "c"} {
		peers[id] = connectPeer(t, h, id)
		joinRoom(h, id, "r")
	}
	for _, p := range peers {
		p.take()
	}

	h.dispatch("a", roomSignalMsg{Kind: EventICECandidate, To: "b", RoomID: "r", Payload: json.RawMessage(`{"candidate":""}`)})
	expectEvents(t, peers["b"], EventICECandidate)
	expectEvents(t, peers["a"])
	expectEvents(t, peers["c"])

	h.dispatch("a", roomSignalMsg{Kind: EventAnswer, To: "gone", RoomID: "r", Payload: json.RawMessage(`{}`)})
	for _, p := range peers {
		expectEvents(t, p)
	}
	if got := m.Get(metrics.SignalsUnroutable); got != 1 {
		t.Fatalf("signals_unroutable=%d, want 1", got)
	}
}

func TestHub_CallSignalFansOutToIdentity(t *testing.T) {
	h, _ := newTestHub(t)
	alice := connectPeer(t, h, "alice-1")
	bobPhone := connectPeer(t, h, "bob-phone")
	bobLaptop := connectPeer(t, h, "bob-laptop")
	authenticate(h, "alice-1", "alice")
	authenticate(h, "bob-phone", "bob")
	authenticate(h, "bob-laptop", "bob")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.dispatch("alice-1", callSignalMsg{Kind: EventCallOffer, To: "bob", CallID: "call-7", Payload: payload})

	for _, p := range []*recordingPeer{bobPhone, bobLaptop} {
		got := expectEvents(t, p, EventCallOffer)
		d := got[0].Data.(CallSignalData)
		if d.From != "alice" || d.CallID != "call-7" || string(d.Payload) != string(payload) {
			t.Fatalf("%s call-offer=%+v", p.h, d)
		}
	}
	expectEvents(t, alice)

	h.dispatch("bob-laptop", callSignalMsg{Kind: EventICECandidate, To: "alice", CallID: "call-7", Payload: json.RawMessage(`{"candidate":"x"}`)})
	got := expectEvents(t, alice, EventICECandidate)
	if d := got[0].Data.(CallSignalData); d.From != "bob" || d.CallID != "call-7" {
		t.Fatalf("call candidate=%+v", d)
	}

	h.dispatch("alice-1", callEndMsg{To: "bob", CallID: "call-7"})
	for _, p := range []*recordingPeer{bobPhone, bobLaptop} {
		got := expectEvents(t, p, EventCallEnd)
		if d := got[0].Data.(CallEndData); d.From != "alice" || d.CallID != "call-7" {
			t.Fatalf("%s call-end=%+v", p.h, d)
		}
	}
}

func TestHub_CallSignalEdgeCases(t *testing.T) {
	h, m := newTestHub(t)
	anon := connectPeer(t, h, "anon")
	bob := connectPeer(t, h, "bob-1")
	authenticate(h, "bob-1", "bob")

	h.dispatch("anon", callSignalMsg{Kind: EventCallOffer, To: "bob", CallID: "k", Payload: json.RawMessage(`{}`)})
	h.dispatch("anon", callEndMsg{To: "bob", CallID: "k"})
	expectEvents(t, bob)
	if got := m.Get(metrics.SignalsUnidentified); got != 2 {
		t.Fatalf("signals_unidentified=%d, want 2", got)
	}

	h.dispatch("bob-1", callSignalMsg{Kind: EventCallAnswer, To: "nobody", CallID: "k", Payload: json.RawMessage(`{}`)})
	expectEvents(t, anon)
	if got := m.Get(metrics.SignalsUnroutable); got != 1 {
		t.Fatalf("signals_unroutable=%d, want 1", got)
	}

	// Re-authenticating moves the connection to the new identity.
	authenticate(h, "bob-1", "robert")
	if got := h.identities.connectionsOf("bob"); len(got) != 0 {
		t.Fatalf("bob still mapped to %v", got)
	}
}

func TestHub_IgnoresUnknownSender(t *testing.T) {
	h, _ := newTestHub(t)
	joinRoom(h, "ghost", "r")
	if h.registry.Len() != 0 {
		t.Fatalf("message from unregistered handle created a room")
	}
}

func TestHub_FullQueueDropsMessage(t *testing.T) {
	h, m := newTestHub(t)
	connectPeer(t, h, "a")
	b := connectPeer(t, h, "b")
	joinRoom(h, "a", "r")
	joinRoom(h, "b", "r")

	b.full = true
	h.dispatch("a", roomSignalMsg{Kind: EventOffer, To: "b", RoomID: "r", Payload: json.RawMessage(`{}`)})
	if got := m.Get(metrics.FramesDroppedQueue); got != 1 {
		t.Fatalf("frames_dropped_send_queue=%d, want 1", got)
	}
	if got := m.Get(metrics.SignalsUnroutable); got != 0 {
		t.Fatalf("full queue counted as unroutable")
	}
	if b.closed {
		t.Fatalf("slow peer should not be closed")
	}
}

func TestHub_RunSnapshotAndShutdown(t *testing.T) {
	h, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	a := &recordingPeer{h: "a"}
	b := &recordingPeer{h: "b"}
	if !h.Register(a) || !h.Register(b) {
		t.Fatalf("Register on a running hub failed")
	}
	h.Deliver("a", authenticateMsg{UserIdentity: "alice"})
	h.Deliver("a", joinRoomMsg{RoomID: "r"})
	h.Deliver("b", joinRoomMsg{RoomID: "r"})

	// Events are applied in order, so the snapshot sees all of them.
	snap, err := h.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Connections != 2 || snap.Identities != 1 || len(snap.Rooms) != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !reflect.DeepEqual(snap.Rooms[0].Members, []Handle{"a", "b"}) {
		t.Fatalf("members=%v", snap.Rooms[0].Members)
	}

	h.Unregister("b")
	snap, err = h.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Connections != 1 || !reflect.DeepEqual(snap.Rooms[0].Members, []Handle{"a"}) {
		t.Fatalf("snapshot after unregister=%+v", snap)
	}

	cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("hub did not stop")
	}
	if !a.closed || !b.closed {
		t.Fatalf("shutdown left peers open: a=%v b=%v", a.closed, b.closed)
	}
	if h.Register(&recordingPeer{h: "late"}) {
		t.Fatalf("Register after stop should fail")
	}
	if _, err := h.Snapshot(context.Background()); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("Snapshot after stop err=%v, want ErrHubStopped", err)
	}
}
