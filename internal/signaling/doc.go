// Package signaling relays WebRTC offer/answer/candidate messages between
// browser peers over WebSocket.
//
// A single Hub goroutine owns every piece of routing state: the room
// Registry, the identity index and the set of live connections. Connection
// goroutines only decode and encode frames and hand typed messages to the
// Hub, so handlers never take locks and per-room notifications are ordered by
// the order the Hub receives events.
//
// Two addressing modes share the same primitives. Room-relative messages are
// sent to a connection handle learnt from existing-users/user-joined and are
// tagged with the sender's handle. Identity-relative (call) messages are sent
// to a user identity attached with authenticate and fan out to every
// connection of that user, tagged with the sender's identity.
package signaling
