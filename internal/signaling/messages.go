package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names a message on the wire.
type Event string

// Client to server.
const (
	EventAuthenticate Event = "authenticate"
	EventJoinRoom     Event = "join-room"
	EventLeaveRoom    Event = "leave-room"
	EventCallOffer    Event = "call-offer"
	EventCallAnswer   Event = "call-answer"
	EventCallEnd      Event = "call-end"
)

// Both directions.
const (
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice-candidate"
)

// Server to client.
const (
	EventConnected     Event = "connected"
	EventExistingUsers Event = "existing-users"
	EventUserJoined    Event = "user-joined"
	EventUserLeft      Event = "user-left"
)

var (
	ErrUnknownEvent      = errors.New("unknown event")
	ErrMissingData       = errors.New("missing data")
	ErrMissingField      = errors.New("missing field")
	ErrAmbiguousAddress  = errors.New("exactly one of roomId or callId is required")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// envelope is a decoded inbound frame. Data stays raw until the event name
// selects its shape.
type envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a message queued for one connection. Data is one of the
// *Data types below (or a []Handle / Handle for the list-shaped events).
type Outbound struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

// inbound is implemented by every validated client message.
type inbound interface {
	event() Event
}

type authenticateMsg struct {
	UserIdentity string `json:"userIdentity"`
}

type joinRoomMsg struct {
	RoomID       string `json:"roomId"`
	UserIdentity string `json:"userIdentity,omitempty"`
}

type leaveRoomMsg struct {
	RoomID string `json:"roomId"`
}

// roomSignalMsg is an offer, answer or ice-candidate addressed to a
// connection handle.
type roomSignalMsg struct {
	Kind    Event           `json:"-"`
	To      Handle          `json:"to"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// callSignalMsg is a call-offer, call-answer or ice-candidate addressed to a
// user identity.
type callSignalMsg struct {
	Kind    Event           `json:"-"`
	To      string          `json:"to"`
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

type callEndMsg struct {
	To     string `json:"to"`
	CallID string `json:"callId"`
}

func (authenticateMsg) event() Event { return EventAuthenticate }
func (joinRoomMsg) event() Event     { return EventJoinRoom }
func (leaveRoomMsg) event() Event    { return EventLeaveRoom }
func (m roomSignalMsg) event() Event { return m.Kind }
func (m callSignalMsg) event() Event { return m.Kind }
func (callEndMsg) event() Event      { return EventCallEnd }

// Outbound payloads.

type ConnectedData struct {
	ConnectionHandle Handle `json:"connectionHandle"`
}

type UserJoinedData struct {
	UserIdentity     string `json:"userIdentity"`
	ConnectionHandle Handle `json:"connectionHandle"`
}

type RoomSignalData struct {
	From    Handle          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type CallSignalData struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
	CallID  string          `json:"callId"`
}

type CallEndData struct {
	From   string `json:"from"`
	CallID string `json:"callId"`
}

// parseInbound turns an envelope into one of the typed client messages,
// rejecting anything missing a routing field.
func parseInbound(env envelope) (inbound, error) {
	switch env.Event {
	case EventAuthenticate:
		var m authenticateMsg
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.UserIdentity == "" {
			return nil, missing(env.Event, "userIdentity")
		}
		return m, nil

	case EventJoinRoom:
		var m joinRoomMsg
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, missing(env.Event, "roomId")
		}
		return m, nil

	case EventLeaveRoom:
		var m leaveRoomMsg
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, missing(env.Event, "roomId")
		}
		return m, nil

	case EventOffer, EventAnswer:
		return parseRoomSignal(env)

	case EventCallOffer, EventCallAnswer:
		return parseCallSignal(env)

	case EventICECandidate:
		var probe struct {
			RoomID string `json:"roomId"`
			CallID string `json:"callId"`
		}
		if err := decodeData(env, &probe); err != nil {
			return nil, err
		}
		switch {
		case probe.RoomID != "" && probe.CallID == "":
			return parseRoomSignal(env)
		case probe.CallID != "" && probe.RoomID == "":
			return parseCallSignal(env)
		default:
			return nil, fmt.Errorf("%s: %w", env.Event, ErrAmbiguousAddress)
		}

	case EventCallEnd:
		var m callEndMsg
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.To == "" {
			return nil, missing(env.Event, "to")
		}
		if m.CallID == "" {
			return nil, missing(env.Event, "callId")
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
	}
}

func parseRoomSignal(env envelope) (inbound, error) {
	m := roomSignalMsg{Kind: env.Event}
	if err := decodeData(env, &m); err != nil {
		return nil, err
	}
	if m.To == "" {
		return nil, missing(env.Event, "to")
	}
	if m.RoomID == "" {
		return nil, missing(env.Event, "roomId")
	}
	if isAbsent(m.Payload) {
		return nil, missing(env.Event, "payload")
	}
	return m, nil
}

func parseCallSignal(env envelope) (inbound, error) {
	m := callSignalMsg{Kind: env.Event}
	if err := decodeData(env, &m); err != nil {
		return nil, err
	}
	if m.To == "" {
		return nil, missing(env.Event, "to")
	}
	if m.CallID == "" {
		return nil, missing(env.Event, "callId")
	}
	if isAbsent(m.Payload) {
		return nil, missing(env.Event, "payload")
	}
	return m, nil
}

func decodeData(env envelope, v any) error {
	if isAbsent(env.Data) {
		return fmt.Errorf("%s: %w", env.Event, ErrMissingData)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w: %v", env.Event, ErrMalformedEnvelope, err)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func missing(ev Event, field string) error {
	return fmt.Errorf("%s: %w %q", ev, ErrMissingField, field)
}
