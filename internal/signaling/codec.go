package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols. A client that offers neither gets JSON.
const (
	SubprotocolJSON    = "vibesync.signal.v1.json"
	SubprotocolMsgpack = "vibesync.signal.v1.msgpack"
)

// codec maps frames to envelopes. Payloads travel through the relay as
// JSON regardless of codec, so a msgpack peer can signal a JSON peer.
type codec interface {
	frameType() int
	decode(frame []byte) (envelope, error)
	encode(msg Outbound) ([]byte, error)
}

func codecFor(subprotocol string) codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) frameType() int { return websocket.TextMessage }

func (jsonCodec) decode(frame []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Event == "" {
		return envelope{}, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}
	return env, nil
}

func (jsonCodec) encode(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}

type msgpackCodec struct{}

type msgpackEnvelope struct {
	Event string `msgpack:"event"`
	Data  any    `msgpack:"data"`
}

func (msgpackCodec) frameType() int { return websocket.BinaryMessage }

func (msgpackCodec) decode(frame []byte) (envelope, error) {
	var wire msgpackEnvelope
	if err := msgpack.Unmarshal(frame, &wire); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if wire.Event == "" {
		return envelope{}, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}

	env := envelope{Event: Event(wire.Event)}
	if wire.Data != nil {
		data, err := json.Marshal(wire.Data)
		if err != nil {
			return envelope{}, fmt.Errorf("%w: data is not representable as json: %v", ErrMalformedEnvelope, err)
		}
		env.Data = data
	}
	return env, nil
}

func (msgpackCodec) encode(msg Outbound) ([]byte, error) {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{Event: string(msg.Event), Data: data})
}
