package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrInvalidPayload = errors.New("invalid signal payload")

// checkPayload verifies that a signal's payload has the shape a browser
// RTCPeerConnection would produce. Messages without a payload pass.
func checkPayload(msg inbound) error {
	var (
		kind    Event
		payload json.RawMessage
	)
	switch m := msg.(type) {
	case roomSignalMsg:
		kind, payload = m.Kind, m.Payload
	case callSignalMsg:
		kind, payload = m.Kind, m.Payload
	default:
		return nil
	}

	switch kind {
	case EventOffer, EventCallOffer:
		return checkDescription(kind, payload, webrtc.SDPTypeOffer)
	case EventAnswer, EventCallAnswer:
		return checkDescription(kind, payload, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
	case EventICECandidate:
		return checkCandidate(payload)
	}
	return nil
}

func checkDescription(kind Event, payload json.RawMessage, allowed ...webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}

	typeOK := false
	for _, t := range allowed {
		if desc.Type == t {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return fmt.Errorf("%w: %s carries sdp type %q", ErrInvalidPayload, kind, desc.Type)
	}

	if desc.SDP == "" {
		return fmt.Errorf("%w: %s has empty sdp", ErrInvalidPayload, kind)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %s: sdp: %v", ErrInvalidPayload, kind, err)
	}
	return nil
}

func checkCandidate(payload json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("%w: ice-candidate must be an object: %v", ErrInvalidPayload, err)
	}
	if _, ok := obj["candidate"]; !ok {
		return fmt.Errorf("%w: ice-candidate missing candidate", ErrInvalidPayload)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return fmt.Errorf("%w: ice-candidate: %v", ErrInvalidPayload, err)
	}
	return nil
}
