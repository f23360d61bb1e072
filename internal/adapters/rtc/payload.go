package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

const (
	payloadOffer     = "offer"
	payloadAnswer    = "answer"
	payloadCandidate = "candidate"
)

// payload is the negotiation data carried in SIGNAL envelopes. Full SDP
// uses {type, sdp}; trickled candidates use {type:"candidate", candidate}.
type payload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func parsePayload(raw json.RawMessage) (payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return payload{}, fmt.Errorf("bad negotiation payload: %w", err)
	}
	return p, nil
}

func descriptionPayload(d *webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(payload{Type: d.Type.String(), SDP: d.SDP})
}
