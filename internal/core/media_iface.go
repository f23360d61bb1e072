package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrCaptureDenied = errors.New("capture denied")
	ErrPeerClosed    = errors.New("peer connection closed")
)

// TrackSource is the read-only face of the local capture that peers get.
// Peers attach the track; they never stop or mute it.
type TrackSource interface {
	Track() webrtc.TrackLocal
}

// LocalStream is the full capture handle, owned by the media session.
type LocalStream interface {
	TrackSource
	Enabled() bool
	SetEnabled(bool)
	// Stop releases the device. Safe to call more than once.
	Stop()
}

type CaptureProvider interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// NegotiatorEvents are invoked from arbitrary goroutines.
type NegotiatorEvents struct {
	OnSignal       func(payload json.RawMessage)
	OnConnected    func()
	OnRemoteStream func(streamID string)
	OnClosed       func()
	OnError        func(error)
}

// Negotiator drives one pairwise media negotiation.
type Negotiator interface {
	// Start begins negotiation. An initiator produces its first payload
	// asynchronously through OnSignal; a responder waits for one.
	Start() error
	// HandleSignal applies a payload produced by the remote negotiator.
	HandleSignal(payload json.RawMessage) error
	// Close releases media resources. It does not fire OnClosed.
	Close()
}

type NegotiatorFactory interface {
	NewNegotiator(remote domain.SessionID, role domain.Role, local TrackSource, events NegotiatorEvents) (Negotiator, error)
}
