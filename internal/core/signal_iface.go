package core

import "errors"

// Frame is a raw text payload as written to a websocket.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ChannelStatus is the observable connectivity of a ControlChannel.
type ChannelStatus string

const (
	StatusConnecting ChannelStatus = "connecting"
	StatusOpen       ChannelStatus = "open"
	StatusClosed     ChannelStatus = "closed"
)

var ErrNotConnected = errors.New("control channel not connected")

// ControlChannel is the participant side of the room-scoped message pipe.
// Reconnection is the channel's own business; callers only see status changes.
type ControlChannel interface {
	Send(Envelope) error
	Status() ChannelStatus
	// Close shuts the channel with a normal closure and cancels pending reconnects.
	Close()
}

// ChannelHandler receives everything a ControlChannel delivers, in order.
// Implementations must not block.
type ChannelHandler interface {
	HandleEnvelope(Envelope)
	// HandleStatus reports a status change. abnormal is set when the channel
	// closed for any reason other than a normal closure.
	HandleStatus(status ChannelStatus, abnormal bool)
}
