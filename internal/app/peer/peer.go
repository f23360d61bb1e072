// Package peer owns the set of pairwise peer connections of a room session.
// Nothing here is threadsafe; the room session loop is the only caller.
// Negotiator callbacks are turned into Events and handed to the post
// function, which must enqueue them for that loop.
package peer

import (
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// Peer is one remote participant's negotiation.
type Peer struct {
	id    domain.SessionID
	name  string
	role  domain.Role
	state domain.PeerState
	neg   core.Negotiator
	timer *time.Timer
}

func (p *Peer) ID() domain.SessionID    { return p.id }
func (p *Peer) Name() string            { return p.name }
func (p *Peer) Role() domain.Role       { return p.role }
func (p *Peer) State() domain.PeerState { return p.state }

func (p *Peer) Member() domain.VoiceMember {
	return domain.VoiceMember{ID: p.id, Name: p.name, Role: p.role, State: p.state}
}

// advance moves the state forward only.
func (p *Peer) advance(to domain.PeerState) bool {
	if p.state >= to {
		return false
	}
	p.state = to
	return true
}

func (p *Peer) release() {
	p.state = domain.PeerClosed
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.neg != nil {
		p.neg.Close()
	}
}

type EventKind int

const (
	EventSignal EventKind = iota
	EventConnected
	EventRemoteStream
	EventClosed
	EventError
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnected:
		return "connected"
	case EventRemoteStream:
		return "remote_stream"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventTimeout:
		return "timeout"
	}
	return "unknown"
}

// Event is a negotiator callback bound to the Peer that produced it.
type Event struct {
	Peer     *Peer
	Kind     EventKind
	Payload  []byte
	StreamID string
	Err      error
}
