package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerExists  = errors.New("peer already exists")
	ErrUnknownPeer = errors.New("unknown peer")
)

// Engine holds at most one Peer per remote session id.
type Engine struct {
	factory core.NegotiatorFactory
	post    func(Event)
	timeout time.Duration
	peers   map[domain.SessionID]*Peer
	order   []domain.SessionID
}

// NewEngine creates an engine. A zero timeout disables the negotiation deadline.
func NewEngine(factory core.NegotiatorFactory, post func(Event), timeout time.Duration) *Engine {
	return &Engine{
		factory: factory,
		post:    post,
		timeout: timeout,
		peers:   make(map[domain.SessionID]*Peer),
	}
}

func (e *Engine) events(p *Peer) core.NegotiatorEvents {
	return core.NegotiatorEvents{
		OnSignal: func(payload json.RawMessage) {
			e.post(Event{Peer: p, Kind: EventSignal, Payload: payload})
		},
		OnConnected: func() {
			e.post(Event{Peer: p, Kind: EventConnected})
		},
		OnRemoteStream: func(streamID string) {
			e.post(Event{Peer: p, Kind: EventRemoteStream, StreamID: streamID})
		},
		OnClosed: func() {
			e.post(Event{Peer: p, Kind: EventClosed})
		},
		OnError: func(err error) {
			e.post(Event{Peer: p, Kind: EventError, Err: err})
		},
	}
}

// Open creates and starts a peer for id in the given role.
func (e *Engine) Open(id domain.SessionID, name string, role domain.Role, local core.TrackSource) (*Peer, error) {
	if _, ok := e.peers[id]; ok {
		return nil, ErrPeerExists
	}
	p := &Peer{id: id, name: domain.DisplayName(name), role: role, state: domain.PeerNew}
	neg, err := e.factory.NewNegotiator(id, role, local, e.events(p))
	if err != nil {
		return nil, fmt.Errorf("open peer %s: %w", id, err)
	}
	p.neg = neg
	e.peers[id] = p
	e.order = append(e.order, id)
	if e.timeout > 0 {
		p.timer = time.AfterFunc(e.timeout, func() {
			e.post(Event{Peer: p, Kind: EventTimeout})
		})
	}
	if err := neg.Start(); err != nil {
		e.Destroy(id)
		return nil, fmt.Errorf("start peer %s: %w", id, err)
	}
	log.Debug().Str("module", "peer").Str("peer", string(id)).Str("role", string(role)).Msg("peer opened")
	return p, nil
}

// Feed applies an inbound negotiation payload to the existing peer for id.
func (e *Engine) Feed(id domain.SessionID, payload json.RawMessage) error {
	p, ok := e.peers[id]
	if !ok {
		return ErrUnknownPeer
	}
	p.advance(domain.PeerNegotiating)
	if err := p.neg.HandleSignal(payload); err != nil {
		return fmt.Errorf("feed peer %s: %w", id, err)
	}
	return nil
}

// Current reports whether p is still the live peer for its id.
func (e *Engine) Current(p *Peer) bool {
	if p == nil {
		return false
	}
	cur, ok := e.peers[p.id]
	return ok && cur == p
}

// Apply folds a negotiator event into peer state. It returns false for
// events of peers that are no longer current; callers must then ignore
// the event entirely.
func (e *Engine) Apply(ev Event) bool {
	if !e.Current(ev.Peer) {
		log.Debug().Str("module", "peer").Str("event", ev.Kind.String()).Msg("stale peer event dropped")
		return false
	}
	p := ev.Peer
	switch ev.Kind {
	case EventSignal:
		p.advance(domain.PeerNegotiating)
	case EventConnected:
		p.advance(domain.PeerConnected)
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	case EventRemoteStream:
	case EventClosed, EventError:
		e.Destroy(p.id)
	case EventTimeout:
		if p.state == domain.PeerConnected {
			return false
		}
		e.Destroy(p.id)
	}
	return true
}

// Destroy releases the peer for id. Destroying an absent peer is a no-op.
func (e *Engine) Destroy(id domain.SessionID) bool {
	p, ok := e.peers[id]
	if !ok {
		return false
	}
	delete(e.peers, id)
	e.order = slices.DeleteFunc(e.order, func(x domain.SessionID) bool { return x == id })
	p.release()
	log.Debug().Str("module", "peer").Str("peer", string(id)).Msg("peer destroyed")
	return true
}

// DestroyAll releases every peer and returns the ids that were open.
func (e *Engine) DestroyAll() []domain.SessionID {
	gone := slices.Clone(e.order)
	for _, id := range gone {
		e.Destroy(id)
	}
	return gone
}

func (e *Engine) Get(id domain.SessionID) (*Peer, bool) {
	p, ok := e.peers[id]
	return p, ok
}

func (e *Engine) Len() int { return len(e.peers) }

// Rename updates the display name of an existing peer.
func (e *Engine) Rename(id domain.SessionID, name string) bool {
	p, ok := e.peers[id]
	if !ok {
		return false
	}
	name = domain.DisplayName(name)
	if p.name == name {
		return false
	}
	p.name = name
	return true
}

// Members lists peers in creation order.
func (e *Engine) Members() []domain.VoiceMember {
	out := make([]domain.VoiceMember, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.peers[id].Member())
	}
	return out
}
