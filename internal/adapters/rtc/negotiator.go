// Package rtc implements peer negotiation on pion/webrtc. Negotiation is
// vanilla ICE: a description is published only after candidate gathering
// completes, so one offer and one answer normally suffice.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultGatherTimeout = 10 * time.Second

var (
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrGatherTimeout    = errors.New("ICE gathering timed out")
)

type FactoryOptions struct {
	ICE           ICEConfig
	Playback      *Playback
	GatherTimeout time.Duration
	// IncludeLoopback offers 127.0.0.1 candidates, for same-host peers.
	IncludeLoopback bool
}

// Factory implements core.NegotiatorFactory.
type Factory struct {
	api           *webrtc.API
	config        webrtc.Configuration
	playback      *Playback
	gatherTimeout time.Duration
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	timeout := opts.GatherTimeout
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}
	return &Factory{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config:        WebRTCConfig(opts.ICE),
		playback:      opts.Playback,
		gatherTimeout: timeout,
	}, nil
}

func (f *Factory) NewNegotiator(remote domain.SessionID, role domain.Role, local core.TrackSource, ev core.NegotiatorEvents) (core.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:            pc,
		remote:        remote,
		role:          role,
		ev:            ev,
		playback:      f.playback,
		gatherTimeout: f.gatherTimeout,
		ctx:           ctx,
		cancel:        cancel,
		logger:        log.With().Str("module", "rtc").Str("peer", string(remote)).Str("role", string(role)).Logger(),
	}
	if local != nil && local.Track() != nil {
		sender, err := pc.AddTrack(local.Track())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	c.wire()
	return c, nil
}

// drainRTCP keeps interceptors fed; pion needs sender RTCP to be read.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Connection is one pion PeerConnection driven as a core.Negotiator.
type Connection struct {
	pc            *webrtc.PeerConnection
	remote        domain.SessionID
	role          domain.Role
	ev            core.NegotiatorEvents
	playback      *Playback
	gatherTimeout time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	logger        zerolog.Logger

	closed    atomic.Bool
	connected sync.Once

	mu         sync.Mutex
	haveRemote bool
	pending    []webrtc.ICECandidateInit
}

func (c *Connection) wire() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.closed.Load() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.connected.Do(func() {
				if c.ev.OnConnected != nil {
					c.ev.OnConnected()
				}
			})
		case webrtc.PeerConnectionStateFailed:
			c.fail(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			if c.ev.OnClosed != nil {
				c.ev.OnClosed()
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.ev.OnRemoteStream != nil {
			c.ev.OnRemoteStream(track.StreamID())
		}
		if c.playback != nil {
			c.playback.Start(c.ctx, c.remote, track)
		}
	})
}

func (c *Connection) Start() error {
	if c.closed.Load() {
		return core.ErrPeerClosed
	}
	if c.role == domain.RoleInitiator {
		go c.offer()
	}
	return nil
}

func (c *Connection) offer() {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := c.publish(offer); err != nil {
		c.fail(err)
	}
}

func (c *Connection) answer() {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := c.publish(answer); err != nil {
		c.fail(err)
	}
}

// publish sets the local description, waits for gathering and emits the
// complete description.
func (c *Connection) publish(desc webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(c.gatherTimeout):
		return ErrGatherTimeout
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	data, err := descriptionPayload(c.pc.LocalDescription())
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return nil
	}
	c.logger.Debug().Str("type", desc.Type.String()).Msg("description published")
	if c.ev.OnSignal != nil {
		c.ev.OnSignal(data)
	}
	return nil
}

func (c *Connection) fail(err error) {
	if c.closed.Load() {
		return
	}
	c.logger.Error().Err(err).Msg("negotiation failed")
	if c.ev.OnError != nil {
		c.ev.OnError(err)
	}
}

func (c *Connection) HandleSignal(raw json.RawMessage) error {
	if c.closed.Load() {
		return core.ErrPeerClosed
	}
	p, err := parsePayload(raw)
	if err != nil {
		return err
	}
	switch p.Type {
	case payloadOffer:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
			return fmt.Errorf("apply offer: %w", err)
		}
		c.remoteApplied()
		go c.answer()
	case payloadAnswer:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		c.remoteApplied()
	case payloadCandidate:
		if p.Candidate == nil {
			return fmt.Errorf("candidate payload without candidate")
		}
		c.mu.Lock()
		if !c.haveRemote {
			c.pending = append(c.pending, *p.Candidate)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		if err := c.pc.AddICECandidate(*p.Candidate); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	default:
		c.logger.Debug().Str("type", p.Type).Msg("ignoring negotiation payload")
	}
	return nil
}

// remoteApplied flushes candidates that arrived before the description.
func (c *Connection) remoteApplied() {
	c.mu.Lock()
	c.haveRemote = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

func (c *Connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	if c.playback != nil {
		c.playback.Stop(c.remote)
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
}
