package session

import (
	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/peer"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

func (s *Session) openPeer(id domain.SessionID, name string, role domain.Role, track core.TrackSource) bool {
	if _, err := s.engine.Open(id, name, role, track); err != nil {
		s.log.Error().Err(err).Str("peer", string(id)).Str("role", string(role)).Msg("open peer failed")
		s.notice(NoticeError, "could not start voice with "+domain.DisplayName(name), err)
		return false
	}
	s.dir.MarkVoice(id)
	s.log.Info().Str("peer", string(id)).Str("role", string(role)).Msg("peer opened")
	s.publishVoice()
	return true
}

// dropPeer is the idempotent teardown for one remote id.
func (s *Session) dropPeer(id domain.SessionID) {
	destroyed := s.engine.Destroy(id)
	unmarked := s.dir.UnmarkVoice(id)
	if destroyed || unmarked {
		s.log.Info().Str("peer", string(id)).Msg("peer removed")
		s.publishVoice()
	}
}

func (s *Session) onPeerEvent(ev peer.Event) {
	if !s.engine.Apply(ev) {
		return
	}
	id := ev.Peer.ID()
	s.metrics.PeerEvent(ev.Kind.String())
	switch ev.Kind {
	case peer.EventSignal:
		err := s.send(core.Envelope{Type: core.TypeSignal, TargetID: id, SenderName: s.name, Data: ev.Payload})
		if err != nil {
			s.log.Warn().Err(err).Str("peer", string(id)).Msg("negotiation payload not sent")
		}
	case peer.EventConnected:
		s.log.Info().Str("peer", string(id)).Msg("peer connected")
		s.publishVoice()
	case peer.EventRemoteStream:
		s.publish(Update{Kind: UpdateRemoteStream, Peer: id, StreamID: ev.StreamID})
	case peer.EventClosed:
		s.dropPeer(id)
		s.notice(NoticeInfo, ev.Peer.Name()+" disconnected from voice", nil)
	case peer.EventError:
		s.log.Warn().Err(ev.Err).Str("peer", string(id)).Msg("negotiation failed")
		s.dropPeer(id)
		s.notice(NoticeError, "voice connection with "+ev.Peer.Name()+" failed", ev.Err)
	case peer.EventTimeout:
		s.log.Warn().Str("peer", string(id)).Msg("negotiation timed out")
		s.dropPeer(id)
		s.notice(NoticeError, "voice connection with "+ev.Peer.Name()+" timed out", nil)
	}
}

func (s *Session) joinVoice() {
	if s.status != core.StatusOpen {
		s.notice(NoticeError, "cannot join voice while disconnected", core.ErrNotConnected)
		return
	}
	if err := s.media.Begin(s.ctx, func(r media.Result) { s.box.post(r) }); err != nil {
		s.log.Debug().Err(err).Msg("join voice ignored")
		return
	}
	s.publishMedia()
}

func (s *Session) onCapture(r media.Result) {
	active, err := s.media.Complete(r)
	if err != nil {
		s.log.Warn().Err(err).Msg("capture failed")
		s.notice(NoticeError, "microphone unavailable", err)
		s.publishMedia()
		return
	}
	if !active {
		return
	}
	if err := s.send(core.Envelope{Type: core.TypeJoinVoice, SenderName: s.name}); err != nil {
		s.media.Leave()
		s.notice(NoticeError, "cannot join voice while disconnected", err)
	}
	s.publishMedia()
}

func (s *Session) leaveVoice() {
	if s.media.State() == media.StateInactive {
		return
	}
	s.teardownVoice(s.status == core.StatusOpen)
}

// teardownVoice stops capture and destroys every peer. announce sends
// LEAVE_VOICE first when voice was active.
func (s *Session) teardownVoice(announce bool) {
	state := s.media.State()
	if state == media.StateInactive && s.engine.Len() == 0 {
		return
	}
	if announce && state == media.StateActive {
		_ = s.send(core.Envelope{Type: core.TypeLeaveVoice})
	}
	s.media.Leave()
	gone := s.engine.DestroyAll()
	s.dir.ClearVoice()
	s.log.Info().Int("peers", len(gone)).Msg("voice torn down")
	s.publishVoice()
	s.publishMedia()
}

func (s *Session) toggleMute() {
	if _, ok := s.media.ToggleMute(); ok {
		s.publishMedia()
	}
}

func (s *Session) sendChat(env core.Envelope) {
	if err := s.send(env); err != nil {
		s.notice(NoticeError, "chat message not sent", err)
	}
}

func (s *Session) publishMedia() {
	s.publish(Update{Kind: UpdateMedia, Media: s.mediaStatus()})
}
