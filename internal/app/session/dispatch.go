package session

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// onEnvelope is the only entry point for relay traffic. The type is checked
// first; nothing else about an envelope is trusted before that.
func (s *Session) onEnvelope(env core.Envelope) {
	s.metrics.Message("in", string(env.Type))
	switch env.Type {
	case core.TypeRoomState:
		s.dir.Seed(env.SelfID, env.Participants)
		s.log.Info().Str("self", string(env.SelfID)).Int("participants", len(env.Participants)).Msg("room state")
		s.publishDirectory()
	case core.TypeUserJoined:
		if s.dir.Join(domain.Participant{ID: env.UserID, Name: env.SenderName}) {
			s.publishDirectory()
		}
	case core.TypeUserLeft:
		id := env.Departed()
		s.dropPeer(id)
		if s.dir.Leave(id) {
			s.publishDirectory()
		}
	case core.TypeJoinVoice:
		s.onRemoteJoinVoice(env)
	case core.TypeLeaveVoice:
		s.dropPeer(env.SenderID)
	case core.TypeSignal:
		s.onSignal(env)
	case core.TypeChat:
		msg := s.chat.Append(env, s.now())
		s.publish(Update{Kind: UpdateChat, Chat: msg})
	case core.TypeError:
		s.log.Warn().Str("message", env.Message).Msg("relay reported error")
		s.notice(NoticeError, env.Message, nil)
	default:
		s.metrics.Drop("unknown_type")
		s.log.Warn().Str("type", string(env.Type)).Msg("unknown envelope type dropped")
	}
}

func (s *Session) remoteSender(env core.Envelope) (domain.SessionID, bool) {
	id := env.SenderID
	if id == "" || id == s.dir.Self() {
		s.metrics.Drop("bad_sender")
		s.log.Warn().Str("type", string(env.Type)).Str("sender", string(id)).Msg("envelope without usable sender dropped")
		return "", false
	}
	return id, true
}

// onRemoteJoinVoice makes us the initiator toward a participant that joined
// voice after us.
func (s *Session) onRemoteJoinVoice(env core.Envelope) {
	id, ok := s.remoteSender(env)
	if !ok {
		return
	}
	track := s.media.Track()
	if track == nil {
		s.log.Debug().Str("peer", string(id)).Msg("JOIN_VOICE ignored, voice inactive")
		return
	}
	if _, exists := s.engine.Get(id); exists {
		if s.engine.Rename(id, env.SenderName) {
			s.dir.Rename(id, env.SenderName)
			s.publishVoice()
		}
		return
	}
	s.openPeer(id, env.SenderName, domain.RoleInitiator, track)
}

// onSignal routes a negotiation payload. An unknown sender means an
// incoming call, answered only while capture is active.
func (s *Session) onSignal(env core.Envelope) {
	id, ok := s.remoteSender(env)
	if !ok {
		return
	}
	if len(env.Data) == 0 {
		s.metrics.Drop("empty_signal")
		s.log.Warn().Str("peer", string(id)).Msg("SIGNAL without payload dropped")
		return
	}
	if _, exists := s.engine.Get(id); !exists {
		track := s.media.Track()
		if track == nil {
			s.metrics.Drop("voice_inactive")
			s.log.Warn().Str("peer", string(id)).Msg("SIGNAL dropped, voice inactive")
			return
		}
		if !s.openPeer(id, env.SenderName, domain.RoleResponder, track) {
			return
		}
	}
	if err := s.engine.Feed(id, env.Data); err != nil {
		s.log.Warn().Err(err).Str("peer", string(id)).Msg("negotiation payload rejected")
		s.dropPeer(id)
		s.notice(NoticeError, "voice connection with "+s.peerName(id)+" failed", err)
	}
}

func (s *Session) peerName(id domain.SessionID) string {
	if n, ok := s.dir.Name(id); ok {
		return n
	}
	return string(id)
}

func (s *Session) publishDirectory() {
	s.publish(Update{Kind: UpdateDirectory, Participants: s.dir.Participants()})
}

func (s *Session) publishVoice() {
	s.metrics.SetPeers(s.engine.Len())
	s.publish(Update{Kind: UpdateVoice, Voice: s.engine.Members()})
}
