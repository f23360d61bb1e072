package signal

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// announceJoin gives the newcomer the current roster and tells everyone
// else about the newcomer.
func (ctl *SignalWSController) announceJoin(
	sid domain.SessionID,
	meta *domain.Participant,
	room core.RoomService,
	conn *WsSignalConn,
) {
	present := make([]domain.Participant, 0, room.MemberCount())
	for _, p := range room.MembersSnapshot() {
		if p.ID != sid {
			present = append(present, p)
		}
	}
	ctl.sendEnvelope(conn, core.Envelope{
		Type:         core.TypeRoomState,
		SelfID:       sid,
		Participants: present,
	})

	ctl.broadcast(sid, core.Envelope{
		Type:        core.TypeUserJoined,
		UserID:      sid,
		InitiatorID: sid,
		SenderName:  meta.Name,
	}, false)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room.Room().ID)).Int("present", len(present)).Msg("join")
}

// handleLeave runs once per connection, after its read loop ends.
func (ctl *SignalWSController) handleLeave(sid domain.SessionID) {
	ctl.limiter.Forget(sid)
	roomID, ok := ctl.Orch.Leave(sid)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("leave")
	frame, err := core.Envelope{Type: core.TypeUserLeft, UserID: sid, LeaverID: sid}.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode USER_LEFT")
		return
	}
	ctl.opts.Metrics.Message("out", string(core.TypeUserLeft))
	ctl.Orch.BroadcastRoom(roomID, frame)
}
