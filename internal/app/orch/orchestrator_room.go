package orch

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join binds a fresh connection to its room. A session id is bound at most
// once; a repeated Join moves it.
func (o *Orchestrator) Join(sid domain.SessionID, roomID domain.RoomID, sess core.MemberSession, cancel func()) core.RoomService {
	if prev, _, ok := o.Registry.RoomOf(sid); ok {
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("rebinding session")
	}
	room := o.Rooms.GetOrCreate(roomID)
	o.Registry.Bind(sid, roomID, sess, cancel)
	room.AddMember(sid, sess)
	o.Metrics.SessionOpened()
	o.Metrics.SetRooms(len(o.Rooms.List()))
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")
	return room
}

// Leave removes sid from its room and the registry. It reports the room the
// session was in, if any.
func (o *Orchestrator) Leave(sid domain.SessionID) (domain.RoomID, bool) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", false
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		room.RemoveMember(sid)
	}
	o.Registry.Unbind(sid)
	o.Rooms.StopRoom(roomID)
	o.Metrics.SessionClosed()
	o.Metrics.SetRooms(len(o.Rooms.List()))
	return roomID, true
}

// KickBySID tears the connection down. Membership cleanup follows from the
// adapter's read loop exiting.
func (o *Orchestrator) KickBySID(sid domain.SessionID) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	o.Metrics.Kick()
	o.Registry.Cancel(sid)
	if sig := sess.Signal(); sig != nil {
		sig.Close()
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("kicked")
}

func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
	}
}

// Members lists the room's participants in join order.
func (o *Orchestrator) Members(id domain.RoomID) ([]domain.Participant, bool) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}
