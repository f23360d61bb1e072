package orch

import (
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *observability.Metrics
}

// Broadcast fans a frame out to the sender's room.
func (o *Orchestrator) Broadcast(sid domain.SessionID, data core.Frame, includeSender bool) core.PublishResult {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return core.PublishResult{}
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return core.PublishResult{}
	}
	res := room.Broadcast(sid, data, includeSender)
	o.onDropped(room, res.Dropped)
	return res
}

// SendTo delivers a frame to one member of the sender's room.
// Targets outside that room are reported as core.ErrUnknownMember.
func (o *Orchestrator) SendTo(from, to domain.SessionID, data core.Frame) error {
	roomID, _, ok := o.Registry.RoomOf(from)
	if !ok {
		return core.ErrUnknownMember
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return core.ErrUnknownMember
	}
	res, err := room.SendTo(to, data)
	if err != nil {
		return err
	}
	o.onDropped(room, res.Dropped)
	return nil
}

func (o *Orchestrator) onDropped(room core.RoomService, dropped []core.MemberSession) {
	if len(dropped) == 0 {
		return
	}
	for _, slow := range dropped {
		action := app.DropFrame
		if o.Policy != nil {
			action = o.Policy.OnBackPressure(room, slow)
		}
		sid := slow.Meta().ID
		o.Metrics.Drop("backpressure")
		log.Warn().Str("module", "orch").Str("room", string(room.Room().ID)).Str("sid", string(sid)).Str("action", action.String()).Msg("send queue full")
		switch action {
		case app.KickMember:
			o.KickBySID(sid)
		case app.DropFrame, app.NoAction:
		}
	}
}

// BroadcastRoom fans out to a room by id, for announcements about sessions
// that are no longer bound.
func (o *Orchestrator) BroadcastRoom(id domain.RoomID, data core.Frame) core.PublishResult {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return core.PublishResult{}
	}
	res := room.Broadcast("", data, true)
	o.onDropped(room, res.Dropped)
	return res
}
