package signal

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRoute forwards a negotiation payload to exactly one room member.
func (ctl *SignalWSController) handleRoute(
	sid domain.SessionID,
	meta *domain.Participant,
	conn *WsSignalConn,
	env core.Envelope,
) {
	if env.TargetID == "" || len(env.Data) == 0 {
		ctl.sendError(conn, "signal needs targetId and data")
		return
	}
	if env.TargetID == sid {
		ctl.sendError(conn, "cannot signal yourself")
		return
	}
	out := core.Envelope{
		Type:       core.TypeSignal,
		SenderID:   sid,
		SenderName: meta.Name,
		Data:       env.Data,
	}
	frame, err := out.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode SIGNAL")
		return
	}
	if err := ctl.Orch.SendTo(sid, env.TargetID, frame); err != nil {
		if errors.Is(err, core.ErrUnknownMember) {
			ctl.opts.Metrics.Drop("unknown_target")
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("target", string(env.TargetID)).Msg("signal to unknown target")
			ctl.sendError(conn, "unknown target "+string(env.TargetID))
		}
		return
	}
	ctl.opts.Metrics.Message("out", string(core.TypeSignal))
}

func (ctl *SignalWSController) handleJoinVoice(sid domain.SessionID, meta *domain.Participant) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("join voice")
	ctl.broadcast(sid, core.Envelope{
		Type:        core.TypeJoinVoice,
		SenderID:    sid,
		SenderName:  meta.Name,
		InitiatorID: sid,
	}, false)
}

func (ctl *SignalWSController) handleLeaveVoice(sid domain.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave voice")
	ctl.broadcast(sid, core.Envelope{
		Type:     core.TypeLeaveVoice,
		SenderID: sid,
		LeaverID: sid,
	}, false)
}
