package signal

import (
	"context"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid domain.SessionID, meta *domain.Participant, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.handleLeave(sid)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(sid, meta, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid domain.SessionID, meta *domain.Participant, c *WsSignalConn, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		ctl.opts.Metrics.Drop("malformed")
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "malformed message")
		return
	}
	ctl.opts.Metrics.Message("in", string(env.Type))

	switch env.Type {
	case core.TypeChat:
		ctl.handleChat(sid, meta, c, env)
	case core.TypeSignal:
		ctl.handleRoute(sid, meta, c, env)
	case core.TypeJoinVoice:
		ctl.handleJoinVoice(sid, meta)
	case core.TypeLeaveVoice:
		ctl.handleLeaveVoice(sid)
	default:
		ctl.opts.Metrics.Drop("unknown_type")
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendEnvelope(c *WsSignalConn, env core.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEnvelope marshal")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(env.Type)).Msg("sendEnvelope")
		return
	}
	ctl.opts.Metrics.Message("out", string(env.Type))
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendEnvelope(c, core.ErrorEnvelope(msg))
}

func (ctl *SignalWSController) broadcast(sid domain.SessionID, env core.Envelope, includeSender bool) {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	res := ctl.Orch.Broadcast(sid, frame, includeSender)
	for i := 0; i < res.SendTo; i++ {
		ctl.opts.Metrics.Message("out", string(env.Type))
	}
}
