package signal

import (
	"strings"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleChat stamps the message with the sender and server time and echoes
// it to the whole room, sender included.
func (ctl *SignalWSController) handleChat(
	sid domain.SessionID,
	meta *domain.Participant,
	conn *WsSignalConn,
	env core.Envelope,
) {
	content := strings.TrimSpace(env.Content)
	if content == "" {
		ctl.sendError(conn, "empty message")
		return
	}
	if len(content) > domain.MaxChatContentLen {
		ctl.sendError(conn, "message too long")
		return
	}
	if !ctl.limiter.Allow(sid) {
		ctl.opts.Metrics.Drop("rate_limited")
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("chat rate limited")
		ctl.sendError(conn, "rate limited")
		return
	}
	ctl.broadcast(sid, core.Envelope{
		Type:       core.TypeChat,
		SenderID:   sid,
		SenderName: meta.Name,
		Content:    content,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}, true)
}
