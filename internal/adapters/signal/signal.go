package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/auth"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	sendQueue = 64
	writeWait = 10 * time.Second
)

type Options struct {
	// Verifier checks ?token=. Nil accepts anyone, naming them from ?name=.
	Verifier     *auth.Verifier
	ReadLimit    int64
	PingPeriod   time.Duration
	ChatLimit    int
	ChatInterval time.Duration
	Metrics      *observability.Metrics
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = 5
	}
	if opts.ChatInterval <= 0 {
		opts.ChatInterval = 3 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRoomRateLimiter(opts.ChatLimit, opts.ChatInterval),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// identify resolves the caller's display name from the handshake.
func (ctl *SignalWSController) identify(c *gin.Context) (string, error) {
	raw := c.Query("name")
	if ctl.opts.Verifier != nil {
		claims, err := ctl.opts.Verifier.Verify(c.Query("token"))
		if err != nil {
			return "", err
		}
		raw = claims.Name
	}
	name, err := domain.NormalizeName(raw)
	if errors.Is(err, domain.ErrUsernameEmpty) {
		return domain.UnknownName, nil
	}
	return name, err
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID, err := domain.ParseRoomID(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name, err := ctl.identify(c)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrInvalidToken) {
			status = http.StatusUnauthorized
		}
		log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("handshake rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := domain.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Str("name", name).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueue),
	}
	meta := &domain.Participant{ID: sid, Name: name}
	sess := core.NewMemberSession(meta, conn)

	ctx, cancel := context.WithCancel(ctx)
	room := ctl.Orch.Join(sid, roomID, sess, cancel)
	ctl.announceJoin(sid, meta, room, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, meta, conn)
}
