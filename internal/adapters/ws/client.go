// Package ws is the participant side of the control channel: a websocket
// to the relay that reconnects at a fixed interval after abnormal closes.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var ErrBackpressure = errors.New("backpressure")

// ReconnectPolicy is the fixed-interval retry rule. MaxAttempts 0 retries forever.
type ReconnectPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

type Options struct {
	ServerURL  string
	Room       domain.RoomID
	Token      string
	Reconnect  ReconnectPolicy
	PingPeriod time.Duration
	Dialer     *websocket.Dialer
	Metrics    *observability.Metrics
}

// Client implements core.ControlChannel.
type Client struct {
	url     string
	policy  ReconnectPolicy
	ping    time.Duration
	dialer  *websocket.Dialer
	metrics *observability.Metrics
	h       core.ChannelHandler
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	status   core.ChannelStatus
	link     *link
	closed   bool
	timer    *time.Timer
	attempts int
}

// link is one physical websocket. A reconnect gets a fresh link.
type link struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// SignalURL builds the relay endpoint for a room. http(s) schemes are
// mapped to ws(s).
func SignalURL(server string, room domain.RoomID, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal/" + url.PathEscape(string(room))
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial starts connecting in the background and returns immediately.
// Connection failures are never returned; they show up as status changes
// on h followed by reconnect attempts.
func Dial(opts Options, h core.ChannelHandler) (*Client, error) {
	u, err := SignalURL(opts.ServerURL, opts.Room, opts.Token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ping := opts.PingPeriod
	if ping <= 0 {
		ping = (pongWait * 9) / 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     u,
		policy:  opts.Reconnect,
		ping:    ping,
		dialer:  dialer,
		metrics: opts.Metrics,
		h:       h,
		ctx:     ctx,
		cancel:  cancel,
		status:  core.StatusClosed,
	}
	go c.connect()
	return c, nil
}

func (c *Client) Status() core.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setStatusLocked reports a change to the handler. Handlers only enqueue,
// so calling them under c.mu keeps status changes ordered.
func (c *Client) setStatusLocked(st core.ChannelStatus, abnormal bool) {
	if c.status == st {
		return
	}
	c.status = st
	c.h.HandleStatus(st, abnormal)
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(core.StatusConnecting, false)
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.closed {
			return
		}
		log.Warn().Err(err).Str("module", "ws").Int("attempt", c.attempts).Msg("dial failed")
		c.setStatusLocked(core.StatusClosed, true)
		c.scheduleLocked()
		return
	}
	if c.closed {
		_ = conn.Close()
		return
	}
	l := &link{conn: conn, send: make(chan core.Frame, sendBuffer), done: make(chan struct{})}
	c.link = l
	c.attempts = 0
	log.Info().Str("module", "ws").Msg("control channel open")
	c.setStatusLocked(core.StatusOpen, false)
	go c.writePump(l)
	go c.readPump(l)
}

func (c *Client) scheduleLocked() {
	if c.policy.MaxAttempts > 0 && c.attempts >= c.policy.MaxAttempts {
		log.Error().Str("module", "ws").Int("attempts", c.attempts).Msg("giving up reconnecting")
		return
	}
	c.attempts++
	c.metrics.Reconnect()
	log.Info().Str("module", "ws").Dur("in", c.policy.Interval).Int("attempt", c.attempts).Msg("reconnect scheduled")
	c.timer = time.AfterFunc(c.policy.Interval, c.connect)
}

func (c *Client) readPump(l *link) {
	l.conn.SetReadLimit(maxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.linkDown(l, err)
			return
		}
		env, err := core.DecodeEnvelope(data)
		if err != nil {
			c.metrics.Drop("malformed")
			log.Warn().Err(err).Str("module", "ws").Msg("envelope dropped")
			continue
		}
		c.h.HandleEnvelope(env)
	}
}

func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case f := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				l.shutdown()
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.shutdown()
				return
			}
		}
	}
}

func (c *Client) linkDown(l *link, err error) {
	l.shutdown()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != l || c.closed {
		return
	}
	c.link = nil
	abnormal := !websocket.IsCloseError(err, websocket.CloseNormalClosure)
	log.Info().Err(err).Str("module", "ws").Bool("abnormal", abnormal).Msg("control channel closed")
	c.setStatusLocked(core.StatusClosed, abnormal)
	if abnormal {
		c.scheduleLocked()
	}
}

// Send queues an envelope. It fails fast when the channel is not open or
// the outbound queue is full.
func (c *Client) Send(env core.Envelope) error {
	f, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return core.ErrNotConnected
	}
	select {
	case <-l.done:
		return core.ErrNotConnected
	default:
	}
	select {
	case l.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close sends a normal closure and cancels any pending reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	l := c.link
	c.link = nil
	c.cancel()
	c.setStatusLocked(core.StatusClosed, false)
	c.mu.Unlock()

	if l != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		l.shutdown()
	}
	log.Info().Str("module", "ws").Msg("control channel closed by owner")
}
