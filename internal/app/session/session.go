// Package session runs one participant's membership in one room.
//
// A Session owns the directory, the peer engine, the media session and the
// chat log. Everything that touches them runs on a single loop goroutine,
// fed by an unbounded mailbox: control channel envelopes and status
// changes, negotiator callbacks, capture results and public operations.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/meshvoice/internal/app/chat"
	"github.com/dkeye/meshvoice/internal/app/directory"
	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/peer"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrSessionClosed = errors.New("session closed")

// Dialer opens the room's control channel. Everything the channel delivers
// must go to h.
type Dialer func(h core.ChannelHandler) core.ControlChannel

type Options struct {
	Room        domain.RoomID
	Name        string
	Dial        Dialer
	Negotiators core.NegotiatorFactory
	Capture     core.CaptureProvider
	// NegotiationTimeout destroys peers that do not connect in time. Zero disables it.
	NegotiationTimeout time.Duration
	Listener           Listener
	Metrics            *observability.Metrics
	Now                func() time.Time
}

type Session struct {
	room     domain.RoomID
	name     string
	dial     Dialer
	listener Listener
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger

	box  *mailbox
	done chan struct{}

	// loop-owned
	ctx     context.Context
	channel core.ControlChannel
	status  core.ChannelStatus
	dir     *directory.Directory
	engine  *peer.Engine
	media   *media.Session
	chat    *chat.Log
}

func New(opts Options) (*Session, error) {
	name, err := domain.NormalizeName(opts.Name)
	if err != nil {
		return nil, err
	}
	if opts.Dial == nil || opts.Negotiators == nil || opts.Capture == nil {
		return nil, errors.New("session: dialer, negotiators and capture are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		room:     opts.Room,
		name:     name,
		dial:     opts.Dial,
		listener: opts.Listener,
		metrics:  opts.Metrics,
		now:      now,
		log:      log.With().Str("module", "session").Str("room", string(opts.Room)).Logger(),
		box:      newMailbox(),
		done:     make(chan struct{}),
		status:   core.StatusClosed,
		dir:      directory.New(),
		media:    media.New(opts.Capture),
		chat:     chat.NewLog(opts.Room),
	}
	s.engine = peer.NewEngine(opts.Negotiators, func(ev peer.Event) { s.box.post(ev) }, opts.NegotiationTimeout)
	return s, nil
}

type (
	statusEvent struct {
		status   core.ChannelStatus
		abnormal bool
	}
	joinVoiceCmd  struct{}
	leaveVoiceCmd struct{}
	muteCmd       struct{}
	chatCmd       struct{ env core.Envelope }
	closeCmd      struct{}
	queryCmd      struct {
		fn   func()
		done chan struct{}
	}
)

// HandleEnvelope implements core.ChannelHandler.
func (s *Session) HandleEnvelope(env core.Envelope) { s.box.post(env) }

// HandleStatus implements core.ChannelHandler.
func (s *Session) HandleStatus(status core.ChannelStatus, abnormal bool) {
	s.box.post(statusEvent{status: status, abnormal: abnormal})
}

// Run dials the control channel and processes events until ctx is done or
// Close is called. All voice state is torn down before Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.ctx = ctx
	s.channel = s.dial(s)
	s.log.Info().Str("name", s.name).Msg("room session started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.box.notify:
			for _, ev := range s.box.drain() {
				if _, ok := ev.(closeCmd); ok {
					s.shutdown()
					return nil
				}
				s.handle(ev)
			}
		}
	}
}

// Close asks the loop to leave voice, close the channel and stop.
func (s *Session) Close() { s.box.post(closeCmd{}) }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) JoinVoice()  { s.box.post(joinVoiceCmd{}) }
func (s *Session) LeaveVoice() { s.box.post(leaveVoiceCmd{}) }
func (s *Session) ToggleMute() { s.box.post(muteCmd{}) }

// SendChat validates content and queues it for the relay. The message shows
// up in the log once the relay echoes it back.
func (s *Session) SendChat(content string) error {
	env, err := chat.Compose(content, s.name)
	if err != nil {
		return err
	}
	s.box.post(chatCmd{env: env})
	return nil
}

// Snapshot returns the current state as seen by the loop.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	q := queryCmd{done: make(chan struct{})}
	q.fn = func() {
		snap = Snapshot{
			Room:         s.room,
			Self:         s.dir.Self(),
			Name:         s.name,
			Status:       s.status,
			Participants: s.dir.Participants(),
			Voice:        s.engine.Members(),
			Media:        s.mediaStatus(),
			Chat:         s.chat.Messages(),
		}
	}
	s.box.post(q)
	select {
	case <-q.done:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case core.Envelope:
		s.onEnvelope(ev)
	case statusEvent:
		s.onStatus(ev)
	case peer.Event:
		s.onPeerEvent(ev)
	case media.Result:
		s.onCapture(ev)
	case joinVoiceCmd:
		s.joinVoice()
	case leaveVoiceCmd:
		s.leaveVoice()
	case muteCmd:
		s.toggleMute()
	case chatCmd:
		s.sendChat(ev.env)
	case queryCmd:
		ev.fn()
		close(ev.done)
	default:
		s.log.Error().Type("event", ev).Msg("unexpected loop event")
	}
}

func (s *Session) onStatus(ev statusEvent) {
	if ev.status == s.status {
		return
	}
	s.status = ev.status
	s.log.Info().Str("status", string(ev.status)).Bool("abnormal", ev.abnormal).Msg("control channel status")
	if ev.status == core.StatusClosed {
		s.teardownVoice(false)
		s.dir.Reset()
		s.publish(Update{Kind: UpdateDirectory, Participants: s.dir.Participants()})
	}
	s.publish(Update{Kind: UpdateStatus, Status: ev.status})
}

func (s *Session) shutdown() {
	s.teardownVoice(s.status == core.StatusOpen)
	if s.channel != nil {
		s.channel.Close()
	}
	s.status = core.StatusClosed
	s.dir.Reset()
	s.publish(Update{Kind: UpdateStatus, Status: core.StatusClosed})
	s.log.Info().Msg("room session stopped")
}

func (s *Session) send(env core.Envelope) error {
	if s.status != core.StatusOpen {
		return core.ErrNotConnected
	}
	if err := s.channel.Send(env); err != nil {
		s.log.Warn().Err(err).Str("type", string(env.Type)).Msg("send failed")
		return err
	}
	s.metrics.Message("out", string(env.Type))
	return nil
}

func (s *Session) publish(u Update) {
	if s.listener != nil {
		s.listener(u)
	}
}

func (s *Session) notice(level NoticeLevel, text string, err error) {
	s.publish(Update{Kind: UpdateNotice, Notice: Notice{Level: level, Text: text, Err: err}})
}

func (s *Session) mediaStatus() MediaStatus {
	return MediaStatus{State: s.media.State().String(), Muted: s.media.Muted()}
}
