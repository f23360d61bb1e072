package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeChannel struct {
	mu     sync.Mutex
	ready  chan struct{}
	h      core.ChannelHandler
	status core.ChannelStatus
	sent   []core.Envelope
	closed bool
	onSend func(core.Envelope)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{ready: make(chan struct{}), status: core.StatusConnecting}
}

func (c *fakeChannel) dial(h core.ChannelHandler) core.ControlChannel {
	c.h = h
	close(c.ready)
	return c
}

func (c *fakeChannel) handler() core.ChannelHandler {
	<-c.ready
	return c.h
}

func (c *fakeChannel) Send(env core.Envelope) error {
	c.mu.Lock()
	if c.status != core.StatusOpen {
		c.mu.Unlock()
		return core.ErrNotConnected
	}
	c.sent = append(c.sent, env)
	fn := c.onSend
	c.mu.Unlock()
	if fn != nil {
		fn(env)
	}
	return nil
}

func (c *fakeChannel) Status() core.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.status = core.StatusClosed
	c.mu.Unlock()
}

func (c *fakeChannel) setStatus(st core.ChannelStatus, abnormal bool) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	c.handler().HandleStatus(st, abnormal)
}

func (c *fakeChannel) open() { c.setStatus(core.StatusOpen, false) }

func (c *fakeChannel) deliver(env core.Envelope) { c.handler().HandleEnvelope(env) }

func (c *fakeChannel) sentOf(typ core.MessageType) []core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Envelope
	for _, e := range c.sent {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// scriptNegotiator plays a two-message offer/answer exchange.
type scriptNegotiator struct {
	mu     sync.Mutex
	role   domain.Role
	ev     core.NegotiatorEvents
	fed    []string
	closed bool
	silent bool
}

func (n *scriptNegotiator) Start() error {
	if n.role == domain.RoleInitiator {
		n.ev.OnSignal(json.RawMessage(`{"type":"offer","sdp":"o"}`))
	}
	return nil
}

func (n *scriptNegotiator) HandleSignal(p json.RawMessage) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(p, &msg); err != nil {
		return err
	}
	n.mu.Lock()
	n.fed = append(n.fed, msg.Type)
	silent := n.silent
	n.mu.Unlock()
	if silent {
		return nil
	}
	switch msg.Type {
	case "offer":
		if n.role == domain.RoleResponder {
			n.ev.OnSignal(json.RawMessage(`{"type":"answer","sdp":"a"}`))
			n.ev.OnConnected()
			n.ev.OnRemoteStream("stream-" + string(n.role))
		}
	case "answer":
		if n.role == domain.RoleInitiator {
			n.ev.OnConnected()
		}
	case "bogus":
		return errors.New("bogus payload")
	}
	return nil
}

func (n *scriptNegotiator) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
}

func (n *scriptNegotiator) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type fakeFactory struct {
	mu     sync.Mutex
	made   map[domain.SessionID][]*scriptNegotiator
	silent bool
}

func (f *fakeFactory) NewNegotiator(remote domain.SessionID, role domain.Role, local core.TrackSource, ev core.NegotiatorEvents) (core.Negotiator, error) {
	if local == nil {
		return nil, errors.New("no local track")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = map[domain.SessionID][]*scriptNegotiator{}
	}
	n := &scriptNegotiator{role: role, ev: ev, silent: f.silent}
	f.made[remote] = append(f.made[remote], n)
	return n, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.made {
		n += len(l)
	}
	return n
}

func (f *fakeFactory) last(id domain.SessionID) *scriptNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.made[id]
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}

type fakeStream struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (s *fakeStream) Track() webrtc.TrackLocal { return nil }

func (s *fakeStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeStream) SetEnabled(b bool) {
	s.mu.Lock()
	s.enabled = b
	s.mu.Unlock()
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

type fakeCapture struct {
	err error
}

func (c *fakeCapture) Acquire(context.Context) (core.LocalStream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &fakeStream{enabled: true}, nil
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) add(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, u := range r.updates {
		if u.Kind == UpdateNotice {
			out = append(out, u.Notice)
		}
	}
	return out
}

type harness struct {
	s       *Session
	ch      *fakeChannel
	factory *fakeFactory
	rec     *recorder
}

func newHarness(t *testing.T, name string, capture core.CaptureProvider, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{ch: newFakeChannel(), factory: &fakeFactory{}, rec: &recorder{}}
	s, err := New(Options{
		Room:               "lobby",
		Name:               name,
		Dial:               h.ch.dial,
		Negotiators:        h.factory,
		Capture:            capture,
		NegotiationTimeout: timeout,
		Listener:           h.rec.add,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return h
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := h.snapshot(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// joinedVoice opens the channel, seeds the room and activates voice.
func (h *harness) joinedVoice(t *testing.T, self domain.SessionID, others ...domain.Participant) {
	t.Helper()
	h.ch.open()
	h.ch.deliver(core.Envelope{Type: core.TypeRoomState, SelfID: self, Participants: others})
	h.s.JoinVoice()
	h.waitFor(t, "voice active", func(s Snapshot) bool { return s.Media.State == "active" })
}

// memRelay routes envelopes between fake channels the way the relay does.
type memRelay struct {
	mu      sync.Mutex
	members map[domain.SessionID]*fakeChannel
	names   map[domain.SessionID]string
	order   []domain.SessionID
}

func newMemRelay() *memRelay {
	return &memRelay{members: map[domain.SessionID]*fakeChannel{}, names: map[domain.SessionID]string{}}
}

func (r *memRelay) attach(id domain.SessionID, name string, ch *fakeChannel) {
	r.mu.Lock()
	var present []domain.Participant
	for _, o := range r.order {
		present = append(present, domain.Participant{ID: o, Name: r.names[o]})
	}
	others := r.others(id)
	r.members[id] = ch
	r.names[id] = name
	r.order = append(r.order, id)
	r.mu.Unlock()

	ch.mu.Lock()
	ch.onSend = func(env core.Envelope) { r.route(id, env) }
	ch.mu.Unlock()
	ch.open()
	ch.deliver(core.Envelope{Type: core.TypeRoomState, SelfID: id, Participants: present})
	for _, o := range others {
		o.deliver(core.Envelope{Type: core.TypeUserJoined, UserID: id, SenderName: name})
	}
}

func (r *memRelay) others(id domain.SessionID) []*fakeChannel {
	var out []*fakeChannel
	for sid, ch := range r.members {
		if sid != id {
			out = append(out, ch)
		}
	}
	return out
}

func (r *memRelay) route(from domain.SessionID, env core.Envelope) {
	r.mu.Lock()
	env.SenderID = from
	var targets []*fakeChannel
	switch env.Type {
	case core.TypeSignal:
		if ch, ok := r.members[env.TargetID]; ok {
			targets = append(targets, ch)
		}
		env.TargetID = ""
	case core.TypeChat:
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		for _, o := range r.order {
			targets = append(targets, r.members[o])
		}
	default:
		targets = r.others(from)
	}
	r.mu.Unlock()
	for _, ch := range targets {
		ch.deliver(env)
	}
}
