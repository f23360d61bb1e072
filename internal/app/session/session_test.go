package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

func offer() json.RawMessage  { return json.RawMessage(`{"type":"offer","sdp":"o"}`) }
func answer() json.RawMessage { return json.RawMessage(`{"type":"answer","sdp":"a"}`) }

func TestNewRejectsBadName(t *testing.T) {
	_, err := New(Options{Name: " ", Dial: newFakeChannel().dial, Negotiators: &fakeFactory{}, Capture: &fakeCapture{}})
	if !errors.Is(err, domain.ErrUsernameEmpty) {
		t.Fatalf("err = %v, want ErrUsernameEmpty", err)
	}
}

func TestAloneJoinVoiceCreatesNoPeers(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")

	snap := h.snapshot(t)
	if len(snap.Voice) != 0 || h.factory.count() != 0 {
		t.Fatalf("Voice = %v, negotiators = %d; want none", snap.Voice, h.factory.count())
	}
	if got := h.ch.sentOf(core.TypeJoinVoice); len(got) != 1 || got[0].SenderName != "me" {
		t.Fatalf("JOIN_VOICE sent = %v", got)
	}
	h.s.ToggleMute()
	if snap := h.snapshot(t); !snap.Media.Muted {
		t.Fatalf("Muted = false after toggle")
	}
	h.s.ToggleMute()
	if snap := h.snapshot(t); snap.Media.Muted {
		t.Fatalf("Muted = true after second toggle")
	}
}

func TestToggleMuteWithoutCaptureIsNoop(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.ch.open()
	h.s.ToggleMute()
	snap := h.snapshot(t)
	if snap.Media.State != "inactive" || snap.Media.Muted {
		t.Fatalf("Media = %+v, want inactive unmuted", snap.Media)
	}
}

func TestSignalDroppedWhileVoiceInactive(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.ch.open()
	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "a", SenderName: "ann", Data: offer()})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "a", SenderName: "ann"})

	snap := h.snapshot(t)
	if len(snap.Voice) != 0 || h.factory.count() != 0 {
		t.Fatalf("peer created while inactive: %v", snap.Voice)
	}
}

func TestRemoteJoinVoiceMakesUsInitiator(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me", domain.Participant{ID: "b", Name: "bob"})

	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b", SenderName: "bob"})
	snap := h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })
	if v := snap.Voice[0]; v.ID != "b" || v.Role != domain.RoleInitiator {
		t.Fatalf("Voice[0] = %+v, want initiator toward b", v)
	}
	h.waitFor(t, "offer sent", func(Snapshot) bool { return len(h.ch.sentOf(core.TypeSignal)) == 1 })
	sig := h.ch.sentOf(core.TypeSignal)[0]
	if sig.TargetID != "b" || sig.SenderName != "me" || string(sig.Data) != string(offer()) {
		t.Fatalf("SIGNAL = %+v", sig)
	}

	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "b", Data: answer()})
	h.waitFor(t, "connected", func(s Snapshot) bool {
		return len(s.Voice) == 1 && s.Voice[0].State == domain.PeerConnected
	})
}

func TestSignalFirstMakesUsResponder(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")

	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "a", SenderName: "ann", Data: offer()})
	snap := h.waitFor(t, "connected responder", func(s Snapshot) bool {
		return len(s.Voice) == 1 && s.Voice[0].State == domain.PeerConnected
	})
	if snap.Voice[0].Role != domain.RoleResponder || snap.Voice[0].Name != "ann" {
		t.Fatalf("Voice[0] = %+v", snap.Voice[0])
	}
	if got := h.ch.sentOf(core.TypeSignal); len(got) != 1 || got[0].TargetID != "a" {
		t.Fatalf("answer not sent back to a: %v", got)
	}
}

// A SIGNAL racing ahead of JOIN_VOICE must not produce a second peer.
func TestReorderedJoinVoiceKeepsOnePeer(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")

	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "a", Data: offer()})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "a", SenderName: "ann"})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "a", SenderName: "ann"})

	snap := h.snapshot(t)
	if len(snap.Voice) != 1 || h.factory.count() != 1 {
		t.Fatalf("Voice = %v, negotiators = %d; want exactly one", snap.Voice, h.factory.count())
	}
	if snap.Voice[0].Role != domain.RoleResponder || snap.Voice[0].Name != "ann" {
		t.Fatalf("Voice[0] = %+v, want responder renamed to ann", snap.Voice[0])
	}
}

func TestLeaveVoiceIdempotent(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me", domain.Participant{ID: "b", Name: "bob"})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b", SenderName: "bob"})
	h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })
	neg := h.factory.last("b")

	h.ch.deliver(core.Envelope{Type: core.TypeLeaveVoice, SenderID: "b"})
	once := h.snapshot(t)
	h.ch.deliver(core.Envelope{Type: core.TypeLeaveVoice, SenderID: "b"})
	twice := h.snapshot(t)

	if len(once.Voice) != 0 || len(twice.Voice) != 0 {
		t.Fatalf("Voice after leave = %v / %v", once.Voice, twice.Voice)
	}
	if len(once.Participants) != 1 || len(twice.Participants) != 1 {
		t.Fatalf("LEAVE_VOICE changed room presence: %v", twice.Participants)
	}
	if !neg.isClosed() {
		t.Fatalf("negotiator not closed")
	}
}

func TestUserLeftRemovesPresenceAndPeer(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeUserJoined, UserID: "b", SenderName: "bob"})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b", SenderName: "bob"})
	h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })

	h.ch.deliver(core.Envelope{Type: core.TypeUserLeft, UserID: "bob-user", LeaverID: "b"})
	h.ch.deliver(core.Envelope{Type: core.TypeUserLeft, UserID: "bob-user", LeaverID: "b"})
	snap := h.snapshot(t)
	if len(snap.Voice) != 0 || len(snap.Participants) != 0 {
		t.Fatalf("after USER_LEFT: voice %v participants %v", snap.Voice, snap.Participants)
	}
}

func TestUserJoinedDoesNotNegotiate(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeUserJoined, UserID: "b", SenderName: "bob"})
	snap := h.snapshot(t)
	if len(snap.Participants) != 1 || snap.Participants[0].Name != "bob" {
		t.Fatalf("Participants = %v", snap.Participants)
	}
	if h.factory.count() != 0 {
		t.Fatalf("USER_JOINED created a negotiator")
	}
}

func TestChatWithoutVoice(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.ch.open()
	h.ch.deliver(core.Envelope{Type: core.TypeRoomState, SelfID: "me"})

	if err := h.s.SendChat("hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	h.waitFor(t, "chat sent", func(Snapshot) bool { return len(h.ch.sentOf(core.TypeChat)) == 1 })
	h.ch.deliver(core.Envelope{Type: core.TypeChat, SenderID: "me", SenderName: "me", Content: "hello"})
	h.ch.deliver(core.Envelope{Type: core.TypeChat, SenderID: "b", SenderName: "bob", Content: "hi", Data: offer()})

	snap := h.snapshot(t)
	if len(snap.Chat) != 2 || snap.Chat[0].Content != "hello" || snap.Chat[1].Content != "hi" {
		t.Fatalf("Chat = %+v", snap.Chat)
	}
	if len(snap.Voice) != 0 || h.factory.count() != 0 {
		t.Fatalf("chat touched negotiation state")
	}
	if err := h.s.SendChat("   "); err == nil {
		t.Fatalf("SendChat(blank) err = nil")
	}
}

func TestChannelDropTearsDownVoice(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "a", Data: offer()})
	h.waitFor(t, "peer a", func(s Snapshot) bool { return len(s.Voice) == 1 })
	neg := h.factory.last("a")

	h.ch.setStatus(core.StatusClosed, true)
	snap := h.snapshot(t)
	if len(snap.Voice) != 0 {
		t.Fatalf("Voice = %v after drop", snap.Voice)
	}
	if snap.Media.State != "inactive" || snap.Status != core.StatusClosed {
		t.Fatalf("Media = %v Status = %v", snap.Media.State, snap.Status)
	}
	if !neg.isClosed() {
		t.Fatalf("negotiator survived channel drop")
	}
	if len(snap.Participants) != 0 {
		t.Fatalf("directory survived channel drop: %v", snap.Participants)
	}
}

func TestCaptureFailureNoticed(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{err: errors.New("permission denied")}, 0)
	h.ch.open()
	h.s.JoinVoice()
	deadline := time.Now().Add(2 * time.Second)
	for len(h.rec.notices()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no notice for capture failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	n := h.rec.notices()[0]
	if n.Level != NoticeError || !errors.Is(n.Err, core.ErrCaptureDenied) {
		t.Fatalf("Notice = %+v", n)
	}
	if snap := h.snapshot(t); snap.Media.State != "inactive" {
		t.Fatalf("Media = %v, want inactive", snap.Media.State)
	}
	if len(h.ch.sentOf(core.TypeJoinVoice)) != 0 {
		t.Fatalf("JOIN_VOICE sent after capture failure")
	}
}

func TestJoinVoiceWhileDisconnected(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.s.JoinVoice()
	h.snapshot(t)
	notices := h.rec.notices()
	if len(notices) != 1 || !errors.Is(notices[0].Err, core.ErrNotConnected) {
		t.Fatalf("notices = %+v", notices)
	}
}

func TestNegotiationErrorDestroysOnlyThatPeer(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b", SenderName: "bob"})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "c", SenderName: "cat"})
	h.waitFor(t, "two peers", func(s Snapshot) bool { return len(s.Voice) == 2 })

	h.factory.last("b").ev.OnError(errors.New("ice failed"))
	snap := h.waitFor(t, "b gone", func(s Snapshot) bool { return len(s.Voice) == 1 })
	if snap.Voice[0].ID != "c" {
		t.Fatalf("Voice = %v, want only c", snap.Voice)
	}

	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "c", Data: json.RawMessage(`{"type":"bogus"}`)})
	h.waitFor(t, "c gone", func(s Snapshot) bool { return len(s.Voice) == 0 })
}

func TestStaleCloseAfterRejoin(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b"})
	h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })
	old := h.factory.last("b")
	h.ch.deliver(core.Envelope{Type: core.TypeLeaveVoice, SenderID: "b"})
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b"})
	h.waitFor(t, "second peer b", func(Snapshot) bool { return h.factory.count() == 2 })

	old.ev.OnClosed()
	snap := h.snapshot(t)
	if len(snap.Voice) != 1 {
		t.Fatalf("stale close removed the new peer: %v", snap.Voice)
	}
}

func TestLocalLeaveVoice(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b"})
	h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })

	h.s.LeaveVoice()
	snap := h.snapshot(t)
	if len(snap.Voice) != 0 || snap.Media.State != "inactive" {
		t.Fatalf("after leave: voice %v media %v", snap.Voice, snap.Media)
	}
	if len(h.ch.sentOf(core.TypeLeaveVoice)) != 1 {
		t.Fatalf("LEAVE_VOICE not broadcast")
	}
	// a late offer after leaving is gated again
	h.ch.deliver(core.Envelope{Type: core.TypeSignal, SenderID: "c", Data: offer()})
	if snap := h.snapshot(t); len(snap.Voice) != 0 {
		t.Fatalf("peer created after leave")
	}
}

func TestErrorEnvelopeSurfaced(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.ch.open()
	h.ch.deliver(core.Envelope{Type: core.TypeError, Message: "rate limited"})
	h.ch.deliver(core.Envelope{Type: "SOMETHING_NEW"})
	snap := h.snapshot(t)
	n := h.rec.notices()
	if len(n) != 1 || n[0].Text != "rate limited" {
		t.Fatalf("notices = %+v", n)
	}
	if snap.Status != core.StatusOpen {
		t.Fatalf("Status = %v, want open", snap.Status)
	}
}

func TestNegotiationTimeout(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 30*time.Millisecond)
	h.factory.mu.Lock()
	h.factory.silent = true
	h.factory.mu.Unlock()
	h.joinedVoice(t, "me")
	h.ch.deliver(core.Envelope{Type: core.TypeJoinVoice, SenderID: "b"})
	h.waitFor(t, "peer b", func(s Snapshot) bool { return len(s.Voice) == 1 })
	h.waitFor(t, "timeout", func(s Snapshot) bool { return len(s.Voice) == 0 })
}

func TestCloseStopsLoop(t *testing.T) {
	h := newHarness(t, "me", &fakeCapture{}, 0)
	h.joinedVoice(t, "me")
	h.s.Close()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
	if !h.ch.closed {
		t.Fatalf("channel not closed")
	}
	if len(h.ch.sentOf(core.TypeLeaveVoice)) != 1 {
		t.Fatalf("LEAVE_VOICE not sent on close")
	}
	if _, err := h.s.Snapshot(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Snapshot err = %v, want ErrSessionClosed", err)
	}
}

// Two sessions through an in-memory relay: the one already in voice
// initiates, the newcomer answers, each ends with exactly one peer.
func TestTwoParticipantsNegotiateThroughRelay(t *testing.T) {
	relay := newMemRelay()
	a := newHarness(t, "ann", &fakeCapture{}, 0)
	b := newHarness(t, "bob", &fakeCapture{}, 0)

	relay.attach("A", "ann", a.ch)
	a.s.JoinVoice()
	a.waitFor(t, "ann in voice", func(s Snapshot) bool { return s.Media.State == "active" })

	relay.attach("B", "bob", b.ch)
	b.waitFor(t, "bob sees ann", func(s Snapshot) bool { return len(s.Participants) == 1 })
	b.s.JoinVoice()

	sa := a.waitFor(t, "ann connected", func(s Snapshot) bool {
		return len(s.Voice) == 1 && s.Voice[0].State == domain.PeerConnected
	})
	sb := b.waitFor(t, "bob connected", func(s Snapshot) bool {
		return len(s.Voice) == 1 && s.Voice[0].State == domain.PeerConnected
	})
	if sa.Voice[0].Role != domain.RoleInitiator || sa.Voice[0].ID != "B" || sa.Voice[0].Name != "bob" {
		t.Fatalf("ann's peer = %+v", sa.Voice[0])
	}
	if sb.Voice[0].Role != domain.RoleResponder || sb.Voice[0].ID != "A" || sb.Voice[0].Name != "ann" {
		t.Fatalf("bob's peer = %+v", sb.Voice[0])
	}
	if a.factory.count() != 1 || b.factory.count() != 1 {
		t.Fatalf("negotiators = %d / %d, want 1 / 1", a.factory.count(), b.factory.count())
	}

	a.s.SendChat("welcome")
	b.waitFor(t, "chat echo", func(s Snapshot) bool { return len(s.Chat) == 1 && s.Chat[0].SenderName == "ann" })
}
