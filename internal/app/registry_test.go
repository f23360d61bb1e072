package app

import (
	"testing"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type nopConn struct{ closed bool }

func (c *nopConn) TrySend(core.Frame) error { return nil }
func (c *nopConn) Close()                   { c.closed = true }

func member(id string) core.MemberSession {
	return core.NewMemberSession(&domain.Participant{ID: domain.SessionID(id), Name: id}, &nopConn{})
}

func TestRegistryBindAndCancel(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("a", "lobby", member("a"), func() { canceled = true })
	r.Bind("b", "lobby", member("b"), nil)
	r.Bind("c", "other", member("c"), nil)

	room, sess, ok := r.RoomOf("a")
	if !ok || room != "lobby" || sess.Meta().ID != "a" {
		t.Fatalf("RoomOf(a) = %q, %v, %v", room, sess, ok)
	}
	if got := len(r.MembersOfRoom("lobby")); got != 2 {
		t.Fatalf("MembersOfRoom(lobby) = %d, want 2", got)
	}
	if !r.Cancel("a") || !canceled {
		t.Fatal("Cancel(a) did not run cancel func")
	}
	if r.Cancel("missing") {
		t.Fatal("Cancel(missing) = true, want false")
	}
	if !r.Unbind("a") || r.Unbind("a") {
		t.Fatal("Unbind(a) should succeed exactly once")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestRoomManagerStopsOnlyEmptyRooms(t *testing.T) {
	m := NewRoomManager()
	room := m.GetOrCreate("lobby")
	if m.GetOrCreate("lobby") != room {
		t.Fatal("GetOrCreate returned a different room for the same id")
	}
	room.AddMember("a", member("a"))
	m.StopRoom("lobby")
	if _, ok := m.Get("lobby"); !ok {
		t.Fatal("occupied room was stopped")
	}
	room.RemoveMember("a")
	m.StopRoom("lobby")
	if _, ok := m.Get("lobby"); ok {
		t.Fatal("empty room still registered")
	}
}

func TestRoomManagerListSorted(t *testing.T) {
	m := NewRoomManager()
	m.GetOrCreate("zulu").AddMember("a", member("a"))
	m.GetOrCreate("alpha")
	list := m.List()
	if len(list) != 2 || list[0].ID != "alpha" || list[1].ID != "zulu" {
		t.Fatalf("List = %+v", list)
	}
	if list[1].MemberCount != 1 {
		t.Fatalf("zulu MemberCount = %d, want 1", list[1].MemberCount)
	}
}

func TestPolicies(t *testing.T) {
	if got := (SimplePolicy{}).OnBackPressure(nil, nil); got != KickMember {
		t.Fatalf("SimplePolicy = %v, want kick", got)
	}
	if got := (TolerantPolicy{}).OnBackPressure(nil, nil); got != DropFrame {
		t.Fatalf("TolerantPolicy = %v, want drop", got)
	}
}
