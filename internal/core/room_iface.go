package core

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/domain"
)

var ErrUnknownMember = errors.New("unknown member")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a relay room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	// MembersSnapshot lists members in join order.
	MembersSnapshot() []domain.Participant

	AddMember(sid domain.SessionID, ms MemberSession)
	RemoveMember(sid domain.SessionID)
	Broadcast(from domain.SessionID, data Frame, includeSender bool) PublishResult
	// SendTo delivers to exactly one member. A full queue is reported in
	// PublishResult.Dropped, an absent member as ErrUnknownMember.
	SendTo(sid domain.SessionID, data Frame) (PublishResult, error)
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	// StopRoom forgets the room if it has no members left.
	StopRoom(id domain.RoomID)
}
