package core

import "github.com/dkeye/meshvoice/internal/domain"

// MemberSession binds a relay participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}
