package domain

// Role is the side a participant plays in one pairwise negotiation.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// PeerState only moves forward: new -> negotiating -> connected -> closed.
// Closed is reachable from any state.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

// VoiceMember is a remote participant we hold a peer connection with.
type VoiceMember struct {
	ID    SessionID `json:"id"`
	Name  string    `json:"name"`
	Role  Role      `json:"role"`
	State PeerState `json:"state"`
}
