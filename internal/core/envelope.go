package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/meshvoice/internal/domain"
)

type MessageType string

const (
	TypeUserJoined MessageType = "USER_JOINED"
	TypeUserLeft   MessageType = "USER_LEFT"
	TypeJoinVoice  MessageType = "JOIN_VOICE"
	TypeLeaveVoice MessageType = "LEAVE_VOICE"
	TypeSignal     MessageType = "SIGNAL"
	TypeChat       MessageType = "CHAT"
	TypeRoomState  MessageType = "ROOM_STATE"
	TypeError      MessageType = "ERROR"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the single wire record of the control channel.
// Which fields are meaningful depends on Type.
type Envelope struct {
	Type         MessageType          `json:"type"`
	UserID       domain.SessionID     `json:"userId,omitempty"`
	InitiatorID  domain.SessionID     `json:"initiatorId,omitempty"`
	LeaverID     domain.SessionID     `json:"leaverId,omitempty"`
	SenderID     domain.SessionID     `json:"senderId,omitempty"`
	SenderName   string               `json:"senderName,omitempty"`
	TargetID     domain.SessionID     `json:"targetId,omitempty"`
	Data         json.RawMessage      `json:"data,omitempty"`
	Content      string               `json:"content,omitempty"`
	Timestamp    string               `json:"timestamp,omitempty"`
	SelfID       domain.SessionID     `json:"selfId,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	Message      string               `json:"message,omitempty"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

func (e Envelope) Encode() (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// Departed returns the session that left, preferring leaverId.
func (e Envelope) Departed() domain.SessionID {
	if e.LeaverID != "" {
		return e.LeaverID
	}
	return e.UserID
}

func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Message: msg}
}
