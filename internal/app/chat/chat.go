// Package chat keeps the per-room chat log and builds outbound chat envelopes.
package chat

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrEmptyMessage   = errors.New("chat message empty")
	ErrMessageTooLong = errors.New("chat message too long")
)

// timestamp layouts accepted from relays, most specific first
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Log is an insertion-ordered chat history for one room. Not threadsafe.
type Log struct {
	room     domain.RoomID
	messages []domain.ChatMessage
}

func NewLog(room domain.RoomID) *Log {
	return &Log{room: room}
}

func (l *Log) Room() domain.RoomID { return l.room }

// Append records an inbound CHAT envelope. now stamps messages whose
// timestamp is missing or unreadable.
func (l *Log) Append(env core.Envelope, now time.Time) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   env.SenderID,
		SenderName: domain.DisplayName(env.SenderName),
		Content:    env.Content,
		Timestamp:  parseTimestamp(env.Timestamp, now),
	}
	l.messages = append(l.messages, msg)
	return msg
}

func (l *Log) Messages() []domain.ChatMessage {
	return slices.Clone(l.messages)
}

func (l *Log) Len() int { return len(l.messages) }

// Compose validates content and builds the outbound CHAT envelope.
func Compose(content, senderName string) (core.Envelope, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return core.Envelope{}, ErrEmptyMessage
	}
	if len(content) > domain.MaxChatContentLen {
		return core.Envelope{}, ErrMessageTooLong
	}
	return core.Envelope{Type: core.TypeChat, Content: content, SenderName: senderName}, nil
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
