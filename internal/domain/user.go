// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxSessionIDLen = 64
	MaxUsernameLen  = 36

	// UnknownName is shown for peers that never announced a display name.
	UnknownName = "Unknown"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// SessionID identifies one connection of a participant to the relay.
// The relay assigns it; the same person reconnecting gets a new one.
type SessionID string

type Participant struct {
	ID   SessionID `json:"id"`
	Name string    `json:"name"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id SessionID, name string) (*Participant, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return &Participant{ID: id, Name: name}, nil
}

func (p *Participant) SetName(name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	p.Name = name
	return nil
}

// NormalizeName trims the display name and checks its bounds.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// DisplayName falls back to UnknownName for empty names coming off the wire.
func DisplayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return UnknownName
	}
	return name
}
