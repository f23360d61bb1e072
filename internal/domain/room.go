package domain

import (
	"errors"
	"regexp"
)

type RoomID string

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDInvalid = errors.New("room id invalid")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type Room struct {
	ID RoomID
}

// ParseRoomID validates an id taken from a URL path or command line.
func ParseRoomID(s string) (RoomID, error) {
	if s == "" {
		return "", ErrRoomIDEmpty
	}
	if len(s) > MaxRoomIDLen || !roomIDPattern.MatchString(s) {
		return "", ErrRoomIDInvalid
	}
	return RoomID(s), nil
}
