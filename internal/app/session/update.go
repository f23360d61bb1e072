package session

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type UpdateKind string

const (
	UpdateStatus       UpdateKind = "status"
	UpdateDirectory    UpdateKind = "directory"
	UpdateVoice        UpdateKind = "voice"
	UpdateMedia        UpdateKind = "media"
	UpdateChat         UpdateKind = "chat"
	UpdateNotice       UpdateKind = "notice"
	UpdateRemoteStream UpdateKind = "remote_stream"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is something the user should be told about.
type Notice struct {
	Level NoticeLevel
	Text  string
	Err   error
}

type MediaStatus struct {
	State string `json:"state"`
	Muted bool   `json:"muted"`
}

// Update is published to the Listener after every observable change.
// Only the fields matching Kind are set.
type Update struct {
	Kind         UpdateKind
	Status       core.ChannelStatus
	Participants []domain.Participant
	Voice        []domain.VoiceMember
	Media        MediaStatus
	Chat         domain.ChatMessage
	Notice       Notice
	Peer         domain.SessionID
	StreamID     string
}

// Listener is called on the session loop goroutine and must not block.
type Listener func(Update)

// Snapshot is a consistent view of the session taken on the loop.
type Snapshot struct {
	Room         domain.RoomID        `json:"room"`
	Self         domain.SessionID     `json:"self"`
	Name         string               `json:"name"`
	Status       core.ChannelStatus   `json:"status"`
	Participants []domain.Participant `json:"participants"`
	Voice        []domain.VoiceMember `json:"voice"`
	Media        MediaStatus          `json:"media"`
	Chat         []domain.ChatMessage `json:"chat"`
}
