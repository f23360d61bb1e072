package domain

import "time"

const MaxChatContentLen = 2000

// ChatMessage is one entry of the room chat log as echoed by the relay.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   SessionID `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
