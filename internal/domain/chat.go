package domain

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Valid reports whether s is one of the two known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAgent
}

// TimestampLayout matches JavaScript's Date.prototype.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ChatMessage is the wire entity accepted by POST /api/chat and forwarded
// to the webhook. It is never stored.
type ChatMessage struct {
	Message   string `json:"message"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp,omitempty"`
	ChatID    string `json:"chatId"`
}

// DisplayedMessage is one bubble in the rendered conversation thread.
type DisplayedMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}
