package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in a chat session's history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatTranscript is a saved copy of a chat session's history.
type ChatTranscript struct {
	ID           string
	SubmissionID string
	SessionID    string
	Messages     []ChatMessage
	CreatedAt    time.Time
}
