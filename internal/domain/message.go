// Package domain contains core domain types for the consultd application.
package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Sentinel message IDs. These messages exist only for local display
// (greeting bubbles) and must never be sent upstream or persisted.
const (
	WelcomeMessageID          = "welcome-message"
	InitialAssistantMessageID = "initial-assistant-message"
)

// Message is a single chat turn. Messages are immutable once created and
// appended in chronological order.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// IsSentinel reports whether the message is a display-only greeting that
// must be excluded from outbound history.
func (m Message) IsSentinel() bool {
	return m.ID == WelcomeMessageID || m.ID == InitialAssistantMessageID
}
