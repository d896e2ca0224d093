package domain

import (
	"time"
)

// Patient represents an anonymous per-device user of the assistant.
type Patient struct {
	PatientID   string    `json:"patient_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Conversation is the persisted shell of one chat session: the
// backend-issued session id, the currently attached medical record and
// bookkeeping timestamps. Key scopes the conversation to one device tab
// (patient id + tab session id).
type Conversation struct {
	Key              string    `json:"key"`
	PatientID        string    `json:"patient_id"`
	BackendSessionID string    `json:"backend_session_id,omitempty"`
	AttachedRecord   string    `json:"attached_record,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
