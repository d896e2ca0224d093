package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medai/consultd/internal/domain"
)

// PatientRole is the fixed speaker role on outbound payloads. The
// upstream backend also supports "doctor", but this front end always
// submits as the patient.
const PatientRole = "patient"

// QueryPayload is the outbound query sent to the backend /query endpoint.
// SessionID is null until the backend assigns one.
type QueryPayload struct {
	Prompt         string   `json:"prompt"`
	Role           string   `json:"role"`
	SessionID      *string  `json:"session_id"`
	MedicalRecords string   `json:"medical_records"`
	History        []string `json:"history"`
}

// QueryResponse is the backend's reply to a query.
type QueryResponse struct {
	SessionID        string `json:"session_id"`
	Content          string `json:"content"`
	Timestamp        int64  `json:"timestamp"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// SessionContext owns one conversation: its history, the backend-issued
// session id and the currently attached medical record. A fresh context
// has no session id; the id arrives with the first response and the
// backend stays authoritative for it afterwards. At most one outbound
// request may be in flight at a time.
type SessionContext struct {
	mu             sync.Mutex
	sessionID      string
	attachedRecord string
	history        []domain.Message
	inFlight       bool
	lastActivity   time.Time

	now   func() time.Time
	newID func() string
}

// NewSessionContext creates a fresh context with empty history.
func NewSessionContext() *SessionContext {
	return &SessionContext{
		now:          time.Now,
		newID:        uuid.NewString,
		lastActivity: time.Now(),
	}
}

// SeedWelcome adds the display-only welcome message to an empty context.
// It is excluded from outbound history and never persisted.
func (s *SessionContext) SeedWelcome(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) > 0 {
		return
	}
	s.history = append(s.history, domain.Message{
		ID:        domain.WelcomeMessageID,
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: s.now().UnixMilli(),
	})
}

// Restore rehydrates a context from persisted state.
func (s *SessionContext) Restore(sessionID, attachedRecord string, history []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.attachedRecord = attachedRecord
	s.history = append([]domain.Message(nil), history...)
	s.lastActivity = s.now()
}

// AppendUserTurn validates and records a user turn and builds the
// outbound payload for it. It fails with a ValidationError when the
// trimmed content is empty or another request is already in flight; on
// failure neither history nor flight state changes. The payload history
// holds the contents of all prior messages, sentinels excluded, in
// chronological order — the new prompt itself travels in Prompt.
func (s *SessionContext) AppendUserTurn(content string) (domain.Message, QueryPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(content) == "" {
		return domain.Message{}, QueryPayload{}, &ValidationError{Err: ErrEmptyPrompt}
	}
	if s.inFlight {
		return domain.Message{}, QueryPayload{}, &ValidationError{Err: ErrRequestInFlight}
	}

	history := make([]string, 0, len(s.history))
	for _, m := range s.history {
		if m.IsSentinel() {
			continue
		}
		history = append(history, m.Content)
	}

	msg := domain.Message{
		ID:        s.newID(),
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: s.now().UnixMilli(),
	}
	s.history = append(s.history, msg)
	s.inFlight = true
	s.lastActivity = s.now()

	payload := QueryPayload{
		Prompt:         content,
		Role:           PatientRole,
		MedicalRecords: s.attachedRecord,
		History:        history,
	}
	if s.sessionID != "" {
		id := s.sessionID
		payload.SessionID = &id
	}

	return msg, payload, nil
}

// ApplyResponse adopts the backend's reply: the session id is always
// overwritten (the backend is authoritative) and the assistant message is
// appended with the response's timestamp. The in-flight window closes.
func (s *SessionContext) ApplyResponse(resp *QueryResponse) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = resp.SessionID
	msg := domain.Message{
		ID:        s.newID(),
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		Timestamp: resp.Timestamp,
	}
	s.history = append(s.history, msg)
	s.inFlight = false
	s.lastActivity = s.now()

	return msg
}

// Fail closes the in-flight window after a transport or backend failure.
// The user message already appended stays in history so the user can
// retry by resubmitting; no automatic retry happens.
func (s *SessionContext) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	s.lastActivity = s.now()
}

// AttachRecord replaces the attached medical record. History is
// untouched; only subsequent payloads carry the new value.
func (s *SessionContext) AttachRecord(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attachedRecord = text
	s.lastActivity = s.now()
}

// SessionID returns the backend-issued session id, or "" while fresh.
func (s *SessionContext) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// AttachedRecord returns the currently attached medical record.
func (s *SessionContext) AttachedRecord() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachedRecord
}

// History returns a copy of the conversation history, sentinels included.
func (s *SessionContext) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history...)
}

// InFlight reports whether a request is awaiting its response.
func (s *SessionContext) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// LastActivity returns the time of the most recent state change.
func (s *SessionContext) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
