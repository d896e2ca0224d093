package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medai/consultd/internal/domain"
	"github.com/medai/consultd/internal/markdown"
	"github.com/medai/consultd/internal/record"
	"github.com/medai/consultd/internal/store"
)

// Querier relays one query payload to the generative backend.
type Querier interface {
	Query(ctx context.Context, payload QueryPayload) (*QueryResponse, error)
}

// Usage carries the backend's token accounting for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TurnResult is the outcome of one completed turn: the backend reply plus
// its structured rendering.
type TurnResult struct {
	SessionID string                    `json:"session_id"`
	Content   string                    `json:"content"`
	Timestamp int64                     `json:"timestamp"`
	Usage     Usage                     `json:"usage"`
	Document  domain.StructuredDocument `json:"document"`
}

// Service owns the live session contexts and drives the reply pipeline:
// relay the turn, apply the response, classify and render the reply.
type Service struct {
	backend Querier
	repo    store.Repository
	welcome string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*SessionContext
}

// NewService creates a chat service. welcome is the display-only greeting
// seeded into fresh conversations; empty disables it.
func NewService(backend Querier, repo store.Repository, welcome string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		repo:     repo,
		welcome:  welcome,
		logger:   logger,
		sessions: make(map[string]*SessionContext),
	}
}

// ConversationKey scopes a conversation to one device tab.
func ConversationKey(patientID, tabID string) string {
	return patientID + ":" + tabID
}

// contextFor returns the live context for a conversation key, restoring
// it from the store after a restart or creating a fresh one.
func (s *Service) contextFor(ctx context.Context, key string) *SessionContext {
	s.mu.Lock()
	if sc, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return sc
	}
	sc := NewSessionContext()
	s.sessions[key] = sc
	s.mu.Unlock()

	conv, err := s.repo.GetConversation(ctx, key)
	if err != nil {
		s.logger.Warn("failed to load conversation", "conversation_key", key, "error", err)
	}
	if conv != nil {
		msgs, err := s.repo.ListMessages(ctx, key)
		if err != nil {
			s.logger.Warn("failed to load messages", "conversation_key", key, "error", err)
		}
		sc.Restore(conv.BackendSessionID, conv.AttachedRecord, msgs)
		return sc
	}

	if s.welcome != "" {
		sc.SeedWelcome(s.welcome)
	}
	return sc
}

// SendTurn runs one conversation turn end to end. The user message stays
// in history even when the backend fails, so resubmitting retries the
// turn; nothing is retried automatically.
func (s *Service) SendTurn(ctx context.Context, patientID, tabID, prompt string) (*TurnResult, error) {
	key := ConversationKey(patientID, tabID)
	sc := s.contextFor(ctx, key)

	userMsg, payload, err := sc.AppendUserTurn(prompt)
	if err != nil {
		return nil, err
	}

	if err := s.repo.AppendMessage(ctx, key, userMsg); err != nil {
		s.logger.Warn("failed to persist user message", "conversation_key", key, "error", err)
	}

	resp, err := s.backend.Query(ctx, payload)
	if err != nil {
		sc.Fail()
		s.logger.Error("backend query failed", "conversation_key", key, "error", err)
		return nil, err
	}

	assistantMsg := sc.ApplyResponse(resp)

	if err := s.repo.AppendMessage(ctx, key, assistantMsg); err != nil {
		s.logger.Warn("failed to persist assistant message", "conversation_key", key, "error", err)
	}
	s.persistConversation(ctx, key, patientID, sc)

	s.logger.Info("turn completed",
		"conversation_key", key,
		"session_id", resp.SessionID,
		"total_tokens", resp.TotalTokens,
	)

	return &TurnResult{
		SessionID: resp.SessionID,
		Content:   resp.Content,
		Timestamp: resp.Timestamp,
		Usage: Usage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.TotalTokens,
		},
		Document: BuildDocument(resp.Content, domain.RoleAssistant),
	}, nil
}

// AttachRecord replaces the conversation's attached medical record.
// History is untouched; only later turns carry the new record.
func (s *Service) AttachRecord(ctx context.Context, patientID, tabID, text string) {
	key := ConversationKey(patientID, tabID)
	sc := s.contextFor(ctx, key)
	sc.AttachRecord(text)
	s.persistConversation(ctx, key, patientID, sc)
}

// History returns the conversation history for display, sentinels
// included.
func (s *Service) History(ctx context.Context, patientID, tabID string) []domain.Message {
	sc := s.contextFor(ctx, ConversationKey(patientID, tabID))
	return sc.History()
}

func (s *Service) persistConversation(ctx context.Context, key, patientID string, sc *SessionContext) {
	now := time.Now()
	err := s.repo.UpsertConversation(ctx, &domain.Conversation{
		Key:              key,
		PatientID:        patientID,
		BackendSessionID: sc.SessionID(),
		AttachedRecord:   sc.AttachedRecord(),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		s.logger.Warn("failed to persist conversation", "conversation_key", key, "error", err)
	}
}

// BuildDocument interprets one reply for display. Classification runs on
// the raw text so both legacy and new record markup stay recognizable;
// records are parsed into sections, everything else gets its markdown
// repaired and passes through for generic rendering.
func BuildDocument(content string, role domain.Role) domain.StructuredDocument {
	if record.IsRecord(content, role) {
		return record.Render(true, record.ParseSections(content), content)
	}
	return record.Render(false, domain.ParsedRecord{}, markdown.Normalize(content))
}

// EvictIdle drops in-memory contexts idle for longer than ttl. Contexts
// with a request in flight are skipped. Persisted history survives and
// the context is restored on the next turn.
func (s *Service) EvictIdle(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-ttl)
	for key, sc := range s.sessions {
		if sc.InFlight() || sc.LastActivity().After(cutoff) {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	return evicted
}

// StartSweeper periodically evicts idle contexts and prunes expired
// conversations from the store until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictIdle(ttl); n > 0 {
					s.logger.Info("evicted idle session contexts", "count", n)
				}
				pruned, err := s.repo.CleanupExpiredConversations(ctx, ttl)
				if err != nil {
					s.logger.Warn("failed to prune expired conversations", "error", err)
				} else if pruned > 0 {
					s.logger.Info("pruned expired conversations", "count", pruned)
				}
			}
		}
	}()
}
