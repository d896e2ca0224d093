// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/medai/consultd/internal/domain"
)

// Repository defines the interface for persisting patients, conversations
// and chat messages.
type Repository interface {
	// GetPatient retrieves a patient by id. Returns (nil, nil) when absent.
	GetPatient(ctx context.Context, patientID string) (*domain.Patient, error)

	// UpsertPatient creates or updates a patient record.
	UpsertPatient(ctx context.Context, patient *domain.Patient) error

	// UpdateLastSeen updates the last_seen_at timestamp for a patient.
	UpdateLastSeen(ctx context.Context, patientID string, lastSeen time.Time) error

	// GetConversation retrieves a conversation by its key.
	// Returns (nil, nil) when absent.
	GetConversation(ctx context.Context, key string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation shell
	// (backend session id, attached record, timestamps).
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// AppendMessage persists one chat message under a conversation key.
	AppendMessage(ctx context.Context, key string, msg domain.Message) error

	// ListMessages returns all messages of a conversation in
	// chronological (insertion) order.
	ListMessages(ctx context.Context, key string) ([]domain.Message, error)

	// CleanupExpiredConversations deletes conversations (and their
	// messages) idle for longer than ttl. Returns the number of
	// conversations removed.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
