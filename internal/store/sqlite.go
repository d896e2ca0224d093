package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/medai/consultd/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	convMu sync.Mutex // serializes conversation writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS patients (
		patient_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		key TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		backend_session_id TEXT NOT NULL DEFAULT '',
		attached_record TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_patient ON conversations(patient_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetPatient retrieves a patient by id.
func (s *SQLiteStore) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	query := `
		SELECT patient_id, display_name, last_seen_at, created_at, updated_at
		FROM patients WHERE patient_id = ?`

	row := s.db.QueryRowContext(ctx, query, patientID)

	var p domain.Patient
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&p.PatientID, &p.DisplayName, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient row: %w", err)
	}

	p.LastSeenAt = time.Unix(lastSeen, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

// UpsertPatient creates or updates a patient record.
func (s *SQLiteStore) UpsertPatient(ctx context.Context, patient *domain.Patient) error {
	query := `
	INSERT INTO patients (patient_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(patient_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		patient.PatientID, patient.DisplayName,
		patient.LastSeenAt.Unix(), patient.CreatedAt.Unix(), patient.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert patient: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a patient.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, patientID string, lastSeen time.Time) error {
	query := `UPDATE patients SET last_seen_at = ?, updated_at = ? WHERE patient_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), patientID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "patient_id", patientID)
	}

	return nil
}

// GetConversation retrieves a conversation by key.
func (s *SQLiteStore) GetConversation(ctx context.Context, key string) (*domain.Conversation, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
		SELECT key, patient_id, backend_session_id, attached_record, created_at, updated_at
		FROM conversations WHERE key = ?`

	row := s.db.QueryRowContext(ctx, query, key)

	var conv domain.Conversation
	var createdAt, updatedAt int64

	err := row.Scan(&conv.Key, &conv.PatientID, &conv.BackendSessionID,
		&conv.AttachedRecord, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpsertConversation creates or updates a conversation shell.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
	INSERT INTO conversations (key, patient_id, backend_session_id, attached_record, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		backend_session_id = excluded.backend_session_id,
		attached_record = excluded.attached_record,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		conv.Key, conv.PatientID, conv.BackendSessionID, conv.AttachedRecord,
		conv.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// AppendMessage persists one chat message. Retries with exponential
// backoff on SQLite concurrency errors.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, msg domain.Message) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.appendMessageOnce(ctx, key, msg)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendMessage hit SQLITE_BUSY, retrying",
				"conversation_key", key,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("append message to %s: %w", key, err)
	}

	return nil
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, key string, msg domain.Message) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `INSERT INTO messages (id, conversation_key, role, content, ts) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, msg.ID, key, string(msg.Role), msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, key string) ([]domain.Message, error) {
	query := `
		SELECT id, role, content, ts
		FROM messages WHERE conversation_key = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// CleanupExpiredConversations deletes conversations idle past the TTL
// along with their messages.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_key IN
			(SELECT key FROM conversations WHERE updated_at < ?)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup expired messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isSQLiteConflict checks for SQLITE_BUSY / "database is locked"
// concurrency errors that warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
