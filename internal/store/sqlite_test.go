package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/medai/consultd/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "consult.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return repo
}

func TestPatientRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetPatient(ctx, "anon_missing")
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil for missing patient, got %+v", got)
	}

	now := time.Now().Truncate(time.Second)
	patient := &domain.Patient{
		PatientID:   "anon_1",
		DisplayName: "anon-patient",
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.UpsertPatient(ctx, patient); err != nil {
		t.Fatalf("UpsertPatient failed: %v", err)
	}

	got, err = repo.GetPatient(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if got == nil || got.DisplayName != "anon-patient" {
		t.Errorf("Patient = %+v", got)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	got, _ = repo.GetPatient(ctx, "anon_1")
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	conv := &domain.Conversation{
		Key:              "anon_1:tab",
		PatientID:        "anon_1",
		BackendSessionID: "S1",
		AttachedRecord:   "既往史：体健",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "anon_1:tab")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil || got.BackendSessionID != "S1" || got.AttachedRecord != "既往史：体健" {
		t.Errorf("Conversation = %+v", got)
	}

	// Upsert replaces the session binding and record.
	conv.BackendSessionID = "S2"
	conv.AttachedRecord = ""
	if err := repo.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("Second UpsertConversation failed: %v", err)
	}
	got, _ = repo.GetConversation(ctx, "anon_1:tab")
	if got.BackendSessionID != "S2" || got.AttachedRecord != "" {
		t.Errorf("Conversation after upsert = %+v", got)
	}
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	contents := []string{"你好", "您好，请描述症状", "我头疼"}
	for i, content := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := domain.Message{
			ID:        "m" + string(rune('0'+i)),
			Role:      role,
			Content:   content,
			Timestamp: int64(1000 + i),
		}
		if err := repo.AppendMessage(ctx, "anon_1:tab", msg); err != nil {
			t.Fatalf("AppendMessage(%d) failed: %v", i, err)
		}
	}

	msgs, err := repo.ListMessages(ctx, "anon_1:tab")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != len(contents) {
		t.Fatalf("Got %d messages, want %d", len(msgs), len(contents))
	}
	for i, m := range msgs {
		if m.Content != contents[i] {
			t.Errorf("Message %d = %q, want %q", i, m.Content, contents[i])
		}
	}

	other, err := repo.ListMessages(ctx, "anon_2:tab")
	if err != nil {
		t.Fatalf("ListMessages for other key failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Unrelated conversation returned %d messages", len(other))
	}
}

func TestCleanupExpiredConversations(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	if err := repo.UpsertConversation(ctx, &domain.Conversation{
		Key:       "anon_1:stale",
		PatientID: "anon_1",
		CreatedAt: old,
		UpdatedAt: old,
	}); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}
	if err := repo.AppendMessage(ctx, "anon_1:stale", domain.Message{
		ID: "m1", Role: domain.RoleUser, Content: "旧消息", Timestamp: 1,
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	// UpsertConversation stamps updated_at with the current time, so the
	// stale row has to be aged directly.
	s := repo.(*SQLiteStore)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE key = ?`, old.Unix(), "anon_1:stale"); err != nil {
		t.Fatalf("Failed to age conversation: %v", err)
	}

	deleted, err := repo.CleanupExpiredConversations(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredConversations failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Deleted %d conversations, want 1", deleted)
	}

	conv, _ := repo.GetConversation(ctx, "anon_1:stale")
	if conv != nil {
		t.Errorf("Stale conversation survived cleanup: %+v", conv)
	}
	msgs, _ := repo.ListMessages(ctx, "anon_1:stale")
	if len(msgs) != 0 {
		t.Errorf("Stale messages survived cleanup: %d", len(msgs))
	}
}
