package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/medai/consultd/internal/domain"
)

func TestAppendUserTurnEmptyPrompt(t *testing.T) {
	sc := NewSessionContext()
	sc.SeedWelcome("欢迎")

	_, _, err := sc.AppendUserTurn("  ")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Expected ErrEmptyPrompt, got %v", err)
	}
	if len(sc.History()) != 1 {
		t.Errorf("History changed on rejected turn: %d messages", len(sc.History()))
	}
	if sc.InFlight() {
		t.Error("Rejected turn left a request in flight")
	}
}

func TestAppendUserTurnPayload(t *testing.T) {
	sc := NewSessionContext()
	sc.SeedWelcome("欢迎使用智能医疗助理")
	sc.AttachRecord("既往史：体健")

	msg, payload, err := sc.AppendUserTurn("最近总是头疼")
	if err != nil {
		t.Fatalf("AppendUserTurn failed: %v", err)
	}

	if msg.Role != domain.RoleUser || msg.Content != "最近总是头疼" {
		t.Errorf("User message = %+v", msg)
	}
	if payload.Prompt != "最近总是头疼" {
		t.Errorf("Prompt = %q", payload.Prompt)
	}
	if payload.Role != PatientRole {
		t.Errorf("Role = %q, want %q", payload.Role, PatientRole)
	}
	if payload.SessionID != nil {
		t.Errorf("Fresh context carried session id %q", *payload.SessionID)
	}
	if payload.MedicalRecords != "既往史：体健" {
		t.Errorf("MedicalRecords = %q", payload.MedicalRecords)
	}
	// The welcome sentinel and the new prompt itself are both excluded.
	if len(payload.History) != 0 {
		t.Errorf("History = %v, want empty", payload.History)
	}
	if !sc.InFlight() {
		t.Error("Expected request in flight after accepted turn")
	}
}

func TestHistoryFiltering(t *testing.T) {
	sc := NewSessionContext()
	sc.SeedWelcome("欢迎")

	// Two completed turns, so no request is in flight afterwards.
	turns := []struct {
		prompt string
		reply  string
	}{
		{prompt: "头疼", reply: "请问疼了多久？"},
		{prompt: "三天了", reply: "还有其他症状吗？"},
	}
	for _, turn := range turns {
		if _, _, err := sc.AppendUserTurn(turn.prompt); err != nil {
			t.Fatalf("AppendUserTurn(%q) failed: %v", turn.prompt, err)
		}
		sc.ApplyResponse(&QueryResponse{SessionID: "S1", Content: turn.reply, Timestamp: 1000})
	}

	_, payload, err := sc.AppendUserTurn("还伴有恶心")
	if err != nil {
		t.Fatalf("AppendUserTurn failed: %v", err)
	}

	history := sc.History()
	sentinels := 0
	for _, m := range history {
		if m.IsSentinel() {
			sentinels++
		}
	}
	// payload history excludes sentinels and the prompt just appended
	want := len(history) - sentinels - 1
	if len(payload.History) != want {
		t.Errorf("Filtered history length = %d, want %d", len(payload.History), want)
	}

	wantContents := []string{"头疼", "请问疼了多久？", "三天了", "还有其他症状吗？"}
	for i, c := range wantContents {
		if payload.History[i] != c {
			t.Errorf("History[%d] = %q, want %q", i, payload.History[i], c)
		}
	}
}

func TestSingleFlight(t *testing.T) {
	sc := NewSessionContext()

	if _, _, err := sc.AppendUserTurn("第一条"); err != nil {
		t.Fatalf("First turn rejected: %v", err)
	}

	_, _, err := sc.AppendUserTurn("第二条")
	if !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("Expected ErrRequestInFlight, got %v", err)
	}

	if got := len(sc.History()); got != 1 {
		t.Errorf("History grew to %d messages, want 1", got)
	}
}

func TestSingleFlightConcurrent(t *testing.T) {
	sc := NewSessionContext()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = sc.AppendUserTurn("并发提交")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, ErrRequestInFlight) {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("%d turns accepted, want exactly 1", accepted)
	}
	if got := len(sc.History()); got != 1 {
		t.Errorf("History has %d messages, want 1", got)
	}
}

func TestApplyResponseFreshToActive(t *testing.T) {
	sc := NewSessionContext()

	if _, _, err := sc.AppendUserTurn("你好"); err != nil {
		t.Fatalf("AppendUserTurn failed: %v", err)
	}

	msg := sc.ApplyResponse(&QueryResponse{SessionID: "S1", Content: "ok", Timestamp: 1000})

	if sc.SessionID() != "S1" {
		t.Errorf("SessionID = %q, want S1", sc.SessionID())
	}
	if msg.Role != domain.RoleAssistant || msg.Content != "ok" || msg.Timestamp != 1000 {
		t.Errorf("Assistant message = %+v", msg)
	}
	if got := len(sc.History()); got != 2 {
		t.Errorf("History has %d messages, want 2 (user + assistant)", got)
	}
	if sc.InFlight() {
		t.Error("Request still in flight after response applied")
	}
}

func TestApplyResponseOverwritesSessionID(t *testing.T) {
	sc := NewSessionContext()

	sc.AppendUserTurn("第一轮")
	sc.ApplyResponse(&QueryResponse{SessionID: "S1", Content: "好的", Timestamp: 1})

	_, payload, err := sc.AppendUserTurn("第二轮")
	if err != nil {
		t.Fatalf("AppendUserTurn failed: %v", err)
	}
	if payload.SessionID == nil || *payload.SessionID != "S1" {
		t.Errorf("Payload session id = %v, want S1", payload.SessionID)
	}

	// The backend stays authoritative even if it reissues the id.
	sc.ApplyResponse(&QueryResponse{SessionID: "S2", Content: "继续", Timestamp: 2})
	if sc.SessionID() != "S2" {
		t.Errorf("SessionID = %q, want S2", sc.SessionID())
	}
}

func TestFailRetainsUserTurn(t *testing.T) {
	sc := NewSessionContext()

	sc.AppendUserTurn("会失败的一轮")
	sc.Fail()

	if sc.InFlight() {
		t.Error("Fail did not close the in-flight window")
	}
	if got := len(sc.History()); got != 1 {
		t.Errorf("History has %d messages, want the retained user turn", got)
	}

	// Resubmission works after a failure.
	if _, _, err := sc.AppendUserTurn("重试"); err != nil {
		t.Errorf("Resubmit after failure rejected: %v", err)
	}
}

func TestAttachRecordDoesNotTouchHistory(t *testing.T) {
	sc := NewSessionContext()
	sc.AppendUserTurn("你好")
	sc.ApplyResponse(&QueryResponse{SessionID: "S1", Content: "您好", Timestamp: 1})

	before := len(sc.History())
	sc.AttachRecord("新的病历")

	if got := len(sc.History()); got != before {
		t.Errorf("AttachRecord changed history: %d -> %d", before, got)
	}
	if sc.AttachedRecord() != "新的病历" {
		t.Errorf("AttachedRecord = %q", sc.AttachedRecord())
	}
}
