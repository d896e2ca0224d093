package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medai/consultd/internal/chat"
)

type fakeConverter struct {
	transcript string
	document   string
	err        error

	voiceCalls    int
	documentCalls int
	lastFiles     []File
}

func (f *fakeConverter) TranscribeVoice(_ context.Context, files []File) (string, error) {
	f.voiceCalls++
	f.lastFiles = files
	return f.transcript, f.err
}

func (f *fakeConverter) ConvertDocuments(_ context.Context, files []File) (string, error) {
	f.documentCalls++
	f.lastFiles = files
	return f.document, f.err
}

type fakeSender struct {
	turns    []string
	attached []string
	result   *chat.TurnResult
	err      error
}

func (f *fakeSender) SendTurn(_ context.Context, _, _, prompt string) (*chat.TurnResult, error) {
	f.turns = append(f.turns, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSender) AttachRecord(_ context.Context, _, _, text string) {
	f.attached = append(f.attached, text)
}

func TestIngestVoiceSubmitsTranscriptAsTurn(t *testing.T) {
	conv := &fakeConverter{transcript: "我最近发烧三天"}
	sender := &fakeSender{result: &chat.TurnResult{SessionID: "S1", Content: "好的"}}
	p := NewPipeline(conv, sender, nil)

	result, err := p.Ingest(context.Background(), "anon_1", "tab", KindVoice, []File{{Name: "clip.webm", Data: []byte{1, 2}}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.Kind != KindVoice || result.Content != "我最近发烧三天" {
		t.Errorf("Result = %+v", result)
	}
	if result.Turn == nil || result.Turn.SessionID != "S1" {
		t.Errorf("Turn = %+v", result.Turn)
	}
	if len(sender.turns) != 1 || sender.turns[0] != "我最近发烧三天" {
		t.Errorf("Submitted turns = %v", sender.turns)
	}
	if len(sender.attached) != 0 {
		t.Errorf("Voice ingest attached a record: %v", sender.attached)
	}
}

func TestIngestDocumentAttachesRecord(t *testing.T) {
	conv := &fakeConverter{document: "既往史：体健"}
	sender := &fakeSender{}
	p := NewPipeline(conv, sender, nil)

	result, err := p.Ingest(context.Background(), "anon_1", "tab", KindDocument, []File{{Name: "page1.jpg", Data: []byte{1}}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.Kind != KindDocument || result.Content != "既往史：体健" {
		t.Errorf("Result = %+v", result)
	}
	if result.Turn != nil {
		t.Error("Document ingest produced a turn")
	}
	if len(sender.attached) != 1 || sender.attached[0] != "既往史：体健" {
		t.Errorf("Attached records = %v", sender.attached)
	}
	if len(sender.turns) != 0 {
		t.Errorf("Document ingest submitted turns: %v", sender.turns)
	}
}

func TestIngestRejections(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		files []File
		conv  *fakeConverter
		want  error
	}{
		{
			name: "no files",
			kind: KindVoice,
			conv: &fakeConverter{},
			want: ErrNoFiles,
		},
		{
			name:  "unknown kind",
			kind:  Kind("video"),
			files: []File{{Name: "x", Data: []byte{1}}},
			conv:  &fakeConverter{},
			want:  ErrUnknownKind,
		},
		{
			name:  "blank transcript",
			kind:  KindVoice,
			files: []File{{Name: "clip.webm", Data: []byte{1}}},
			conv:  &fakeConverter{transcript: "   "},
			want:  ErrEmptyConversion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(tt.conv, &fakeSender{}, nil)

			_, err := p.Ingest(context.Background(), "anon_1", "tab", tt.kind, tt.files)

			var verr *chat.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIngestVoiceTurnRejectionPropagates(t *testing.T) {
	conv := &fakeConverter{transcript: "转写结果"}
	sender := &fakeSender{err: &chat.ValidationError{Err: chat.ErrRequestInFlight}}
	p := NewPipeline(conv, sender, nil)

	_, err := p.Ingest(context.Background(), "anon_1", "tab", KindVoice, []File{{Name: "clip.webm", Data: []byte{1}}})
	if !errors.Is(err, chat.ErrRequestInFlight) {
		t.Errorf("Expected ErrRequestInFlight, got %v", err)
	}
}

func TestConvertClientTranscribeVoice(t *testing.T) {
	var gotPath string
	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		for _, fh := range r.MultipartForm.File["files"] {
			gotNames = append(gotNames, fh.Filename)
			f, err := fh.Open()
			if err != nil {
				t.Fatalf("Failed to open file part: %v", err)
			}
			if _, err := io.ReadAll(f); err != nil {
				t.Fatalf("Failed to read file part: %v", err)
			}
			f.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"content": "转写好的文本"})
	}))
	defer srv.Close()

	client := NewConvertClient(ConvertClientConfig{BaseURL: srv.URL}, nil)

	content, err := client.TranscribeVoice(context.Background(), []File{
		{Name: "a.webm", Data: []byte("audio-a")},
		{Name: "b.webm", Data: []byte("audio-b")},
	})
	if err != nil {
		t.Fatalf("TranscribeVoice failed: %v", err)
	}

	if content != "转写好的文本" {
		t.Errorf("Content = %q", content)
	}
	if gotPath != "/v2mr" {
		t.Errorf("Path = %q, want /v2mr", gotPath)
	}
	if len(gotNames) != 2 || gotNames[0] != "a.webm" || gotNames[1] != "b.webm" {
		t.Errorf("File names = %v", gotNames)
	}
}

func TestConvertClientDocumentPathAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a2mr" {
			t.Errorf("Path = %q, want /a2mr", r.URL.Path)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "unsupported image format"})
	}))
	defer srv.Close()

	client := NewConvertClient(ConvertClientConfig{BaseURL: srv.URL}, nil)

	_, err := client.ConvertDocuments(context.Background(), []File{{Name: "x.bmp", Data: []byte{1}}})

	var berr *chat.BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("Expected BackendError, got %v", err)
	}
	if berr.Status != http.StatusUnprocessableEntity || berr.Detail != "unsupported image format" {
		t.Errorf("BackendError = %+v", berr)
	}
}
