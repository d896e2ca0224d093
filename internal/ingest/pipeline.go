package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/medai/consultd/internal/chat"
)

// Kind tags what an upload carries.
type Kind string

const (
	KindVoice    Kind = "voice"
	KindDocument Kind = "document"
)

var (
	// ErrNoFiles is returned when an ingest request carries no file parts.
	ErrNoFiles = errors.New("no files to ingest")

	// ErrUnknownKind is returned for an ingest kind other than voice or
	// document.
	ErrUnknownKind = errors.New("unknown ingest kind")

	// ErrEmptyConversion is returned when the backend produced no text for
	// the upload.
	ErrEmptyConversion = errors.New("conversion produced no text")
)

// Converter turns uploaded files into text.
type Converter interface {
	TranscribeVoice(ctx context.Context, files []File) (string, error)
	ConvertDocuments(ctx context.Context, files []File) (string, error)
}

// TurnSender is the conversation surface the pipeline feeds into.
type TurnSender interface {
	SendTurn(ctx context.Context, patientID, tabID, prompt string) (*chat.TurnResult, error)
	AttachRecord(ctx context.Context, patientID, tabID, text string)
}

// Result is the outcome of one ingest. Turn is set for voice uploads,
// whose transcript is submitted as a normal conversation turn; document
// uploads only attach their extracted record text.
type Result struct {
	Kind    Kind             `json:"kind"`
	Content string           `json:"content"`
	Turn    *chat.TurnResult `json:"turn,omitempty"`
}

// Pipeline orchestrates upload conversion and feeds the output into the
// conversation.
type Pipeline struct {
	conv   Converter
	chat   TurnSender
	logger *slog.Logger
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(conv Converter, chat TurnSender, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{conv: conv, chat: chat, logger: logger}
}

// Ingest converts the uploaded files and routes the text. Voice
// transcripts go through the normal turn protocol, so the single-request
// rule applies to them like any typed prompt. Document text replaces the
// conversation's attached record without producing a turn.
func (p *Pipeline) Ingest(ctx context.Context, patientID, tabID string, kind Kind, files []File) (*Result, error) {
	if len(files) == 0 {
		return nil, &chat.ValidationError{Err: ErrNoFiles}
	}

	switch kind {
	case KindVoice:
		return p.ingestVoice(ctx, patientID, tabID, files)
	case KindDocument:
		return p.ingestDocument(ctx, patientID, tabID, files)
	default:
		return nil, &chat.ValidationError{Err: ErrUnknownKind}
	}
}

func (p *Pipeline) ingestVoice(ctx context.Context, patientID, tabID string, files []File) (*Result, error) {
	transcript, err := p.conv.TranscribeVoice(ctx, files)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, &chat.ValidationError{Err: ErrEmptyConversion}
	}

	p.logger.Info("voice transcript ready", "patient_id", patientID, "chars", len(transcript))

	turn, err := p.chat.SendTurn(ctx, patientID, tabID, transcript)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: KindVoice, Content: transcript, Turn: turn}, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, patientID, tabID string, files []File) (*Result, error) {
	text, err := p.conv.ConvertDocuments(ctx, files)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &chat.ValidationError{Err: ErrEmptyConversion}
	}

	p.logger.Info("document record extracted", "patient_id", patientID, "chars", len(text))

	p.chat.AttachRecord(ctx, patientID, tabID, text)
	return &Result{Kind: KindDocument, Content: text}, nil
}
