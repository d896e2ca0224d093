// Package ingest turns uploaded artifacts into text through the
// backend's conversion endpoints and hands the result to the
// conversation layer.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/medai/consultd/internal/chat"
)

const (
	voicePath    = "/v2mr"
	documentPath = "/a2mr"
)

// File is one uploaded artifact.
type File struct {
	Name string
	Data []byte
}

// ConvertClient is an HTTP client to the backend's conversion endpoints.
// Voice clips are transcribed via /v2mr; document images are extracted
// into record text via /a2mr. Both take a multipart `files` field and
// answer {"content": "..."}.
type ConvertClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ConvertClientConfig holds configuration for the conversion client.
type ConvertClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// NewConvertClient creates a conversion client. Defaults match the chat
// client: conversion of long clips or multi-page documents can take a
// while.
func NewConvertClient(cfg ConvertClientConfig, logger *slog.Logger) *ConvertClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = chat.DefaultClientConfig().BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = chat.DefaultClientConfig().RequestTimeout
	}

	return &ConvertClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

// TranscribeVoice converts audio clips into a transcript.
func (c *ConvertClient) TranscribeVoice(ctx context.Context, files []File) (string, error) {
	return c.convert(ctx, voicePath, files)
}

// ConvertDocuments extracts record text from document images.
func (c *ConvertClient) ConvertDocuments(ctx context.Context, files []File) (string, error) {
	return c.convert(ctx, documentPath, files)
}

func (c *ConvertClient) convert(ctx context.Context, path string, files []File) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return "", fmt.Errorf("create multipart file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", fmt.Errorf("write multipart file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Debug("converting upload", "path", path, "files", len(files))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &chat.TransportError{Err: err}
	}
	defer func() {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)); err != nil {
			c.logger.Debug("failed to drain conversion response", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close conversion response", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &chat.BackendError{Status: resp.StatusCode, Detail: chat.ReadDetail(resp.Body)}
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode conversion response: %w", err)
	}
	return out.Content, nil
}
