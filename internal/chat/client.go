package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is an HTTP client to the upstream CDSS backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration. The generative
// backend can take tens of seconds on long records, so the request
// timeout is generous.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 120 * time.Second,
	}
}

// NewClient creates a backend client. No network I/O happens here; use
// Ping to fail fast on bad endpoints during startup.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

// Ping probes the backend's server-info endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/server-info", nil)
	if err != nil {
		return fmt.Errorf("build server-info request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &BackendError{Status: resp.StatusCode}
	}
	return nil
}

// Query relays one turn to the backend. A network failure surfaces as a
// TransportError, a non-2xx status as a BackendError carrying the
// upstream detail message. Neither is retried.
func (c *Client) Query(ctx context.Context, payload QueryPayload) (*QueryResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("querying backend",
		"session_id", payload.SessionID,
		"history_len", len(payload.History),
		"has_record", payload.MedicalRecords != "",
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{Status: resp.StatusCode, Detail: ReadDetail(resp.Body)}
	}

	var out QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &out, nil
}

// ReadDetail extracts the FastAPI-style {"detail": "..."} error body the
// backend uses on all endpoints. Anything unparseable degrades to the
// raw text, truncated.
func ReadDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}

func drainAndClose(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 1<<20)); err != nil {
		slog.Debug("failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Debug("failed to close response body", "error", err)
	}
}
