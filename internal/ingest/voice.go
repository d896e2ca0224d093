package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/medai/consultd/internal/chat"
	"github.com/medai/consultd/internal/identity"
)

// DefaultMaxClipBytes bounds one buffered voice clip (10 MiB).
const DefaultMaxClipBytes = 10 << 20

// VoiceHandler runs the websocket voice capture channel. The client
// streams audio chunks as binary frames; a text control frame drives the
// clip lifecycle. `stop` finalizes the clip, which is transcribed and
// submitted as a normal conversation turn; `cancel` or closing the
// socket discards it.
type VoiceHandler struct {
	pipeline      *Pipeline
	maxClipBytes  int
	allowedOrigin string
	isDev         bool
}

// NewVoiceHandler creates a voice capture handler. maxClipBytes <= 0
// selects DefaultMaxClipBytes.
func NewVoiceHandler(pipeline *Pipeline, maxClipBytes int, allowedOrigin string, isDev bool) *VoiceHandler {
	if maxClipBytes <= 0 {
		maxClipBytes = DefaultMaxClipBytes
	}
	return &VoiceHandler{
		pipeline:      pipeline,
		maxClipBytes:  maxClipBytes,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// voiceMessage is the client's text control frame.
type voiceMessage struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	slog.Info("voice channel connection request", "patient_id", patientID, "tab_id", tabID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept voice websocket", "error", err, "patient_id", patientID)
		return
	}
	ws.SetReadLimit(int64(h.maxClipBytes))
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "voice channel closed"); closeErr != nil {
			slog.Debug("failed to close voice websocket", "error", closeErr, "patient_id", patientID)
		}
	}()

	h.serve(r.Context(), ws, patientID, tabID)
}

func (h *VoiceHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("voice websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *VoiceHandler) serve(ctx context.Context, ws *websocket.Conn, patientID, tabID string) {
	var clip []byte
	clipName := "recording.webm"

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("voice websocket closed by client", "patient_id", patientID)
			} else {
				slog.Warn("voice websocket read error", "error", err, "patient_id", patientID)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if len(clip)+len(data) > h.maxClipBytes {
				slog.Warn("voice clip too large", "patient_id", patientID, "bytes", len(clip)+len(data))
				h.writeJSON(ws, map[string]string{"type": "error", "error": "clip_too_large"})
				return
			}
			clip = append(clip, data...)
			continue
		}

		var msg voiceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("invalid voice control frame", "error", err, "patient_id", patientID)
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeJSON(ws, map[string]string{"type": "pong"})
		case "cancel":
			slog.Info("voice clip cancelled", "patient_id", patientID, "bytes", len(clip))
			clip = nil
			h.writeJSON(ws, map[string]string{"type": "cancelled"})
		case "stop":
			if msg.Name != "" {
				clipName = msg.Name
			}
			h.finalize(ctx, ws, patientID, tabID, clipName, clip)
			clip = nil
		}
	}
}

// finalize transcribes the buffered clip and submits the transcript as a
// turn. The outcome goes back over the socket; the channel stays open
// for the next clip.
func (h *VoiceHandler) finalize(ctx context.Context, ws *websocket.Conn, patientID, tabID, name string, clip []byte) {
	if len(clip) == 0 {
		h.writeJSON(ws, map[string]string{"type": "error", "error": "empty_clip"})
		return
	}

	result, err := h.pipeline.Ingest(ctx, patientID, tabID, KindVoice, []File{{Name: name, Data: clip}})
	if err != nil {
		slog.Error("voice ingest failed", "error", err, "patient_id", patientID)
		h.writeJSON(ws, map[string]any{"type": "error", "error": voiceErrorCode(err)})
		return
	}

	h.writeJSON(ws, map[string]any{
		"type":       "result",
		"transcript": result.Content,
		"turn":       result.Turn,
	})
}

// voiceErrorCode flattens the error taxonomy into a client-facing code.
func voiceErrorCode(err error) string {
	var verr *chat.ValidationError
	var terr *chat.TransportError
	var berr *chat.BackendError
	switch {
	case errors.As(err, &verr):
		return "rejected"
	case errors.As(err, &terr):
		return "backend_unreachable"
	case errors.As(err, &berr):
		return "backend_error"
	default:
		return "internal_error"
	}
}

func (h *VoiceHandler) writeJSON(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("failed to encode voice frame", "error", err)
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("failed to write voice frame", "error", err)
	}
}
