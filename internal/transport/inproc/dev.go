package inproc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// NewDevHost returns a host pre-loaded with a small command catalog, enough
// to exercise the bridge end to end without a privileged process: ping,
// auth, conversations with echoed message events, and a no-op update flow.
func NewDevHost(logger *slog.Logger) *Host {
	h := NewHost(logger)

	h.Handle("ping", func(_ context.Context, _ []byte) ([]byte, error) {
		return json.Marshal("pong")
	})

	h.Handle("auth_login", func(_ context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.Unmarshal(payload, &req); err != nil || req.Email == "" {
			return nil, bridge.NewError(bridge.CodeUnauthorized, "bad credentials")
		}
		return json.Marshal(map[string]any{
			"token":      uuid.NewString(),
			"user":       map[string]string{"id": uuid.NewString(), "email": req.Email},
			"expires_at": time.Now().Add(24 * time.Hour).Unix(),
		})
	})
	h.Handle("auth_logout", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	})

	h.Handle("create_conversation", func(_ context.Context, _ []byte) ([]byte, error) {
		return json.Marshal(uuid.NewString())
	})

	// send_message echoes the content back on the conversation's topic, so
	// `imbridge tail conversation_events_<id>` shows a live stream.
	h.Handle("send_message", func(_ context.Context, payload []byte) ([]byte, error) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Content        string `json:"content"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, bridge.NewError(bridge.CodeServer, "malformed send_message payload")
		}
		ev, _ := json.Marshal(map[string]string{"delta": req.Content})
		_ = h.Emit(bridge.Topic("conversation_events", req.ConversationID), ev)
		return nil, nil
	})

	h.Handle("check_update", func(_ context.Context, _ []byte) ([]byte, error) {
		return json.Marshal(map[string]any{"available": false})
	})

	return h
}
