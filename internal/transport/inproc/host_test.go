package inproc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCall(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()
	h.Handle("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	res, err := h.Transport().Call(context.Background(), "echo", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(res))
}

func TestCallUnknownCommand(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()

	_, err := h.Transport().Call(context.Background(), "nope", nil)
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeServer, be.Code)
}

func TestCallHonorsContext(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()
	h.Handle("stall", func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Transport().Call(ctx, "stall", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribeAndEmit(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()

	st, err := h.Transport().Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, h.Emit("t1", []byte("e1")))
	require.NoError(t, h.Emit("t1", []byte("e2")))

	assert.Equal(t, "e1", string(<-st.Recv()))
	assert.Equal(t, "e2", string(<-st.Recv()))
}

func TestFailSubscribe(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()
	h.FailSubscribe("t1", bridge.NewError(bridge.CodeForbidden, "not yours"))

	_, err := h.Transport().Subscribe(context.Background(), "t1")
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeForbidden, be.Code)
}

func TestStreamCloseEndsRecv(t *testing.T) {
	h := NewHost(testLogger())
	defer h.Close()

	st, err := h.Transport().Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	st.Close()
	st.Close() // idempotent

	select {
	case _, open := <-st.Recv():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Recv not closed after stream close")
	}
}

func TestDevHostLogin(t *testing.T) {
	h := NewDevHost(testLogger())
	defer h.Close()
	tr := h.Transport()

	payload, _ := json.Marshal(map[string]string{"email": "a@b.c", "password": "pw"})
	res, err := tr.Call(context.Background(), "auth_login", payload)
	require.NoError(t, err)

	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res, &session))
	assert.NotEmpty(t, session.Token)
}

func TestDevHostLoginRejected(t *testing.T) {
	h := NewDevHost(testLogger())
	defer h.Close()

	_, err := h.Transport().Call(context.Background(), "auth_login", []byte(`{}`))
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeUnauthorized, be.Code)
}

func TestDevHostEchoesMessages(t *testing.T) {
	h := NewDevHost(testLogger())
	defer h.Close()
	tr := h.Transport()

	res, err := tr.Call(context.Background(), "create_conversation", nil)
	require.NoError(t, err)
	var convID string
	require.NoError(t, json.Unmarshal(res, &convID))

	st, err := tr.Subscribe(context.Background(), bridge.Topic("conversation_events", convID))
	require.NoError(t, err)
	defer st.Close()

	payload, _ := json.Marshal(map[string]string{"conversation_id": convID, "content": "hello"})
	_, err = tr.Call(context.Background(), "send_message", payload)
	require.NoError(t, err)

	select {
	case ev := <-st.Recv():
		assert.JSONEq(t, `{"delta":"hello"}`, string(ev))
	case <-time.After(time.Second):
		t.Fatal("no echo event")
	}
}
