package diag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/subscription"
	"github.com/webitel/im-bridge/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTransport struct{}

func (stubTransport) Call(context.Context, string, []byte) ([]byte, error) {
	return []byte(`"pong"`), nil
}

func (stubTransport) Subscribe(context.Context, string) (transport.Stream, error) {
	panic("not used by diag tests")
}

func newTestServer(t *testing.T) (*Server, *dispatch.Client) {
	t.Helper()
	logger := testLogger()
	client := dispatch.New(stubTransport{}, logger)
	registry := subscription.NewRegistry(stubTransport{}, logger)
	t.Cleanup(registry.Shutdown)
	return NewServer("127.0.0.1:0", client, registry, logger), client
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStats(t *testing.T) {
	s, client := newTestServer(t)

	_, err := client.Dispatch(context.Background(), "ping", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(1), snap.Dispatch.Dispatches)
	assert.Equal(t, uint64(1), snap.Dispatch.Attempts)
	assert.NotEmpty(t, snap.Uptime)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}
