package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hostConn is the server side of one upgraded connection, with writes
// serialized the same way a real host would.
type hostConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (h *hostConn) send(f *transport.Frame) {
	data, _ := json.Marshal(f)
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *hostConn) respond(id string, payload []byte) {
	h.send(&transport.Frame{Type: transport.FrameResponse, ID: id, Payload: payload})
}

func (h *hostConn) respondError(id string, code, msg string) {
	h.send(&transport.Frame{
		Type:  transport.FrameResponse,
		ID:    id,
		Error: &transport.WireError{Code: code, Message: msg},
	})
}

func (h *hostConn) event(topic string, payload []byte) {
	h.send(&transport.Frame{Type: transport.FrameEvent, Topic: topic, Payload: payload})
}

// serveHost starts a fake host that feeds every received frame to handle.
func serveHost(t *testing.T, handle func(h *hostConn, f transport.Frame)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h := &hostConn{conn: conn}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f transport.Frame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			handle(h, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/bridge", testLogger())
	require.Error(t, err)
}

func TestCallRoundTrip(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameRequest && f.Command == "ping" {
			h.respond(f.ID, []byte(`"pong"`))
		}
	})
	c := dial(t, url)

	res, err := c.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `"pong"`, string(res))
}

func TestCallWireError(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameRequest {
			h.respondError(f.ID, "UNAUTHORIZED", "token expired")
		}
	})
	c := dial(t, url)

	_, err := c.Call(context.Background(), "auth_whoami", nil)
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeUnauthorized, be.Code)
	assert.Equal(t, "token expired", be.Message)
}

func TestCallContextDeadline(t *testing.T) {
	_, url := serveHost(t, func(*hostConn, transport.Frame) {
		// Host never answers.
	})
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "ping", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentCallsCorrelated(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameRequest {
			// Answer with the command name so mixed-up correlation shows.
			payload, _ := json.Marshal(f.Command)
			go h.respond(f.ID, payload)
		}
	})
	c := dial(t, url)

	var wg sync.WaitGroup
	for _, cmd := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(cmd string) {
			defer wg.Done()
			res, err := c.Call(context.Background(), cmd, nil)
			assert.NoError(t, err)
			assert.JSONEq(t, `"`+cmd+`"`, string(res))
		}(cmd)
	}
	wg.Wait()
}

func TestSubscribeStreamsEvents(t *testing.T) {
	unsubs := make(chan string, 1)
	var host *hostConn
	ready := make(chan struct{})

	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		switch f.Type {
		case transport.FrameSubscribe:
			host = h
			h.respond(f.ID, nil)
			close(ready)
		case transport.FrameUnsubscribe:
			unsubs <- f.Topic
		}
	})
	c := dial(t, url)

	st, err := c.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	<-ready

	host.event("t1", []byte("e1"))
	host.event("t1", []byte("e2"))
	host.event("t1", []byte("e3"))

	for _, want := range []string{"e1", "e2", "e3"} {
		select {
		case got := <-st.Recv():
			assert.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatalf("event %s not delivered", want)
		}
	}

	st.Close()
	select {
	case topic := <-unsubs:
		assert.Equal(t, "t1", topic)
	case <-time.After(time.Second):
		t.Fatal("no unsubscribe frame after stream close")
	}

	_, open := <-st.Recv()
	assert.False(t, open)
}

func TestSubscribeRejected(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameSubscribe {
			h.respondError(f.ID, "FORBIDDEN", "not your session")
		}
	})
	c := dial(t, url)

	_, err := c.Subscribe(context.Background(), "t1")
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeForbidden, be.Code)
}

func TestSubscribeDuplicateTopic(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameSubscribe {
			h.respond(f.ID, nil)
		}
	})
	c := dial(t, url)

	st, err := c.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	defer st.Close()

	_, err = c.Subscribe(context.Background(), "t1")
	assert.Error(t, err)
}

func TestSubscribeConcurrentSameTopic(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type == transport.FrameSubscribe {
			// Delay the ack so competing subscribes overlap in flight.
			go func() {
				time.Sleep(50 * time.Millisecond)
				h.respond(f.ID, nil)
			}()
		}
	})
	c := dial(t, url)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Subscribe(context.Background(), "t1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			dup++
			assert.ErrorContains(t, err, "already subscribed")
		}
	}
	assert.Equal(t, 1, ok, "exactly one subscribe should win the topic")
	assert.Equal(t, n-1, dup)
}

func TestSubscribeAgainAfterRejection(t *testing.T) {
	var subs int
	var mu sync.Mutex
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		if f.Type != transport.FrameSubscribe {
			return
		}
		mu.Lock()
		subs++
		first := subs == 1
		mu.Unlock()
		if first {
			h.respondError(f.ID, "SERVER_ERROR", "backend unavailable")
			return
		}
		h.respond(f.ID, nil)
		h.event(f.Topic, []byte("e1"))
	})
	c := dial(t, url)

	_, err := c.Subscribe(context.Background(), "t1")
	require.Error(t, err)

	// The failed handshake must release the topic slot.
	st, err := c.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	defer st.Close()

	select {
	case got := <-st.Recv():
		assert.Equal(t, "e1", string(got))
	case <-time.After(time.Second):
		t.Fatal("event not delivered on the second subscription")
	}
}

func TestConnectionLossEndsEverything(t *testing.T) {
	_, url := serveHost(t, func(h *hostConn, f transport.Frame) {
		switch {
		case f.Type == transport.FrameSubscribe:
			h.respond(f.ID, nil)
		case f.Type == transport.FrameRequest && f.Command == "die":
			_ = h.conn.Close()
		}
	})
	c := dial(t, url)

	st, err := c.Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "die", nil)
	require.Error(t, err)

	be, ok := bridge.AsError(err)
	require.True(t, ok)
	assert.Equal(t, bridge.CodeNetwork, be.Code)

	select {
	case _, open := <-st.Recv():
		assert.False(t, open, "stream should end when the link dies")
	case <-time.After(time.Second):
		t.Fatal("stream not ended after connection loss")
	}

	// Further calls fail fast on the closed link.
	_, err = c.Call(context.Background(), "ping", nil)
	require.Error(t, err)
}
