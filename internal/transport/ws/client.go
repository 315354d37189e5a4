// Package ws implements the host transport over a single websocket
// connection to the privileged process. Requests and responses are
// correlated by ID; server-pushed event frames are routed to per-topic
// streams in arrival order.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/im-bridge/internal/transport"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultStreamBuffer     = 256
	writeWait               = 10 * time.Second
)

// Interface guard
var _ transport.Transport = (*Client)(nil)

// Client is a websocket host link. Safe for concurrent use: writes are
// serialized, reads happen on a single loop that routes frames by type.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *transport.Frame

	streamsMu sync.Mutex
	streams   map[string]*stream

	closed    chan struct{}
	closeOnce sync.Once

	streamBuffer int
}

// Option configures a Client.
type Option func(*Client)

// WithStreamBuffer sets the per-topic event buffer between the read loop and
// the registry pump.
func WithStreamBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.streamBuffer = n
		}
	}
}

// Dial connects to the host's bridge endpoint and starts the read loop.
func Dial(ctx context.Context, url string, logger *slog.Logger, opts ...Option) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial host %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		logger:       logger.With(slog.String("component", "transport.ws")),
		pending:      make(map[string]chan *transport.Frame),
		streams:      make(map[string]*stream),
		closed:       make(chan struct{}),
		streamBuffer: defaultStreamBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	c.logger.Info("host link established", slog.String("url", url))
	return c, nil
}

// Call sends one request frame and awaits the correlated response.
func (c *Client) Call(ctx context.Context, command string, payload []byte) ([]byte, error) {
	id := uuid.NewString()
	ch := c.register(id)
	defer c.deregister(id)

	req := transport.Frame{
		Type:    transport.FrameRequest,
		ID:      id,
		Command: command,
		Payload: payload,
	}
	if err := c.write(&req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		// The attempt is abandoned from the caller's perspective; a reply
		// arriving later is dropped by deregister.
		return nil, ctx.Err()
	case <-c.closed:
		return nil, transport.ErrClosed
	case res := <-ch:
		if res.Error != nil {
			return nil, res.Error.ToBridge()
		}
		return res.Payload, nil
	}
}

// Subscribe performs the registration handshake for topic and returns the
// live stream. The host acks the sub frame like a request, so registration
// failures surface here instead of as a stream that never fires.
func (c *Client) Subscribe(ctx context.Context, topic string) (transport.Stream, error) {
	// Claim the topic slot before the handshake so a concurrent Subscribe
	// to the same topic fails instead of overwriting this stream. Events
	// that race in before the ack land in the buffer.
	s := newStream(c, topic, c.streamBuffer)
	c.streamsMu.Lock()
	if _, ok := c.streams[topic]; ok {
		c.streamsMu.Unlock()
		return nil, fmt.Errorf("topic %q already subscribed", topic)
	}
	c.streams[topic] = s
	c.streamsMu.Unlock()

	id := uuid.NewString()
	ch := c.register(id)
	defer c.deregister(id)

	if err := c.write(&transport.Frame{Type: transport.FrameSubscribe, ID: id, Topic: topic}); err != nil {
		c.forgetStream(topic, s)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forgetStream(topic, s)
		return nil, ctx.Err()
	case <-c.closed:
		c.forgetStream(topic, s)
		return nil, transport.ErrClosed
	case res := <-ch:
		if res.Error != nil {
			c.forgetStream(topic, s)
			return nil, res.Error.ToBridge()
		}
	}

	return s, nil
}

// Close tears down the connection. Pending calls observe ErrClosed and all
// topic streams end.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) register(id string) chan *transport.Frame {
	ch := make(chan *transport.Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) deregister(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) write(f *transport.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop is the single reader. Response frames resolve pending calls;
// event frames are routed to their topic stream in arrival order.
func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("host link lost", slog.Any("err", err))
			}
			return
		}

		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Error("malformed frame from host", slog.Any("err", err))
			continue
		}

		switch f.Type {
		case transport.FrameResponse:
			c.pendingMu.Lock()
			ch, ok := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ok {
				select {
				case ch <- &f:
				default:
				}
			}
		case transport.FrameEvent:
			c.routeEvent(&f)
		default:
			c.logger.Debug("unhandled frame type", slog.String("type", f.Type))
		}
	}
}

func (c *Client) routeEvent(f *transport.Frame) {
	c.streamsMu.Lock()
	s, ok := c.streams[f.Topic]
	c.streamsMu.Unlock()
	if !ok {
		return
	}
	if !s.push(f.Payload) {
		c.logger.Warn("event dropped, stream saturated", slog.String("topic", f.Topic))
	}
}

// forgetStream removes a topic slot claimed by a failed handshake. The
// guard keeps a slot re-claimed after shutdown from being clobbered. No
// unsub frame is sent since the host never acked the subscription.
func (c *Client) forgetStream(topic string, s *stream) {
	c.streamsMu.Lock()
	if cur, ok := c.streams[topic]; ok && cur == s {
		delete(c.streams, topic)
	}
	c.streamsMu.Unlock()
	s.end()
}

// dropStream is called by stream.Close. Best-effort unsub frame; the host
// also reclaims the channel when the connection dies.
func (c *Client) dropStream(topic string) {
	c.streamsMu.Lock()
	delete(c.streams, topic)
	c.streamsMu.Unlock()
	_ = c.write(&transport.Frame{Type: transport.FrameUnsubscribe, Topic: topic})
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()

		c.streamsMu.Lock()
		streams := make([]*stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.streams = make(map[string]*stream)
		c.streamsMu.Unlock()

		for _, s := range streams {
			s.end()
		}
		c.logger.Info("host link closed")
	})
}
