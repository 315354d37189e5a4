package ws

import (
	"sync"

	"github.com/webitel/im-bridge/internal/transport"
)

// Interface guard
var _ transport.Stream = (*stream)(nil)

// stream buffers one topic's events between the read loop and the consumer.
type stream struct {
	client *Client
	topic  string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newStream(c *Client, topic string, buffer int) *stream {
	return &stream{
		client: c,
		topic:  topic,
		ch:     make(chan []byte, buffer),
	}
}

func (s *stream) Recv() <-chan []byte { return s.ch }

// Close detaches the topic from the connection and ends the stream.
// Idempotent.
func (s *stream) Close() {
	s.client.dropStream(s.topic)
	s.end()
}

// push offers one payload to the consumer. The mutex serializes it against
// end, so no send can race the channel close.
func (s *stream) push(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *stream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
