package inproc

import (
	"context"
	"sync"

	"github.com/webitel/im-bridge/internal/transport"
)

// Interface guard
var _ transport.Transport = (*Transport)(nil)

// Transport is the host link bound to an in-process Host.
type Transport struct {
	host *Host
}

// Call invokes the host-side handler for command.
func (t *Transport) Call(ctx context.Context, command string, payload []byte) ([]byte, error) {
	return t.host.call(ctx, command, payload)
}

// Subscribe opens a gochannel subscription on topic. Delivery order follows
// publish order; the stream ends when closed or when the host shuts down.
func (t *Transport) Subscribe(ctx context.Context, topic string) (transport.Stream, error) {
	if err := t.host.subscribeError(topic); err != nil {
		return nil, err
	}

	// The stream outlives the registration call, so its lifetime is bound
	// to its own context rather than to ctx.
	streamCtx, cancel := context.WithCancel(context.Background())
	msgs, err := t.host.pubsub.Subscribe(streamCtx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &stream{
		ch:     make(chan []byte),
		cancel: cancel,
	}
	go func() {
		defer close(s.ch)
		for msg := range msgs {
			select {
			case s.ch <- msg.Payload:
				msg.Ack()
			case <-streamCtx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return s, nil
}

type stream struct {
	ch        chan []byte
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *stream) Recv() <-chan []byte { return s.ch }

func (s *stream) Close() {
	s.closeOnce.Do(s.cancel)
}
