// Package inproc provides an in-process host emulation backed by watermill's
// gochannel pub/sub. It serves local development (`imbridge run --inproc`)
// and lets the dispatcher and registry be exercised without a privileged
// process on the other side.
package inproc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// HandlerFunc is one host-side command handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Host emulates the privileged process: a command table plus a topic bus.
type Host struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	subErrors map[string]error
}

// NewHost creates an in-process host.
func NewHost(logger *slog.Logger) *Host {
	return &Host{
		pubsub:    gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger)),
		logger:    logger.With(slog.String("component", "transport.inproc")),
		handlers:  make(map[string]HandlerFunc),
		subErrors: make(map[string]error),
	}
}

// Handle registers a command handler.
func (h *Host) Handle(command string, fn HandlerFunc) {
	h.mu.Lock()
	h.handlers[command] = fn
	h.mu.Unlock()
}

// FailSubscribe makes registration on topic fail with err, emulating an
// unreachable or rejecting host channel.
func (h *Host) FailSubscribe(topic string, err error) {
	h.mu.Lock()
	h.subErrors[topic] = err
	h.mu.Unlock()
}

// Emit publishes one event payload on topic.
func (h *Host) Emit(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return h.pubsub.Publish(topic, msg)
}

// Transport returns a host link bound to this emulation.
func (h *Host) Transport() *Transport {
	return &Transport{host: h}
}

// Close tears down the topic bus; open streams end.
func (h *Host) Close() error {
	return h.pubsub.Close()
}

func (h *Host) handler(command string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[command]
	return fn, ok
}

func (h *Host) subscribeError(topic string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subErrors[topic]
}

func (h *Host) call(ctx context.Context, command string, payload []byte) ([]byte, error) {
	fn, ok := h.handler(command)
	if !ok {
		return nil, bridge.Errorf(bridge.CodeServer, "no handler for command %q", command)
	}

	type result struct {
		res []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := fn(ctx, payload)
		done <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		// The attempt is abandoned; the handler's side effect, if any, is
		// not rolled back.
		return nil, ctx.Err()
	case r := <-done:
		return r.res, r.err
	}
}
