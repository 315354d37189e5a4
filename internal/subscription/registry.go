/*
Package subscription implements the topic-keyed event stream registry.

Every active topic is represented by an isolated cell that owns the host-side
channel for that topic and fans incoming payloads out to the subscribers
attached to it. Per-subscriber mailboxes decouple delivery from the host
reader, so one slow handler cannot stall the topic. The host channel is
reference-counted against subscription liveness: the first subscriber on a
topic opens it, the last unsubscribe closes it.
*/
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/transport"
)

// Handler consumes one delivered event. Handlers for a single subscription
// run sequentially, in host delivery order. A handler may call Unsubscribe
// on its own subscription.
type Handler func(ev bridge.Event)

// Registrar is the subscription surface exposed to service clients.
type Registrar interface {
	Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error)
	Stream(ctx context.Context, topic string) (*Subscription, error)
}

// Interface guard
var _ Registrar = (*Registry)(nil)

// Registry maps topics to live cells. Registration and disposal are safe
// under concurrent calls from multiple call sites; no lock is held across
// the transport.
type Registry struct {
	transport transport.Transport
	logger    *slog.Logger
	config    registryConfig

	mu    sync.Mutex
	cells map[string]*cell

	stats *Stats
}

// NewRegistry creates a registry over the given host transport.
func NewRegistry(t transport.Transport, logger *slog.Logger, opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		transport: t,
		logger:    logger.With(slog.String("component", "subscription")),
		config:    cfg,
		cells:     make(map[string]*cell),
		stats:     NewStats(),
	}
}

// Stats exposes the registry's delivery counters.
func (r *Registry) Stats() *Stats { return r.stats }

// Subscribe registers h to be invoked once per event delivered on topic, in
// host order. If opening the host channel fails, Subscribe returns a
// classified *bridge.Error rather than a subscription that never fires.
func (r *Registry) Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	if topic == "" {
		return nil, bridge.NewError(bridge.CodeUnknown, "empty topic")
	}
	if h == nil {
		return nil, bridge.NewError(bridge.CodeUnknown, "nil handler")
	}
	return r.attach(ctx, topic, h)
}

// Stream is the channel-shaped variant of Subscribe: events arrive on
// Subscription.Events() and the stream ends when the subscription is
// disposed or the host tears the topic down.
func (r *Registry) Stream(ctx context.Context, topic string) (*Subscription, error) {
	if topic == "" {
		return nil, bridge.NewError(bridge.CodeUnknown, "empty topic")
	}
	return r.attach(ctx, topic, nil)
}

func (r *Registry) attach(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	for {
		c, opener := r.cellFor(topic)

		if opener {
			// This call won the race to open the host channel. The wire
			// call happens outside the registry lock.
			stream, err := r.transport.Subscribe(ctx, topic)
			if err != nil {
				be := bridge.Classify(err)
				c.fail(be)
				r.drop(topic, c)
				r.logger.Warn("channel registration failed",
					slog.String("topic", topic),
					slog.String("code", string(be.Code)),
				)
				return nil, be
			}
			c.open(stream)
			go c.pump()
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		sub := newSubscription(r, topic, h, r.config.mailboxSize)
		if c.add(sub) {
			r.stats.subscribed()
			return sub, nil
		}

		// The cell terminated between lookup and attach (host teardown or
		// last unsubscribe). Retry against a fresh cell.
		r.drop(topic, c)
	}
}

// cellFor returns the live cell for topic, creating it when absent. The
// second result reports whether the caller must open the host channel.
func (r *Registry) cellFor(topic string) (*cell, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cells[topic]; ok {
		return c, false
	}
	c := newCell(topic, r)
	r.cells[topic] = c
	return c, true
}

// drop removes the cell from the registry if it is still the one mapped.
func (r *Registry) drop(topic string, c *cell) {
	r.mu.Lock()
	if cur, ok := r.cells[topic]; ok && cur == c {
		delete(r.cells, topic)
	}
	r.mu.Unlock()
}

// detach is invoked by Subscription.Unsubscribe. When the last subscriber
// leaves, the cell closes the host channel and is reclaimed.
func (r *Registry) detach(topic string, sub *Subscription) {
	r.mu.Lock()
	c, ok := r.cells[topic]
	r.mu.Unlock()
	if !ok {
		return
	}
	removed, last := c.remove(sub)
	if last {
		c.stop()
		r.drop(topic, c)
	}
	if removed {
		r.stats.unsubscribed()
	}
}

// Shutdown tears down every live cell. Outstanding subscriptions observe
// closed event streams.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	cells := make([]*cell, 0, len(r.cells))
	for _, c := range r.cells {
		cells = append(cells, c)
	}
	r.cells = make(map[string]*cell)
	r.mu.Unlock()

	for _, c := range cells {
		c.stop()
	}
}
