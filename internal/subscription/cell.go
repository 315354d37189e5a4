package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/transport"
)

// cell owns the host channel for one topic and fans payloads out to the
// subscriptions attached to it. A cell lives from the first subscriber to
// the last unsubscribe or to host-side teardown, whichever comes first.
type cell struct {
	topic    string
	registry *Registry

	// ready is closed once the host channel registration resolved, either
	// into stream or into err.
	ready  chan struct{}
	err    *bridge.Error
	stream transport.Stream

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	seq      uint64
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newCell(topic string, r *Registry) *cell {
	return &cell{
		topic:    topic,
		registry: r,
		ready:    make(chan struct{}),
		subs:     make(map[uuid.UUID]*Subscription),
	}
}

func (c *cell) open(stream transport.Stream) {
	c.stream = stream
	close(c.ready)
	if c.stopped.Load() {
		// Lost the race against Shutdown.
		stream.Close()
	}
}

func (c *cell) fail(err *bridge.Error) {
	c.err = err
	close(c.ready)
}

// wait blocks until the channel registration resolved.
func (c *cell) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return bridge.Classify(ctx.Err())
	case <-c.ready:
	}
	if c.err != nil {
		return c.err
	}
	return nil
}

// add attaches sub to the cell. It returns false if the cell already
// terminated; the registry then retries against a fresh cell.
func (c *cell) add(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.subs[sub.id] = sub
	if sub.handler != nil {
		go sub.loop()
	}
	return true
}

// remove detaches sub. It reports whether sub was still attached and
// whether the cell is now empty and should release the host channel.
func (c *cell) remove(sub *Subscription) (removed, last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub.id]; !ok {
		return false, false
	}
	delete(c.subs, sub.id)
	sub.release()
	return true, len(c.subs) == 0 && !c.closed
}

// pump is the cell's reader goroutine: it tails the host stream and fans
// every payload out in arrival order. When the stream ends it terminates
// all remaining subscriptions and reclaims the cell.
func (c *cell) pump() {
	for payload := range c.stream.Recv() {
		c.seq++
		ev := bridge.Event{
			Topic:   c.topic,
			Payload: payload,
			Seq:     c.seq,
			At:      time.Now(),
		}
		c.deliver(ev)
	}
	c.terminate()
}

func (c *cell) deliver(ev bridge.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subs {
		if sub.enqueue(ev) {
			c.registry.stats.delivered()
		} else {
			c.registry.stats.dropped()
		}
	}
}

// terminate ends every remaining subscription after host-side teardown.
// Callers observe closed event streams and may re-subscribe.
func (c *cell) terminate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	remaining := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		remaining = append(remaining, sub)
	}
	c.subs = make(map[uuid.UUID]*Subscription)
	c.mu.Unlock()

	// Host-terminated subscriptions never pass through detach, so the
	// gauge is settled here.
	for _, sub := range remaining {
		sub.terminate()
		c.registry.stats.unsubscribed()
	}
	c.registry.drop(c.topic, c)
}

// stop releases the host channel. The pump exits on the closed stream and
// runs the terminate path.
func (c *cell) stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		select {
		case <-c.ready:
			if c.stream != nil {
				c.stream.Close()
			}
		default:
			// Registration still in flight; open() closes the stream.
		}
	})
}
