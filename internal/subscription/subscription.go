package subscription

import (
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Subscription is one registered consumer of one topic. It is owned by the
// caller that created it and holds exactly one disposer capability:
// Unsubscribe. After Unsubscribe completes, zero further deliveries occur,
// including events that were already in flight toward the handler.
type Subscription struct {
	id       uuid.UUID
	topic    string
	registry *Registry
	handler  Handler

	mailbox chan bridge.Event
	done    chan struct{}

	disposeOnce sync.Once
	releaseOnce sync.Once
}

func newSubscription(r *Registry, topic string, h Handler, mailboxSize int) *Subscription {
	return &Subscription{
		id:       uuid.New(),
		topic:    topic,
		registry: r,
		handler:  h,
		mailbox:  make(chan bridge.Event, mailboxSize),
		done:     make(chan struct{}),
	}
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Events returns the subscription's event stream. It is the delivery surface
// for subscriptions created with Registry.Stream; the channel is closed when
// the subscription is disposed or the host tears the topic down.
func (s *Subscription) Events() <-chan bridge.Event { return s.mailbox }

// Done is closed once the subscription ended, by either side. A caller that
// sees Done without having called Unsubscribe should treat the stream as
// recoverable and re-subscribe.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe disposes the subscription. It is idempotent, safe to call from
// any goroutine, and safe to call from inside the handler.
func (s *Subscription) Unsubscribe() {
	s.disposeOnce.Do(func() {
		close(s.done)
		s.registry.detach(s.topic, s)
	})
}

// terminate ends the subscription from the cell side (host teardown). The
// cell has already forgotten the subscription, so no detach round-trip.
func (s *Subscription) terminate() {
	s.disposeOnce.Do(func() {
		close(s.done)
	})
	s.release()
}

// release closes the mailbox exactly once. Called with the owning cell's
// write lock held (or after removal), so no enqueue can race the close.
func (s *Subscription) release() {
	s.releaseOnce.Do(func() {
		close(s.mailbox)
	})
}

// enqueue offers one event to the mailbox. It reports false when the event
// was dropped: the subscription ended, or the mailbox is saturated by a
// consumer slower than the host. Runs under the cell's read lock.
func (s *Subscription) enqueue(ev bridge.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- ev:
		return true
	default:
		return false
	}
}

// loop drains the mailbox into the handler. Events already handed to the
// handler complete normally; the gate before each invocation guarantees
// nothing is delivered after disposal.
func (s *Subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.mailbox:
			if !ok {
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ev)
		}
	}
}
