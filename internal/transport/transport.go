// Package transport defines the host-process capability injected into the
// dispatcher and the subscription registry. The host link is modeled as two
// primitives: call-and-await-one-result and subscribe-and-stream-many-results.
// Concrete implementations live in the ws, amqp and inproc subpackages; the
// core is testable against any fake that satisfies these interfaces.
package transport

import (
	"context"

	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Transport is the opaque link to the privileged host process.
// Implementations must be safe for concurrent use; every Call is independent
// and holds no lock across the wire.
type Transport interface {
	// Call sends one command and awaits a single result. It returns the raw
	// result payload or the transport's failure, which the dispatcher
	// classifies. Call honors ctx cancellation and deadline.
	Call(ctx context.Context, command string, payload []byte) ([]byte, error)

	// Subscribe opens the logical host channel for topic and returns a live
	// stream of raw event payloads. A registration failure is returned here;
	// a returned Stream is live until Close or host-side teardown.
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

// Stream is one open topic channel. Recv's channel is closed when the stream
// ends, either by Close or because the host tore the channel down.
type Stream interface {
	Recv() <-chan []byte
	// Close is idempotent.
	Close()
}

// Closer is implemented by transports that own a long-lived connection.
type Closer interface {
	Close() error
}

// ErrClosed is returned by Call and Subscribe after the transport shut down.
// It is pre-classified: a closed link is a NETWORK_ERROR to callers.
var ErrClosed = bridge.NewError(bridge.CodeNetwork, "transport closed")
