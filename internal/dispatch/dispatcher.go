package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/transport"
)

// Dispatcher is the primary request surface for UI-side callers. One call is
// one command exchanged with the privileged host process, bounded by a
// timeout and a transient-only retry budget.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args any, opts ...bridge.CallOption) (json.RawMessage, error)
}

// Interface guard
var _ Dispatcher = (*Client)(nil)

// Client dispatches commands over an injected transport. Clients hold no
// shared mutable call state: concurrent dispatches are independent and may
// complete out of order relative to issuance.
type Client struct {
	transport transport.Transport
	logger    *slog.Logger
	breaker   *gobreaker.CircuitBreaker
	stats     *Stats
	defaults  bridge.CallOptions
}

// Option configures a Client.
type Option func(*Client)

// WithDefaults sets the call options applied when a dispatch passes none.
// Per-call options layer on top of these.
func WithDefaults(o bridge.CallOptions) Option {
	return func(c *Client) {
		c.defaults = o
	}
}

// WithBreaker guards the wire with a circuit breaker. An open breaker is
// observed by callers as NETWORK_ERROR, so it stays inside the transient
// class and short retry budgets behave the same with or without it.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// New creates a dispatcher client over the given host transport.
func New(t transport.Transport, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		transport: t,
		logger:    logger.With(slog.String("component", "dispatch")),
		stats:     NewStats(),
		defaults:  bridge.NewCallOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats exposes the client's dispatch counters.
func (c *Client) Stats() *Stats { return c.stats }

// Dispatch sends the named command with the given args and resolves to the
// raw result payload or a classified *bridge.Error. Attempt 1 executes
// immediately; each retry waits a constant interval; after retries+1 total
// attempts the last observed error is returned verbatim. Non-transient
// failures are never retried.
func (c *Client) Dispatch(ctx context.Context, name string, args any, opts ...bridge.CallOption) (json.RawMessage, error) {
	if name == "" {
		return nil, bridge.NewError(bridge.CodeUnknown, "empty command name")
	}
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}
	c.stats.dispatch()

	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		if err != nil {
			// Serialization violations (cycles, unsupported types) never
			// reach the wire and are not retried.
			return nil, bridge.Errorf(bridge.CodeUnknown, "marshal args for %q: %v", name, err)
		}
	}

	attempt := 0
	operation := func() (json.RawMessage, error) {
		attempt++
		c.stats.attempt()
		if attempt > 1 {
			c.stats.retry()
		}

		start := time.Now()
		res, err := c.attempt(ctx, name, payload, o.Timeout)
		if err != nil {
			be := bridge.Classify(err)
			c.stats.failure(be.Code)
			c.logger.Warn("attempt failed",
				slog.String("command", name),
				slog.Int("attempt", attempt),
				slog.String("code", string(be.Code)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			if !be.Code.Transient() {
				return nil, backoff.Permanent(be)
			}
			return nil, be
		}

		c.logger.Debug("command resolved",
			slog.String("command", name),
			slog.Int("attempt", attempt),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.RetryInterval)),
		backoff.WithMaxTries(uint(o.Retries)+1),
	)
	if err != nil {
		be := bridge.Classify(err)
		c.logger.Error("command failed",
			slog.String("command", name),
			slog.String("code", string(be.Code)),
			slog.Int("attempts", attempt),
		)
		return nil, be
	}
	return res, nil
}

// attempt performs one cross-process call under the per-attempt deadline.
func (c *Client) attempt(ctx context.Context, name string, payload []byte, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.breaker == nil {
		return c.transport.Call(attemptCtx, name, payload)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.transport.Call(attemptCtx, name, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, bridge.NewError(bridge.CodeNetwork, "host link suspended by breaker")
		}
		return nil, err
	}
	raw, _ := res.([]byte)
	return raw, nil
}
