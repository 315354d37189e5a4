package bridge

import "time"

// Command is one named request to the host process. Name is an opaque,
// process-wide-unique key; Args is an arbitrary serializable payload.
// A Command is immutable once constructed.
type Command struct {
	Name string
	Args any
}

// Default call settings applied when the caller passes no options.
const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2

	// DefaultRetryInterval is the constant delay between retry attempts.
	DefaultRetryInterval = 500 * time.Millisecond
)

// CallOptions configures a single dispatch. It does not outlive the call.
type CallOptions struct {
	// Timeout bounds one attempt. When it elapses the attempt is abandoned
	// and the call observes Error{Code: CodeTimeout}.
	Timeout time.Duration

	// Retries is the number of additional attempts after the first failure.
	// Only transient failures are retried.
	Retries int

	// RetryInterval is the constant wait between attempts.
	RetryInterval time.Duration
}

// CallOption mutates CallOptions for one dispatch.
type CallOption func(*CallOptions)

// NewCallOptions returns the defaults with opts applied.
func NewCallOptions(opts ...CallOption) CallOptions {
	o := CallOptions{
		Timeout:       DefaultTimeout,
		Retries:       DefaultRetries,
		RetryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTimeout overrides the per-attempt deadline.
func WithTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithRetries overrides the transient retry budget.
func WithRetries(n int) CallOption {
	return func(o *CallOptions) {
		if n >= 0 {
			o.Retries = n
		}
	}
}

// WithRetryInterval overrides the constant delay between attempts.
func WithRetryInterval(d time.Duration) CallOption {
	return func(o *CallOptions) {
		if d > 0 {
			o.RetryInterval = d
		}
	}
}
