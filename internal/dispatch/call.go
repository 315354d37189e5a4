package dispatch

import (
	"context"
	"encoding/json"

	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Call dispatches the named command and decodes the result payload into T.
// A payload that does not deserialize into T is an UNKNOWN_ERROR: the call
// reached the host but the result shape is not what the catalog promised.
func Call[T any](ctx context.Context, d Dispatcher, name string, args any, opts ...bridge.CallOption) (T, error) {
	var out T

	raw, err := d.Dispatch(ctx, name, args, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, bridge.Errorf(bridge.CodeUnknown, "decode %q result: %v", name, err)
	}
	return out, nil
}

// Exec dispatches a command whose result carries no payload.
func Exec(ctx context.Context, d Dispatcher, name string, args any, opts ...bridge.CallOption) error {
	_, err := d.Dispatch(ctx, name, args, opts...)
	return err
}
