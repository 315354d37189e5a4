package dispatch

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/transport"
	"go.uber.org/fx"
)

// ConfigDefaults translates the dispatch config section into the client's
// default call options.
func ConfigDefaults(cfg config.DispatchConfig) bridge.CallOptions {
	return bridge.NewCallOptions(
		bridge.WithTimeout(cfg.Timeout),
		bridge.WithRetries(cfg.Retries),
		bridge.WithRetryInterval(cfg.RetryInterval),
	)
}

var Module = fx.Module("dispatch",
	fx.Provide(
		func(t transport.Transport, logger *slog.Logger, cfg *config.Config) *Client {
			opts := []Option{WithDefaults(ConfigDefaults(cfg.Dispatch))}
			if cfg.Dispatch.BreakerEnabled {
				opts = append(opts, WithBreaker(gobreaker.Settings{
					Name:    "host-link",
					Timeout: 15 * time.Second,
					ReadyToTrip: func(counts gobreaker.Counts) bool {
						return counts.ConsecutiveFailures >= 8
					},
				}))
			}
			return New(t, logger, opts...)
		},
		fx.Annotate(
			func(c *Client) Dispatcher { return c },
			fx.As(new(Dispatcher)),
		),
	),
)
