package subscription

import (
	"context"
	"log/slog"

	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		func(t transport.Transport, logger *slog.Logger, cfg *config.Config) *Registry {
			return NewRegistry(t, logger,
				WithMailboxSize(cfg.Subscription.MailboxSize),
			)
		},
		fx.Annotate(
			func(r *Registry) Registrar { return r },
			fx.As(new(Registrar)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				r.Shutdown()
				return nil
			},
		})
	}),
)
