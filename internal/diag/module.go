package diag

import (
	"context"
	"log/slog"

	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/subscription"
	"go.uber.org/fx"
)

var Module = fx.Module("diag",
	fx.Provide(
		func(cfg *config.Config, client *dispatch.Client, registry *subscription.Registry, logger *slog.Logger) *Server {
			return NewServer(cfg.Diag.Addr, client, registry, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *Server) {
		if !cfg.Diag.Enabled {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
		})
	}),
)
