package cmd

import (
	"log/slog"

	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/diag"
	"github.com/webitel/im-bridge/internal/dispatch"
	servicedi "github.com/webitel/im-bridge/internal/service/di"
	"github.com/webitel/im-bridge/internal/subscription"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config, loader *config.Loader) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideTransport,
		),
		fx.Invoke(func(logger *slog.Logger, level *slog.LevelVar) {
			loader.Watch(logger, level)
		}),
		dispatch.Module,
		subscription.Module,
		servicedi.Module,
		diag.Module,
	)
}
