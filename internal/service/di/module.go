package servicedi

import (
	"log/slog"
	"os"

	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/service/auth"
	"github.com/webitel/im-bridge/internal/service/chat"
	"github.com/webitel/im-bridge/internal/service/update"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Typed host clients
		fx.Annotate(
			auth.NewService,
			fx.As(new(auth.Auther)),
		),
		fx.Annotate(
			chat.NewService,
			fx.As(new(chat.Chatter)),
		),

		func(d dispatch.Dispatcher, logger *slog.Logger, cfg *config.Config) *update.Checker {
			return update.NewChecker(d,
				&update.ConsoleConfirmer{In: os.Stdin, Out: os.Stdout},
				&update.LogNotifier{Logger: logger},
				logger,
				cfg.Update.Attempts,
				cfg.Update.Wait,
			)
		},
	),
)
