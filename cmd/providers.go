package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/service/update"
	"github.com/webitel/im-bridge/internal/transport"
	amqptransport "github.com/webitel/im-bridge/internal/transport/amqp"
	"github.com/webitel/im-bridge/internal/transport/inproc"
	wstransport "github.com/webitel/im-bridge/internal/transport/ws"
	"go.uber.org/fx"
)

// ProvideLogger builds the process logger. The returned LevelVar is wired to
// the config watcher so the level follows file edits at runtime.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)
	slog.SetDefault(logger)
	return logger, level, nil
}

// buildTransport opens the host link selected by config and returns it with
// its teardown.
func buildTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Transport, func() error, error) {
	switch cfg.Transport.Kind {
	case "ws":
		client, err := wstransport.Dial(ctx, cfg.Transport.WSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil

	case "amqp":
		t, err := amqptransport.New(ctx, cfg.Transport.AmqpURI, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil

	case "inproc":
		host := inproc.NewDevHost(logger)
		return host.Transport(), host.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// ProvideTransport is the fx wrapper around buildTransport; the link is
// closed by the lifecycle on shutdown.
func ProvideTransport(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	t, closeFn, err := buildTransport(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return closeFn() },
	})
	return t, nil
}

// env is the hand-wired stack behind the one-shot CLI commands (call, tail,
// update); the long-running `run` command uses fx instead.
type env struct {
	cfg        *config.Config
	logger     *slog.Logger
	transport  transport.Transport
	dispatcher *dispatch.Client
	closeFn    func() error
}

func newEnv(configFile string) (*env, error) {
	cfg, _, err := config.LoadConfig(configFile, nil)
	if err != nil {
		return nil, err
	}
	logger, _, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	t, closeFn, err := buildTransport(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:        cfg,
		logger:     logger,
		transport:  t,
		dispatcher: dispatch.New(t, logger, dispatch.WithDefaults(dispatch.ConfigDefaults(cfg.Dispatch))),
		closeFn:    closeFn,
	}, nil
}

func (e *env) updateChecker() *update.Checker {
	return update.NewChecker(e.dispatcher,
		&update.ConsoleConfirmer{In: os.Stdin, Out: os.Stdout},
		&update.LogNotifier{Logger: e.logger},
		e.logger,
		e.cfg.Update.Attempts,
		e.cfg.Update.Wait,
	)
}

func (e *env) close() {
	if err := e.closeFn(); err != nil {
		e.logger.Warn("transport close failed", slog.Any("err", err))
	}
}
