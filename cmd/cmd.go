package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-bridge/config"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/subscription"
	"github.com/webitel/im-bridge/internal/tui"
)

const (
	ServiceName      = "im-bridge"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "IPC bridge between the Webitel desktop shell and the privileged host process",
		Commands: []*cli.Command{
			runCmd(),
			callCmd(),
			tailCmd(),
			monitorCmd(),
			updateCmd(),
		},
	}

	return app.Run(os.Args)
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "config_file",
		Usage: "Path to the configuration file",
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run the bridge with the diag endpoint",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: func(c *cli.Context) error {
			cfg, loader, err := config.LoadConfig(c.String("config_file"), nil)
			if err != nil {
				return err
			}
			app := NewApp(cfg, loader)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}

func callCmd() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Dispatch one command and print the result",
		ArgsUsage: "<command> [json-args]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{Name: "timeout", Usage: "Per-attempt timeout"},
			&cli.IntFlag{Name: "retries", Value: -1, Usage: "Transient retry budget"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: %s call <command> [json-args]", ServiceName)
			}
			env, err := newEnv(c.String("config_file"))
			if err != nil {
				return err
			}
			defer env.close()

			var args any
			if c.NArg() > 1 {
				var raw json.RawMessage
				if err := json.Unmarshal([]byte(c.Args().Get(1)), &raw); err != nil {
					return fmt.Errorf("args must be valid JSON: %w", err)
				}
				args = raw
			}

			opts := env.callOptions(c.Duration("timeout"), c.Int("retries"))
			res, err := env.dispatcher.Dispatch(c.Context, c.Args().First(), args, opts...)
			if err != nil {
				return err
			}
			if len(res) == 0 {
				fmt.Println("ok")
				return nil
			}
			fmt.Println(string(res))
			return nil
		},
	}
}

func tailCmd() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Subscribe to a topic and print events until interrupted",
		ArgsUsage: "<topic>",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: %s tail <topic>", ServiceName)
			}
			env, err := newEnv(c.String("config_file"))
			if err != nil {
				return err
			}
			defer env.close()

			registry := subscription.NewRegistry(env.transport, env.logger,
				subscription.WithMailboxSize(env.cfg.Subscription.MailboxSize),
			)
			defer registry.Shutdown()

			sub, err := registry.Stream(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-stop:
					return nil
				case ev, ok := <-sub.Events():
					if !ok {
						return fmt.Errorf("stream ended by host")
					}
					fmt.Printf("%d\t%s\n", ev.Seq, ev.Payload)
				}
			}
		},
	}
}

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "Live terminal dashboard of a running bridge",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "Refresh interval"},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := config.LoadConfig(c.String("config_file"), nil)
			if err != nil {
				return err
			}
			return tui.NewMonitor(cfg.Diag.Addr, c.Duration("interval")).Run()
		},
	}
}

func updateCmd() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Run the update check flow once",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: func(c *cli.Context) error {
			env, err := newEnv(c.String("config_file"))
			if err != nil {
				return err
			}
			defer env.close()

			return env.updateChecker().Run(c.Context)
		},
	}
}

// callOptions translates CLI overrides into dispatch options; unset flags
// leave the client's configured defaults in place.
func (e *env) callOptions(timeout time.Duration, retries int) []bridge.CallOption {
	var opts []bridge.CallOption
	if timeout > 0 {
		opts = append(opts, bridge.WithTimeout(timeout))
	}
	if retries >= 0 {
		opts = append(opts, bridge.WithRetries(retries))
	}
	return opts
}
