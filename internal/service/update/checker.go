// Package update implements the check-for-update flow: check, ask the user,
// download, relaunch. It is a consumer of the dispatcher, layered with its
// own whole-check retry loop rather than inheriting the dispatch policy.
package update

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Command catalog handled by the host.
const (
	CmdCheck    = "check_update"
	CmdDownload = "download_update"
	CmdRelaunch = "relaunch"
)

// Info is the check_update result.
type Info struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
	Notes     string `json:"notes,omitempty"`
}

type downloadRequest struct {
	Version string `json:"version"`
}

// Confirmer asks the user whether to install the offered version.
type Confirmer interface {
	Confirm(ctx context.Context, info Info) (bool, error)
}

// Notifier reports the terminal failure of an update flow to the user.
type Notifier interface {
	NotifyFailure(ctx context.Context, err error)
}

// Checker runs the update flow. Attempts and Wait configure the flow's own
// fixed-count, fixed-wait retry of the whole check; the individual dispatch
// calls run with a zero retry budget so the two policies do not compound.
type Checker struct {
	dispatcher dispatch.Dispatcher
	confirmer  Confirmer
	notifier   Notifier
	logger     *slog.Logger

	attempts int
	wait     time.Duration
}

func NewChecker(d dispatch.Dispatcher, c Confirmer, n Notifier, logger *slog.Logger, attempts int, wait time.Duration) *Checker {
	if attempts < 1 {
		attempts = 1
	}
	return &Checker{
		dispatcher: d,
		confirmer:  c,
		notifier:   n,
		logger:     logger.With(slog.String("component", "update")),
		attempts:   attempts,
		wait:       wait,
	}
}

// Run executes the flow once: check, confirm, download, relaunch. Transient
// failures restart the whole check after the configured wait, up to the
// attempt budget; the last error is reported through the Notifier.
func (c *Checker) Run(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			c.logger.Info("retrying update check",
				slog.Int("attempt", attempt),
				slog.Duration("wait", c.wait),
			)
			select {
			case <-ctx.Done():
				return bridge.Classify(ctx.Err())
			case <-time.After(c.wait):
			}
		}

		done, err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if done {
			break
		}
		if be, ok := bridge.AsError(err); !ok || !be.Code.Transient() {
			break
		}
	}

	c.logger.Warn("update flow failed", slog.Any("err", lastErr))
	if c.notifier != nil {
		c.notifier.NotifyFailure(ctx, lastErr)
	}
	return lastErr
}

// runOnce returns done=true when the flow must not be retried regardless of
// the error class (the user already confirmed an install).
func (c *Checker) runOnce(ctx context.Context) (bool, error) {
	info, err := dispatch.Call[Info](ctx, c.dispatcher, CmdCheck, nil, bridge.WithRetries(0))
	if err != nil {
		return false, err
	}
	if !info.Available {
		c.logger.Debug("no update available")
		return true, nil
	}

	ok, err := c.confirmer.Confirm(ctx, info)
	if err != nil {
		return true, err
	}
	if !ok {
		c.logger.Info("update declined", slog.String("version", info.Version))
		return true, nil
	}

	if err := dispatch.Exec(ctx, c.dispatcher, CmdDownload, downloadRequest{Version: info.Version}, bridge.WithRetries(0)); err != nil {
		return true, err
	}
	if err := dispatch.Exec(ctx, c.dispatcher, CmdRelaunch, nil, bridge.WithRetries(0)); err != nil {
		return true, err
	}

	c.logger.Info("update installed", slog.String("version", info.Version))
	return true, nil
}
