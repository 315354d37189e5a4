package update

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Interface guards
var (
	_ Confirmer = (*ConsoleConfirmer)(nil)
	_ Notifier  = (*LogNotifier)(nil)
)

// ConsoleConfirmer asks on the terminal. Used by the CLI binary; the desktop
// shell supplies its own dialog-backed Confirmer.
type ConsoleConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *ConsoleConfirmer) Confirm(_ context.Context, info Info) (bool, error) {
	fmt.Fprintf(c.Out, "Update %s available. Install? [y/N] ", info.Version)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// LogNotifier reports terminal update failures through the logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) NotifyFailure(_ context.Context, err error) {
	n.Logger.Error("update could not be installed", slog.Any("err", err))
}
