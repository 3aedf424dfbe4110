// Package systemd reports service state to the systemd manager when avrec
// runs as a Type=notify unit. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/avrec/internal/logging"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger *slog.Logger
	// send defaults to daemon.SdNotify.
	send func(unsetEnvironment bool, state string) (bool, error)
	// interval defaults to daemon.SdWatchdogEnabled.
	interval func(unsetEnvironment bool) (time.Duration, error)
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = logging.GetLogger("systemd")
	}
	return &Notifier{logger: logger, send: daemon.SdNotify, interval: daemon.SdWatchdogEnabled}
}

func (n *Notifier) notify(state string) bool {
	sent, err := n.send(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Ready tells systemd that startup finished.
func (n *Notifier) Ready() bool {
	ok := n.notify(daemon.SdNotifyReady)
	if ok {
		n.logger.Debug("Notified systemd of readiness")
	}
	return ok
}

// Stopping tells systemd that shutdown began.
func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the watchdog at half its interval until ctx is done. It
// returns immediately when the unit has no WatchdogSec.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := n.interval(false)
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	n.logger.Info("Systemd watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
