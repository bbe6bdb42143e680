// Package systemd speaks the sd_notify protocol so the bot can run as a
// Type=notify unit with WatchdogSec set. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "iranfinance/pkg/logx"
)

type Notifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Watchdog pings the systemd watchdog at half the configured WatchdogSec
// while healthy returns nil. It returns immediately when the watchdog is off.
func (n *Notifier) Watchdog(ctx context.Context, healthy func(context.Context) error) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog settings unreadable", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	n.watchdogLoop(ctx, every/2, healthy)
}

func (n *Notifier) watchdogLoop(ctx context.Context, every time.Duration, healthy func(context.Context) error) {
	n.log.Info("watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, every)
				err := healthy(hctx)
				cancel()
				if err != nil {
					// Withholding the ping lets systemd restart us.
					n.log.Warn("unhealthy; skipping watchdog ping", logx.Err(err))
					continue
				}
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
