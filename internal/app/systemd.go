package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"salahbot/internal/runtime/supervisor"
	"salahbot/pkg/logx"
)

// notifyReady tells systemd the service is up and, when WatchdogSec is
// set on the unit, keeps the watchdog fed. Outside systemd both calls
// are no-ops.
func notifyReady(sup *supervisor.Supervisor, log logx.Logger) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog detection failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	// Feed at half the configured interval, per the sd_watchdog contract.
	sup.GoPeriodic("systemd.watchdog", interval/2, func(ctx context.Context) error {
		_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		return err
	})
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval/2))
}

// notifyStopping is best-effort; called at the top of shutdown.
func notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
