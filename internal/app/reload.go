package app

import (
	"context"
	"strings"

	"iranfinance/internal/config"
	"iranfinance/internal/task/scheduler"
	logx "iranfinance/pkg/logx"
)

// reloadLoop applies hot-reloadable sections: logging and the dispatcher
// (workers, delivery timeout, timezone, interval). Everything else is logged
// as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "dispatcher":
			dcfg, d, err := mapDispatchConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.Apply(dcfg)
			a.sched.Apply(scheduler.Config{Timezone: newCfg.Dispatcher.Timezone})
			if oldCfg.Dispatcher.Interval != newCfg.Dispatcher.Interval {
				if err := a.sched.AddInterval(scheduleDispatch, d.Interval, 0, 0, a.tick); err != nil {
					a.log.Warn("dispatcher reschedule failed", logx.Err(err))
				}
			}
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
