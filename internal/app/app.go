package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iranfinance/internal/bot"
	"iranfinance/internal/config"
	"iranfinance/internal/dispatcher"
	"iranfinance/internal/metrics"
	"iranfinance/internal/ops"
	rtsup "iranfinance/internal/runtime/supervisor"
	"iranfinance/internal/selection"
	"iranfinance/internal/source"
	"iranfinance/internal/storage"
	"iranfinance/internal/task/scheduler"
	kit "iranfinance/internal/transport"
	"iranfinance/internal/transport/telegram"
	"iranfinance/internal/transport/telegram/router"
	logx "iranfinance/pkg/logx"
	"iranfinance/pkg/systemd"
	"iranfinance/pkg/tgui"
)

const (
	scheduleDispatch = "dispatch.tick"
	scheduleSource   = "source.fetch"
	scheduleStats    = "stats.refresh"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   *systemd.Notifier

	store    storage.Store
	metrics  *metrics.Metrics
	sessions *selection.Sessions

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot

	disp    *dispatcher.Dispatcher
	fetcher *source.Fetcher // nil when source.url is empty
	sched   *scheduler.Service
	ops     *ops.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, comp("telegram"))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, comp("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("path", scfg.Path))

	m := metrics.New()

	dcfg, _, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatcher.New(dcfg, store, ad, m, comp("dispatcher"))

	var fetcher *source.Fetcher
	if cfg.Source.URL != "" {
		timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, config.DefaultSourceTimeout)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		fetcher, err = source.New(cfg.Source.URL, store, comp("source"),
			source.WithTimeout(timeout),
			source.WithMetrics(m),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		log.Warn("source.url is empty; price refresh disabled")
	}

	sessions := selection.NewSessions()
	ctl := selection.NewController(store, sessions, m, comp("selection"))
	b := bot.New(store, ctl, tgui.NewTokenStore().WithTTL(24*time.Hour), comp("bot"))
	rt := router.New(router.Config{}, ad, comp("router"))
	rt.SetRegistry(b.Commands(), b.Callbacks(), b.Unknown)

	opsSrv := ops.New(mapOpsConfig(cfg), m.Registry(), comp("ops"))
	opsSrv.AddCheck("storage", store.Ping)
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Dispatcher.Timezone}, comp("scheduler"))
	opsSrv.AddCheck("scheduler", func(context.Context) error {
		if !sched.Snapshot().Running {
			return errors.New("not running")
		}
		return nil
	})

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		sd:       systemd.New(comp("systemd")),
		store:    store,
		metrics:  m,
		sessions: sessions,
		adapter:  ad,
		router:   rt,
		bot:      b,
		disp:     disp,
		fetcher:  fetcher,
		sched:    sched,
		ops:      opsSrv,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()
	if err := a.registerSchedules(cfg); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.router.PublishMenu(a.sup.Context(), a.bot.Commands()); err != nil {
		a.log.Warn("menu publish failed", logx.Err(err))
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.store.Ping)
	})

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// registerSchedules binds the dispatcher tick, price refresh and stats
// gauges to the scheduler. Names are stable so a later Add replaces the
// trigger (see applyConfig).
func (a *App) registerSchedules(cfg *config.Config) error {
	_, d, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.AddInterval(scheduleDispatch, d.Interval, d.FirstDelay, 0, a.tick); err != nil {
		return fmt.Errorf("dispatcher schedule: %w", err)
	}
	if err := a.sched.AddInterval(scheduleStats, time.Minute, 2*time.Second, 10*time.Second, a.refreshStats); err != nil {
		return err
	}

	if a.fetcher == nil {
		return nil
	}
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, config.DefaultSourceTimeout)
	if err != nil {
		return err
	}
	// The HTTP client has its own timeout; the job bound also covers the upserts.
	if err := a.sched.AddSchedule(scheduleSource, cfg.Source.ScheduleOrDefault(), 2*timeout, a.refresh); err != nil {
		return fmt.Errorf("source schedule: %w", err)
	}
	// Seed the catalogue before the first digest goes out.
	a.sup.Go0("source.initial_fetch", func(c context.Context) {
		fctx, cancel := context.WithTimeout(c, 2*timeout)
		defer cancel()
		if err := a.refresh(fctx); err != nil {
			a.log.Warn("initial price fetch failed", logx.Err(err))
		}
	})
	return nil
}

func (a *App) tick(ctx context.Context) error {
	rep, err := a.disp.Tick(ctx)
	if err != nil {
		return err
	}
	if rep.Outcomes[dispatcher.Failed] > 0 {
		a.log.Warn("tick had failed deliveries",
			logx.String("tick", rep.ID),
			logx.Int("subscribers", rep.Subscribers),
			logx.Int("failed", rep.Outcomes[dispatcher.Failed]),
		)
	}
	return nil
}

func (a *App) refresh(ctx context.Context) error {
	n, err := a.fetcher.Run(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		a.log.Debug("price feed returned no usable quotes")
	}
	return nil
}

func (a *App) refreshStats(ctx context.Context) error {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	a.metrics.Population(st.Items, st.Subscribers, st.Active, a.sessions.Len())
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 5*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	step("telegram", 3*time.Second, a.adapter.Stop)
	step("ops", 3*time.Second, a.ops.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
