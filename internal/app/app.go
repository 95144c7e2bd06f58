package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pricewatch/internal/config"
	"pricewatch/internal/currency"
	"pricewatch/internal/domain"
	"pricewatch/internal/eventbus"
	"pricewatch/internal/httpapi"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricecheck"
	"pricewatch/internal/pricesource/buff"
	rtsup "pricewatch/internal/runtime/supervisor"
	"pricewatch/internal/storage"
	"pricewatch/internal/task/scheduler"
	"pricewatch/internal/transport/telegram"
	logx "pricewatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	clock domain.Clock

	store  storage.Store
	sender *telegram.Sender
	conv   *currency.Converter
	notif  *notifier.Service
	sched  *scheduler.Service
	http   *httpapi.Service

	dispatcher *pricecheck.Dispatcher
	retention  *pricecheck.RetentionJob
	refresh    *pricecheck.CurrencyRefreshJob
}

// New loads the config and builds every component. Nothing runs until Start.
// Invalid configuration is returned as *config.ConfigurationError.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	clock := domain.SystemClock{}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	sender, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")), clock)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// Close the store if any later step fails.
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()
	appLog.Info("storage opened", logx.String("path", sc.Path))

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	source, err := buff.New(srcCfg, log.With(logx.String("comp", "buff")))
	if err != nil {
		return nil, &config.ConfigurationError{Field: "price_source", Err: err}
	}

	curCfg, err := mapCurrencyConfig(cfg)
	if err != nil {
		return nil, err
	}
	conv := currency.New(curCfg, log.With(logx.String("comp", "currency")), clock)

	ncfg, err := mapNotifierConfig(cfg, loadLocation(cfg))
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus, clock)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	dispatcher, err := pricecheck.NewDispatcher(pricecheck.Deps{
		Store:     store,
		Source:    source,
		Converter: conv,
		Notifier:  notif,
		Clock:     clock,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "pricecheck")),
	})
	if err != nil {
		return nil, err
	}
	age, err := retentionAge(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		clock:      clock,
		store:      store,
		sender:     sender,
		conv:       conv,
		notif:      notif,
		sched:      sched,
		dispatcher: dispatcher,
		retention:  pricecheck.NewRetentionJob(store, age, log.With(logx.String("comp", "retention"))),
		refresh:    pricecheck.NewCurrencyRefreshJob(conv, log.With(logx.String("comp", "currency"))),
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = httpapi.New(hcfg, httpapi.Deps{
		Store:      store,
		Quotes:     source,
		Rates:      conv,
		Scheduler:  sched,
		Deliveries: notif,
		Clock:      clock,
		CheckJob:   JobPriceCheck,
		Extra:      a.statusExtra,
	}, log.With(logx.String("comp", "http")))

	ok = true
	return a, nil
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	// Startup refresh; on failure the fallback rates stay in use.
	rctx, cancel := context.WithTimeout(runCtx, currency.DefaultTimeout)
	if err := a.refresh.Run(rctx); err != nil {
		a.log.Warn("initial exchange rate refresh failed; using fallback rates", logx.Err(err))
	}
	cancel()

	if err := a.registerJobs(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	if a.http.Enabled() {
		a.http.Start(runCtx)
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Debug only; ticks fire every minute.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = drainLatest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
	)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.Int("jobs", len(a.sched.Snapshot().Schedules)))
	return nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	specs := jobSpecs(cfg)
	jobs := []struct {
		name string
		run  scheduler.Job
	}{
		{JobPriceCheck, a.dispatcher.Tick},
		{JobHistoryPrune, a.retention.Run},
		{JobCurrencyRefresh, a.refresh.Run},
	}
	for _, j := range jobs {
		if err := a.sched.AddSchedule(j.name, specs[j.name], 0, j.run); err != nil {
			return &config.ConfigurationError{Field: "scheduler." + j.name, Err: err}
		}
	}
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	for name, spec := range jobSpecs(cfg) {
		if err := a.sched.Validate(spec); err != nil {
			return &config.ConfigurationError{Field: "scheduler." + name, Err: err}
		}
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg, time.UTC); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}

func drainLatest(ch chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-ch:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig hot-applies the reloadable sections: logging, notifier,
// scheduler and http.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	var restart []string
	for _, s := range sections {
		if config.RequiresRestart(s) {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next))

	if ncfg, err := mapNotifierConfig(next, loadLocation(next)); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if scfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
		old, cur := jobSpecs(prev), jobSpecs(next)
		for name, spec := range cur {
			if old[name] == spec {
				continue
			}
			if err := a.reschedule(name, spec); err != nil {
				a.log.Warn("reschedule failed; keeping previous", logx.String("job", name), logx.Err(err))
			}
		}
	}

	if hcfg, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) reschedule(name, spec string) error {
	var job scheduler.Job
	switch name {
	case JobPriceCheck:
		job = a.dispatcher.Tick
	case JobHistoryPrune:
		job = a.retention.Run
	case JobCurrencyRefresh:
		job = a.refresh.Run
	default:
		return scheduler.ErrUnknownJob
	}
	if err := a.sched.AddSchedule(name, spec, 0, job); err != nil {
		return err
	}
	a.log.Info("job rescheduled", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// statusExtra feeds /api/status with app-level runtime state.
func (a *App) statusExtra() map[string]any {
	out := map[string]any{
		"events_dropped":   eventbus.Dropped(a.bus),
		"notifier_enabled": a.notif.Enabled(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	if sup := a.http.Supervisor(); sup != nil {
		out["http_supervisor"] = sup.Snapshot()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
