// Package app wires configuration, transport, storage and the domain
// services into one process.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"salahbot/internal/config"
	"salahbot/internal/delivery"
	"salahbot/internal/dhikr"
	"salahbot/internal/eventbus"
	"salahbot/internal/groups"
	"salahbot/internal/prayer"
	"salahbot/internal/quran"
	"salahbot/internal/runtime/supervisor"
	"salahbot/internal/schedule"
	"salahbot/internal/storage"
	"salahbot/internal/transport"
	"salahbot/internal/transport/telegram"
	"salahbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	loc     *time.Location

	registry *groups.Registry
	tracker  *quran.Tracker
	pages    *quran.Pages
	rotation *dhikr.Rotation

	cache    *prayer.Cache
	resolver *prayer.Resolver
	sched    *schedule.Scheduler
	fanout   *delivery.Fanout
	notif    *Notifier
	cmds     *Commands

	cleanupInterval time.Duration
	startedAt       time.Time

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled so Apply() doesn't warn
	// before the target chat is set.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if target := strings.TrimSpace(cfg.Telegram.GroupLog); target != "" {
		if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
		}
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	loc, err := loadLocation(cfg.Location.Timezone)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	fetchCfg, err := mapFetchConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := prayer.NewClient(fetchCfg, prayer.Params{
		City:    cfg.Location.City,
		Country: cfg.Location.Country,
		Method:  cfg.Location.Method,
		School:  cfg.Location.School,
	}, log.With(logx.String("comp", "prayer.source")))

	cacheCfg, cleanupInterval, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	cache := prayer.NewCache(cacheCfg, loc, store, log.With(logx.String("comp", "prayer.cache")))

	resolver := prayer.NewResolver(client, prayer.NewValidator(), cache, bus, loc,
		log.With(logx.String("comp", "prayer.resolver")))

	registry := groups.NewRegistry(store, bus, log.With(logx.String("comp", "groups")))

	totalPages := cfg.Quran.TotalPages
	pages := quran.NewPages(cfg.Quran.PageURLTemplate, totalPages)
	tracker := quran.NewTracker(store, pages.Total(), log.With(logx.String("comp", "quran")))

	fanout := delivery.NewFanout(ad, float64(orDefault(cfg.Delivery.RatePerSec, 10)), registry,
		log.With(logx.String("comp", "delivery")))

	rotation := dhikr.NewRotation()

	schedOpts, err := mapScheduleOptions(cfg)
	if err != nil {
		return nil, err
	}
	notif := NewNotifier(NotifierDeps{
		Registry:     registry,
		Tracker:      tracker,
		Pages:        pages,
		Rotation:     rotation,
		Fanout:       fanout,
		PagesPerSend: orDefault(cfg.Quran.PagesPerSend, 3),
		AlertBefore:  schedOpts.AlertBefore,
		Loc:          loc,
		Log:          log.With(logx.String("comp", "notifier")),
	})

	sched := schedule.New(schedOpts, resolver, notif, bus, loc,
		log.With(logx.String("comp", "schedule")))

	app := &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		adapter:         ad,
		loc:             loc,
		registry:        registry,
		tracker:         tracker,
		pages:           pages,
		rotation:        rotation,
		cache:           cache,
		resolver:        resolver,
		sched:           sched,
		fanout:          fanout,
		notif:           notif,
		cleanupInterval: cleanupInterval,
		updates:         make(chan transport.Update, 256),
	}
	app.cmds = NewCommands(app, cfg.Telegram.OwnerUserIDs)
	return app, nil
}

// Done is closed when the supervisor context is cancelled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.registry.Load(a.sup.Context()); err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	if err := a.cache.Load(a.sup.Context()); err != nil {
		a.log.Warn("cache load failed; starting cold", logx.Err(err))
	}
	ids := make([]int64, 0)
	for _, g := range a.registry.ListActive(groups.FeatureQuran) {
		ids = append(ids, g.ChatID)
	}
	if err := a.tracker.Load(a.sup.Context(), ids); err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startReloadLoop()

	a.sup.GoPeriodic("cache.cleanup", a.cleanupInterval, func(c context.Context) error {
		n, err := a.cache.Cleanup(c)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Debug("cache cleanup", logx.Int("removed", n))
		}
		return nil
	})

	if menu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("menu.sync", func(c context.Context) {
			if err := menu.UpdateMenuCommands(c, a.cmds.Menu()); err != nil {
				a.log.Warn("menu sync failed", logx.Err(err))
			}
		})
	}

	notifyReady(a.sup, a.log)

	a.log.Info("app started")
	return nil
}

// startReloadLoop applies hot config changes. Only logging and the
// owner list apply live; everything else warns that a restart is
// needed, which keeps reloads predictable.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				if target := strings.TrimSpace(newCfg.Telegram.GroupLog); target != "" {
					if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
						a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
					}
				} else {
					a.logs.SetTelegramTarget(0, 0)
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Telegram: logx.TelegramConfig{
						Enabled:    newCfg.Logging.Telegram.Enabled,
						ThreadID:   newCfg.Logging.Telegram.ThreadID,
						MinLevel:   newCfg.Logging.Telegram.MinLevel,
						RatePerSec: newCfg.Logging.Telegram.RatePerSec,
					},
				})
				a.cmds.SetOwners(newCfg.Telegram.OwnerUserIDs)
				a.log.Info("config reloaded; logging and owners applied live, other sections need a restart")
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	notifyStopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = "Africa/Cairo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("location.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
