// Package app wires configuration, storage, report generation, delivery,
// the execution engine and the scheduling loop into one process.
package app

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/eventbus"
	"reportbot/internal/health"
	"reportbot/internal/notifier"
	"reportbot/internal/report"
	"reportbot/internal/storage"
	"reportbot/internal/task/engine"
	"reportbot/internal/task/scheduler"
	"reportbot/internal/taskmgr"
	kit "reportbot/internal/transport"
	telegram "reportbot/internal/transport/telegram/adapter"
	logx "reportbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	// adapter is nil when no bot token is configured.
	adapter kit.Adapter

	store   *storage.TaskStore
	runs    storage.RunLog
	reports *report.Registry
	notif   *notifier.Service
	engine  *engine.Service
	loop    *scheduler.Loop
	mgr     *taskmgr.Manager

	thresholds atomic.Pointer[health.Thresholds]
	rec        *recorder
}

// New loads the config at cfgPath (plus any .env files next to it) and
// builds every component. Nothing runs in the background until RunDaemon.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	if err := cfgm.LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	acfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	var (
		adapter kit.Adapter
		sender  logx.TextSender
	)
	if acfg.Token != "" {
		ad, err := telegram.New(acfg, logx.NewConsole("info").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		adapter, sender = ad, ad
	}

	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	if sender == nil && cfg.Logging.Telegram.Enabled {
		log.Warn("telegram logging enabled but no bot token configured")
	}

	a, err := build(cfgm, cfg, adapter, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, adapter kit.Adapter, logSvc *logx.Service, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	th, err := mapThresholds(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenTaskStore(sc.TasksPath, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	runs, err := storage.OpenRunLog(sc, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}

	reports := report.NewRegistryWithDefaults(mapReportOptions(cfg, sc.BusyTimeout))
	notif := notifier.New(ncfg, adapter, log.With(logx.String("comp", "notifier")), bus)

	// next_run is computed on the loop's clock so every component follows
	// scheduler.timezone, including after a config reload.
	var loop *scheduler.Loop
	clock := func() time.Time { return loop.Now() }

	eng := engine.New(ecfg, store, reports, notif, log.With(logx.String("comp", "engine")), bus,
		engine.WithClock(clock))
	loop = scheduler.New(scfg, store, eng, log.With(logx.String("comp", "scheduler")), bus)
	mgr := taskmgr.New(store, eng, log.With(logx.String("comp", "tasks")),
		taskmgr.WithClock(clock),
		taskmgr.WithThresholds(th),
		taskmgr.WithReportTypes(reports),
		taskmgr.WithChats(kit.ChatDirectory(cfg.Telegram.Chats)),
	)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		adapter: adapter,
		store:   store,
		runs:    runs,
		reports: reports,
		notif:   notif,
		engine:  eng,
		loop:    loop,
		mgr:     mgr,
	}
	a.thresholds.Store(&th)
	if runs != nil {
		a.rec = startRecorder(bus, runs, log.With(logx.String("comp", "history")))
	}
	return a, nil
}

func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) ConfigPath() string            { return a.cfgm.Path() }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Store() *storage.TaskStore     { return a.store }
func (a *App) Reports() *report.Registry     { return a.reports }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Engine() *engine.Service       { return a.engine }
func (a *App) Scheduler() *scheduler.Loop    { return a.loop }
func (a *App) Tasks() *taskmgr.Manager       { return a.mgr }
func (a *App) Thresholds() health.Thresholds { return *a.thresholds.Load() }

// Now is wall time in the configured scheduler timezone.
func (a *App) Now() time.Time           { return a.loop.Now() }
func (a *App) DeliveryConfigured() bool { return a.adapter != nil }

// History returns the run history, or storage.ErrDisabled when
// storage.history.driver is "none".
func (a *App) History() (storage.RunLog, error) {
	if a.runs == nil {
		return nil, storage.ErrDisabled
	}
	return a.runs, nil
}

// Close flushes pending run records and releases files. It is safe to
// call more than once.
func (a *App) Close() error {
	var errs []error
	if a.rec != nil {
		a.rec.close()
		a.rec = nil
	}
	if a.runs != nil {
		errs = append(errs, a.runs.Close())
		a.runs = nil
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
		a.logs = nil
	}
	return errors.Join(errs...)
}
