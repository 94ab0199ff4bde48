package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/eventbus"
	"reportbot/internal/health"
	rtsup "reportbot/internal/runtime/supervisor"
	logx "reportbot/pkg/logx"
	"reportbot/pkg/systemd"
)

// ErrSchedulerDisabled is returned by RunDaemon when scheduler.enabled is false.
var ErrSchedulerDisabled = errors.New("scheduler is disabled in config")

// stopTimeout bounds how long shutdown waits for in-flight runs.
const stopTimeout = 2 * time.Minute

// RunDaemon runs the scheduling loop in the foreground until ctx ends or a
// background component fails. While running it watches the config and
// task files, records run history and checks task health.
func (a *App) RunDaemon(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if !cfg.Scheduler.IsEnabled() {
		return ErrSchedulerDisabled
	}
	if pid := strings.TrimSpace(cfg.Scheduler.PIDFile); pid != "" {
		if err := WritePIDFile(pid); err != nil {
			return err
		}
		defer func() {
			if err := RemovePIDFile(pid); err != nil {
				a.log.Warn("failed to remove pid file", logx.String("path", pid), logx.Err(err))
			}
		}()
	}

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapSchedulerConfig(c); err != nil {
			return err
		}
		_, err := mapThresholds(c)
		return err
	})

	// Watchers only return on shutdown; any earlier return is restarted.
	watchOpts := []rtsup.RestartOption{
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(false),
	}
	sup.GoRestart("tasks.watch", a.store.Watch, watchOpts...)
	sup.GoRestart("config.watch", a.cfgm.Watch, watchOpts...)

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.applyConfigLoop(c, sub)
	})
	sup.Go0("health.watch", a.watchHealth)
	a.logEvents(sup)

	if err := a.loop.Start(sup.Context()); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		return err
	}

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		a.log.Debug("notified systemd: ready")
	}
	if wd := systemd.WatchdogInterval(); wd > 0 {
		sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(wd)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					if a.loop.Running() {
						_, _ = systemd.Watchdog()
					}
				}
			}
		})
	}
	a.log.Info("daemon running", logx.String("config", a.cfgm.Path()), logx.String("pid_file", cfg.Scheduler.PIDFile))

	<-sup.Context().Done()
	_, _ = systemd.Stopping()
	a.log.Info("daemon stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.loop.Stop(stopCtx); err != nil {
		a.log.Warn("scheduler did not stop cleanly", logx.Err(err))
	}
	err := sup.Wait(stopCtx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	c := sup.Counters()
	a.log.Info("daemon stopped",
		logx.Uint64("goroutines", c.Started),
		logx.Uint64("restarts", c.Restarts),
		logx.Int64("still_active", c.Active),
	)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

func (a *App) applyConfigLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config changed", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	if scfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(scfg)
	}
	if th, err := mapThresholds(next); err != nil {
		a.log.Warn("invalid health config; keeping previous", logx.Err(err))
	} else {
		a.thresholds.Store(&th)
	}
}

// watchHealth warns once each time a task becomes Unhealthy and again when
// it recovers.
func (a *App) watchHealth(ctx context.Context) {
	last := map[string]health.Status{}
	check := func() {
		tasks, err := a.store.List()
		if err != nil {
			a.log.Warn("health check: cannot list tasks", logx.Err(err))
			return
		}
		th := a.Thresholds()
		seen := make(map[string]health.Status, len(tasks))
		for _, row := range th.Report(tasks, a.Now()) {
			name, st := row.Task.Name, row.Assessment.Status
			seen[name] = st
			prev, known := last[name]
			switch {
			case st == health.Unhealthy && prev != health.Unhealthy:
				a.log.Warn("task unhealthy", logx.String("task", name), logx.String("reason", row.Assessment.Reason))
			case known && prev == health.Unhealthy && st != health.Unhealthy:
				a.log.Info("task recovered", logx.String("task", name), logx.String("status", string(st)))
			}
		}
		last = seen
	}

	check()
	for {
		interval := a.Thresholds().OverdueAfter
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			check()
		}
	}
}

// logEvents mirrors bus events to the debug log.
func (a *App) logEvents(sup *rtsup.Supervisor) {
	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type == eventbus.TypeSchedulerStopped {
					_, _ = systemd.Status("scheduler stopped")
				}
			}
		}
	})
}
