package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"reportbot/internal/eventbus"
	rtsup "reportbot/internal/runtime/supervisor"
	"reportbot/internal/task"
	"reportbot/internal/task/engine"
	logx "reportbot/pkg/logx"
)

type Option func(*Loop)

// WithClock replaces the wall clock. The returned time's location is used
// as is.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop is the scheduling worker. Start and Stop may be called from any
// goroutine; SweepOnce may be called directly (tests, one-shot runs).
type Loop struct {
	mu        sync.Mutex
	cfg       Config
	loc       *time.Location
	sup       *rtsup.Supervisor
	lastSweep time.Time
	lastErr   string

	src  Source
	exec Executor
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	// sweepMu serializes sweeps; fired is only touched under it.
	sweepMu sync.Mutex
	fired   map[string]time.Time

	sweeps   atomic.Uint64
	runs     atomic.Uint64
	failures atomic.Uint64
}

func New(cfg Config, src Source, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:   cfg,
		loc:   LoadLocation(cfg.Timezone, log),
		src:   src,
		exec:  exec,
		log:   log,
		bus:   bus,
		fired: map[string]time.Time{},
	}
	l.now = func() time.Time {
		l.mu.Lock()
		loc := l.loc
		l.mu.Unlock()
		return time.Now().In(loc)
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply swaps timing settings; a running loop picks them up on its next
// iteration.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.Timezone != l.cfg.Timezone {
		l.loc = LoadLocation(cfg.Timezone, l.log)
	}
	l.cfg = cfg
}

// Start launches the worker. A second Start while running is a no-op that
// logs a warning. The worker ends on Stop or when ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.sup != nil {
		l.mu.Unlock()
		l.log.Warn("start requested but scheduler is already running")
		return nil
	}
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(l.log))
	l.sup = sup
	cfg, loc := l.cfg, l.loc
	l.mu.Unlock()

	sup.Go("scheduler.loop", func(ctx context.Context) error {
		err := l.run(ctx)
		l.mu.Lock()
		if l.sup == sup {
			l.sup = nil
		}
		l.mu.Unlock()
		l.publish(eventbus.TypeSchedulerStopped)
		return err
	})
	l.log.Info("scheduler started",
		logx.Duration("poll", cfg.PollInterval),
		logx.Duration("window", cfg.ExecutionWindow),
		logx.Int("parallel", cfg.Parallel),
		logx.String("tz", loc.String()),
	)
	l.publish(eventbus.TypeSchedulerStarted)
	return nil
}

// Stop signals the worker and waits for the current sweep, including any
// in-flight executions, to finish or for ctx to end.
func (l *Loop) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	sup := l.sup
	l.mu.Unlock()
	if sup == nil {
		return nil
	}

	start := time.Now()
	l.log.Info("stop requested")
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		l.log.Warn("scheduler stop timed out; a sweep is still running", logx.Err(err))
		return err
	}

	l.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Now is the loop's clock: wall time in the configured timezone.
func (l *Loop) Now() time.Time { return l.now() }

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sup != nil
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		State:           StateStopped,
		Sweeps:          l.sweeps.Load(),
		Fired:           l.runs.Load(),
		Failures:        l.failures.Load(),
		LastSweep:       l.lastSweep,
		LastError:       l.lastErr,
		PollInterval:    l.cfg.PollInterval,
		ExecutionWindow: l.cfg.ExecutionWindow,
		Parallel:        l.cfg.Parallel,
		Location:        l.loc.String(),
	}
	if l.sup != nil {
		st.State = StateRunning
	}
	return st
}

func (l *Loop) run(ctx context.Context) error {
	// Executions outlive Stop so a run is never cut off half way.
	execCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, err := l.sweep(execCtx, l.now())

		l.mu.Lock()
		wait := l.cfg.PollInterval
		if err != nil {
			wait = l.cfg.ErrorBackoff
		}
		l.mu.Unlock()
		if err != nil {
			l.log.Error("sweep failed; backing off", logx.Err(err), logx.Duration("backoff", wait))
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce checks every task against now and executes the due ones. It
// returns how many executions were started. A panic in one execution does
// not stop the others; all such failures are joined into the error.
func (l *Loop) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.sweep(ctx, now)
}

func (l *Loop) sweep(ctx context.Context, now time.Time) (n int, err error) {
	l.sweepMu.Lock()
	defer l.sweepMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("sweep panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("sweep panic: %v", r)
		}
		l.sweeps.Add(1)
		l.mu.Lock()
		l.lastSweep = now
		if err != nil {
			l.failures.Add(1)
			l.lastErr = err.Error()
		} else {
			l.lastErr = ""
		}
		l.mu.Unlock()
	}()

	tasks, err := l.src.List()
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	due := l.collectDue(tasks, now)
	if len(due) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	parallel := l.cfg.Parallel
	l.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	run := func(name string) {
		if err := l.execute(ctx, name); err != nil {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	}

	if parallel <= 1 || len(due) == 1 {
		for _, name := range due {
			run(name)
		}
		return len(due), errors.Join(errs...)
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	for _, name := range due {
		name := name
		g.Go(func() error {
			run(name)
			return nil
		})
	}
	_ = g.Wait()
	return len(due), errors.Join(errs...)
}

// collectDue returns the names to fire, sorted, and marks their occurrence
// as fired.
func (l *Loop) collectDue(tasks []task.Task, now time.Time) []string {
	l.mu.Lock()
	window := l.cfg.ExecutionWindow
	l.mu.Unlock()

	seen := make(map[string]struct{}, len(tasks))
	var due []string
	for _, t := range tasks {
		seen[t.Name] = struct{}{}
		if !t.Active || t.NextRun == nil {
			continue
		}
		next := *t.NextRun
		if now.Before(next) {
			continue
		}
		if late := now.Sub(next); late >= window {
			l.log.Debug("task overdue beyond execution window; not fired",
				logx.String("task", t.Name), logx.Time("next_run", next), logx.Duration("late", late))
			continue
		}
		if prev, ok := l.fired[t.Name]; ok && prev.Equal(next) {
			continue
		}
		l.fired[t.Name] = next
		due = append(due, t.Name)
	}
	for name := range l.fired {
		if _, ok := seen[name]; !ok {
			delete(l.fired, name)
		}
	}
	sort.Strings(due)
	return due
}

// execute runs one task. Only a panic is reported as an error; run
// failures are recorded by the engine on the task itself.
func (l *Loop) execute(ctx context.Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task execution panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()

	l.runs.Add(1)
	ok, err := l.exec.Execute(ctx, name, engine.TriggerSchedule)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		l.log.Info("scheduled run skipped; task already running", logx.String("task", name))
	case errors.Is(err, task.ErrTaskNotFound):
		l.log.Info("scheduled task disappeared before execution", logx.String("task", name))
	case err != nil:
		l.log.Error("scheduled execution could not be recorded", logx.String("task", name), logx.Err(err))
	default:
		l.log.Debug("scheduled execution finished", logx.String("task", name), logx.Bool("ok", ok))
	}
	return nil
}

func (l *Loop) publish(typ string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: l.Status()})
}
