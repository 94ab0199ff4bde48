package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"reportbot/internal/eventbus"
	"reportbot/internal/notifier"
	"reportbot/internal/report"
	"reportbot/internal/task"
	logx "reportbot/pkg/logx"
)

// Store is the part of the task store the engine needs.
type Store interface {
	Get(name string) (task.Task, error)
	Update(fn func(tasks map[string]task.Task) error) error
}

// Resolver maps a report type to its generator.
type Resolver interface {
	Lookup(typ string) (report.Generator, error)
}

type Option func(*Service)

// WithClock replaces time.Now. next_run is computed in the location of the
// returned time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs one task end to end: generate, deliver, record. Runs of
// different tasks may proceed concurrently; a task never runs twice at once
// inside one process.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	store   Store
	reports Resolver
	deliver notifier.Deliverer
	now     func() time.Time

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, store Store, reports Resolver, deliver notifier.Deliverer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "engine")),
		bus:     bus,
		store:   store,
		reports: reports,
		deliver: deliver,
		now:     time.Now,
		states:  make(map[string]*RunState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute runs the named task and reports whether the run succeeded. err is
// non-nil only when the run could not start (unknown task, already running)
// or its outcome could not be persisted.
func (s *Service) Execute(ctx context.Context, name string, trigger Trigger) (bool, error) {
	res, err := s.Run(ctx, name, trigger)
	return res.OK, err
}

// Run is Execute with the full result.
func (s *Service) Run(ctx context.Context, name string, trigger Trigger) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := s.store.Get(name)
	if err != nil {
		return Result{}, err
	}

	st := s.stateFor(name)
	if !st.tryAcquire() {
		s.log.Warn("task skipped: already running", logx.String("task", name), logx.String("trigger", trigger.String()))
		return Result{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	defer st.release()

	res := Result{
		ID:      uuid.NewString(),
		Task:    name,
		Trigger: trigger,
		Started: s.now(),
	}
	log := s.log.With(logx.String("task", name), logx.String("run_id", res.ID), logx.String("trigger", trigger.String()))
	s.publish(eventbus.TypeTaskStarted, res)
	log.Info("task started", logx.String("report", t.ReportReference), logx.String("target", t.DeliveryTarget))

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	res.Err = s.produce(runCtx, t, log)
	res.OK = res.Err == nil

	finished := s.now()
	res.Duration = finished.Sub(res.Started)

	err = s.store.Update(func(tasks map[string]task.Task) error {
		cur, ok := tasks[name]
		if !ok {
			return errTaskGone
		}
		cur.RecordRun(finished, res.Err)
		tasks[name] = cur
		return nil
	})
	switch {
	case errors.Is(err, errTaskGone):
		log.Warn("task deleted during execution; outcome dropped", logx.Bool("ok", res.OK))
		err = nil
	case err != nil:
		log.Error("failed to record task outcome", logx.Err(err))
	default:
		res.Recorded = true
	}

	s.addHistory(res)
	s.publish(eventbus.TypeTaskFinished, res)
	if res.OK {
		log.Info("task finished", logx.Duration("took", res.Duration))
	} else {
		log.Warn("task failed", logx.Duration("took", res.Duration), logx.Err(res.Err))
	}
	return res, err
}

// produce generates the report and hands it to the notifier. The artifact
// is removed only after a successful delivery.
func (s *Service) produce(ctx context.Context, t task.Task, log logx.Logger) error {
	if s.reports == nil {
		return fmt.Errorf("%w: no report generators configured", task.ErrReportGeneration)
	}
	gen, err := s.reports.Lookup(t.ReportType)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrReportGeneration, err)
	}
	art, err := gen.Generate(ctx, t.ReportReference)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrReportGeneration, err)
	}
	if s.deliver == nil {
		return fmt.Errorf("%w: %v", task.ErrDelivery, notifier.ErrNotConfigured)
	}
	if err := s.deliver.Deliver(ctx, t.DeliveryTarget, art.Message, art.Path); err != nil {
		if art.Path != "" {
			log.Warn("artifact kept after failed delivery", logx.String("path", art.Path))
		}
		return fmt.Errorf("%w: %v", task.ErrDelivery, err)
	}
	if err := art.Cleanup(); err != nil {
		log.Warn("artifact cleanup failed", logx.String("path", art.Path), logx.Err(err))
	}
	return nil
}

// Running reports whether name has a run in flight in this process.
func (s *Service) Running(name string) bool {
	s.stateMu.Lock()
	st := s.states[name]
	s.stateMu.Unlock()
	return st != nil && st.running()
}

// History returns recent runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) addHistory(res Result) {
	item := HistoryItem{
		ID:       res.ID,
		Name:     res.Task,
		Trigger:  res.Trigger,
		Started:  res.Started,
		Duration: res.Duration,
		OK:       res.OK,
	}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := len(s.history) - s.cfg.HistorySize; n > 0 {
		s.history = append([]HistoryItem(nil), s.history[n:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, res Result) {
	if s.bus == nil {
		return
	}
	ev := TaskEvent{
		ID:       res.ID,
		Name:     res.Task,
		Trigger:  res.Trigger,
		Started:  res.Started,
		Duration: res.Duration,
		OK:       res.OK,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
