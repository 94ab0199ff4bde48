// Package taskmgr is the task lifecycle surface the CLI drives: create,
// list, toggle, delete, execute now and the dashboard view.
package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reportbot/internal/health"
	"reportbot/internal/schedule"
	"reportbot/internal/task"
	"reportbot/internal/task/engine"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

// Store is the part of storage.TaskStore the manager needs.
type Store interface {
	Get(name string) (task.Task, error)
	List() ([]task.Task, error)
	Update(fn func(tasks map[string]task.Task) error) error
}

// Executor runs a task; engine.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, trigger engine.Trigger) (bool, error)
}

// ReportTypes reports whether a report type can be generated.
type ReportTypes interface {
	Has(typ string) bool
}

// Definition is the user input for Create. Text fields are parsed here so
// the CLI, the interactive form and tests share one validation path.
type Definition struct {
	Name            string
	Description     string
	ReportReference string
	ReportType      string
	DeliveryTarget  string
	TimeOfDay       string // "HH:MM"
	Frequency       string // Daily, Weekly or Monthly
	// Disabled creates the task inactive; tasks start active by default.
	Disabled bool
}

// Dashboard is the aggregated health view.
type Dashboard struct {
	Generated time.Time
	Summary   health.Summary
	Rows      []health.Row
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithThresholds(th health.Thresholds) Option {
	return func(m *Manager) { m.th = th }
}

// WithReportTypes enables report type validation on Create.
func WithReportTypes(rt ReportTypes) Option {
	return func(m *Manager) { m.types = rt }
}

// WithChats lets delivery targets name chats from the directory.
func WithChats(dir kit.ChatDirectory) Option {
	return func(m *Manager) { m.chats = dir }
}

type Manager struct {
	store Store
	exec  Executor
	types ReportTypes
	chats kit.ChatDirectory
	th    health.Thresholds
	log   logx.Logger
	now   func() time.Time
}

func New(store Store, exec Executor, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		store: store,
		exec:  exec,
		log:   log.With(logx.String("comp", "taskmgr")),
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Validate parses def into a fresh, not yet scheduled task.
func (m *Manager) Validate(def Definition) (task.Task, error) {
	name := def.Name
	if err := task.ValidateName(name); err != nil {
		return task.Task{}, err
	}
	desc := strings.TrimSpace(def.Description)
	if desc == "" {
		return task.Task{}, fmt.Errorf("%w: description is required", task.ErrInvalidTask)
	}
	tod, err := schedule.ParseTimeOfDay(def.TimeOfDay)
	if err != nil {
		return task.Task{}, fmt.Errorf("%w: %v", task.ErrInvalidSchedule, err)
	}
	freq, err := schedule.ParseFrequency(def.Frequency)
	if err != nil {
		return task.Task{}, fmt.Errorf("%w: %v", task.ErrInvalidSchedule, err)
	}
	ref := strings.TrimSpace(def.ReportReference)
	if ref == "" {
		return task.Task{}, fmt.Errorf("%w: report reference is required", task.ErrInvalidTask)
	}
	target := strings.TrimSpace(def.DeliveryTarget)
	if target == "" {
		return task.Task{}, fmt.Errorf("%w: delivery target is required", task.ErrInvalidTask)
	}
	if _, err := m.chats.Resolve(target); err != nil {
		return task.Task{}, fmt.Errorf("%w: %v", task.ErrInvalidTask, err)
	}
	typ := strings.ToLower(strings.TrimSpace(def.ReportType))
	if typ == "" {
		typ = task.DefaultReportType
	}
	if m.types != nil && !m.types.Has(typ) {
		return task.Task{}, fmt.Errorf("%w: unknown report type %q", task.ErrInvalidTask, def.ReportType)
	}
	return task.Task{
		Name:            name,
		Description:     desc,
		ReportReference: ref,
		ReportType:      typ,
		DeliveryTarget:  target,
		TimeOfDay:       tod,
		Frequency:       freq,
		Active:          !def.Disabled,
	}, nil
}

// Create validates def and stores a new task scheduled from now.
func (m *Manager) Create(_ context.Context, def Definition) (task.Task, error) {
	t, err := m.Validate(def)
	if err != nil {
		return task.Task{}, err
	}
	now := m.now()
	t.CreatedAt = now
	t.Reschedule(now)

	err = m.store.Update(func(tasks map[string]task.Task) error {
		if _, exists := tasks[t.Name]; exists {
			return fmt.Errorf("%w: %s", task.ErrDuplicateTaskName, t.Name)
		}
		tasks[t.Name] = t
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	m.log.Info("task created",
		logx.String("task", t.Name),
		logx.String("schedule", t.Frequency.String()+" "+t.TimeOfDay.String()),
		logx.Time("next_run", *t.NextRun),
	)
	return t.Clone(), nil
}

func (m *Manager) List(_ context.Context) ([]task.Task, error) {
	return m.store.List()
}

func (m *Manager) Get(_ context.Context, name string) (task.Task, error) {
	return m.store.Get(name)
}

// Toggle flips active. Activating recomputes next_run from now;
// deactivating leaves next_run as it was.
func (m *Manager) Toggle(_ context.Context, name string) (task.Task, error) {
	var out task.Task
	err := m.store.Update(func(tasks map[string]task.Task) error {
		t, ok := tasks[name]
		if !ok {
			return fmt.Errorf("%w: %s", task.ErrTaskNotFound, name)
		}
		t.Active = !t.Active
		if t.Active {
			t.Reschedule(m.now())
		}
		tasks[name] = t
		out = t.Clone()
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	m.log.Info("task toggled", logx.String("task", name), logx.Bool("active", out.Active))
	return out, nil
}

// Delete removes the task. It reports false, without error, when there was
// nothing to delete.
func (m *Manager) Delete(_ context.Context, name string) (bool, error) {
	err := m.store.Update(func(tasks map[string]task.Task) error {
		if _, ok := tasks[name]; !ok {
			return task.ErrTaskNotFound
		}
		delete(tasks, name)
		return nil
	})
	if errors.Is(err, task.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.log.Info("task deleted", logx.String("task", name))
	return true, nil
}

// ExecuteNow runs the task immediately, ignoring its schedule.
func (m *Manager) ExecuteNow(ctx context.Context, name string) (bool, error) {
	if m.exec == nil {
		return false, errors.New("no executor configured")
	}
	return m.exec.Execute(ctx, name, engine.TriggerManual)
}

func (m *Manager) Dashboard(_ context.Context) (Dashboard, error) {
	tasks, err := m.store.List()
	if err != nil {
		return Dashboard{}, err
	}
	now := m.now()
	return Dashboard{
		Generated: now,
		Summary:   m.th.Aggregate(tasks, now),
		Rows:      m.th.Report(tasks, now),
	}, nil
}
