package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/report"
	"reportbot/internal/schedule"
	"reportbot/internal/storage"
	"reportbot/internal/task"
	logx "reportbot/pkg/logx"
)

var fixedNow = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

type fakeDeliverer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, target, message, artifactPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target+"|"+message+"|"+artifactPath)
	return f.err
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store   *storage.TaskStore
	reports *report.Registry
	deliver *fakeDeliverer
	bus     eventbus.Bus
	svc     *Service
}

func newFixture(t *testing.T, gen report.GeneratorFunc) *fixture {
	t.Helper()
	st, err := storage.OpenTaskStore(filepath.Join(t.TempDir(), "tasks.json"), logx.Nop())
	if err != nil {
		t.Fatalf("OpenTaskStore: %v", err)
	}
	next := schedule.NextRun(schedule.TimeOfDay{Hour: 9, Minute: 30}, schedule.Daily, fixedNow.Add(-time.Hour))
	seed := task.Task{
		Name:            "eod",
		Description:     "end of day",
		ReportReference: "eod",
		ReportType:      task.DefaultReportType,
		DeliveryTarget:  "-100123",
		TimeOfDay:       schedule.TimeOfDay{Hour: 9, Minute: 30},
		Frequency:       schedule.Daily,
		Active:          true,
		CreatedAt:       fixedNow.Add(-48 * time.Hour),
		NextRun:         &next,
	}
	if err := st.Save(map[string]task.Task{"eod": seed}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reg := report.NewRegistry()
	reg.Register(task.DefaultReportType, gen)
	f := &fixture{store: st, reports: reg, deliver: &fakeDeliverer{}, bus: eventbus.New()}
	f.svc = New(Config{}, st, reg, f.deliver, logx.Nop(), f.bus, WithClock(func() time.Time { return fixedNow }))
	return f
}

func (f *fixture) get(t *testing.T) task.Task {
	t.Helper()
	got, err := f.store.Get("eod")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func artifactGen(t *testing.T) (report.GeneratorFunc, *string) {
	var path string
	dir := t.TempDir()
	return func(_ context.Context, ref string) (report.Artifact, error) {
		path = filepath.Join(dir, ref+".csv")
		if err := os.WriteFile(path, []byte("a,b\n"), 0o644); err != nil {
			return report.Artifact{}, err
		}
		return report.Artifact{Path: path, Message: "<b>" + ref + "</b>"}, nil
	}, &path
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	gen, path := artifactGen(t)
	f := newFixture(t, gen)
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	ok, err := f.svc.Execute(context.Background(), "eod", TriggerManual)
	if err != nil || !ok {
		t.Fatalf("Execute ok=%v err=%v", ok, err)
	}

	got := f.get(t)
	if got.RunCount != 1 || got.SuccessCount != 1 || got.ErrorCount != 0 || got.LastError != nil {
		t.Fatalf("counters=%+v", got)
	}
	if got.LastRun == nil || !got.LastRun.Equal(fixedNow) {
		t.Fatalf("last_run=%v", got.LastRun)
	}
	wantNext := time.Date(2025, 1, 16, 9, 30, 0, 0, time.UTC)
	if got.NextRun == nil || !got.NextRun.Equal(wantNext) {
		t.Fatalf("next_run=%v want %v", got.NextRun, wantNext)
	}
	if f.deliver.count() != 1 || !strings.HasPrefix(f.deliver.calls[0], "-100123|<b>eod</b>|") {
		t.Fatalf("deliveries=%v", f.deliver.calls)
	}
	if _, err := os.Stat(*path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact not cleaned up: %v", err)
	}

	for _, want := range []string{eventbus.TypeTaskStarted, eventbus.TypeTaskFinished} {
		select {
		case ev := <-events:
			if ev.Type != want {
				t.Fatalf("event=%s want %s", ev.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", want)
		}
	}
	if h := f.svc.History(); len(h) != 1 || !h[0].OK || h[0].Trigger != TriggerManual || h[0].ID == "" {
		t.Fatalf("history=%+v", h)
	}
}

func TestExecuteFailures(t *testing.T) {
	t.Parallel()

	t.Run("generation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(context.Context, string) (report.Artifact, error) {
			return report.Artifact{}, report.ErrConfigNotFound
		})
		ok, err := f.svc.Execute(context.Background(), "eod", TriggerSchedule)
		if err != nil || ok {
			t.Fatalf("Execute ok=%v err=%v", ok, err)
		}
		got := f.get(t)
		if got.RunCount != 1 || got.ErrorCount != 1 || got.SuccessCount != 0 {
			t.Fatalf("counters=%+v", got)
		}
		if got.LastError == nil || !strings.HasSuffix(*got.LastError, " at 2025-01-15 09:30:00") ||
			!strings.Contains(*got.LastError, task.ErrReportGeneration.Error()) {
			t.Fatalf("last_error=%v", got.LastError)
		}
		if got.NextRun == nil || !got.NextRun.After(fixedNow) {
			t.Fatalf("next_run must advance on failure: %v", got.NextRun)
		}
		if f.deliver.count() != 0 {
			t.Fatalf("deliver must not be called")
		}
	})

	t.Run("delivery keeps artifact", func(t *testing.T) {
		t.Parallel()
		gen, path := artifactGen(t)
		f := newFixture(t, gen)
		f.deliver.err = errors.New("telegram down")

		res, err := f.svc.Run(context.Background(), "eod", TriggerSchedule)
		if err != nil || res.OK || !errors.Is(res.Err, task.ErrDelivery) {
			t.Fatalf("res=%+v err=%v", res, err)
		}
		if _, err := os.Stat(*path); err != nil {
			t.Fatalf("artifact should be kept for inspection: %v", err)
		}
		if got := f.get(t); got.ErrorCount != 1 || got.LastError == nil {
			t.Fatalf("counters=%+v", got)
		}
	})

	t.Run("unknown report type", func(t *testing.T) {
		t.Parallel()
		gen, _ := artifactGen(t)
		f := newFixture(t, gen)
		if err := f.store.Update(func(m map[string]task.Task) error {
			cur := m["eod"]
			cur.ReportType = "pdf"
			m["eod"] = cur
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		res, err := f.svc.Run(context.Background(), "eod", TriggerManual)
		if err != nil || res.OK || !errors.Is(res.Err, task.ErrReportGeneration) {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})
}

func TestExecuteUnknownTask(t *testing.T) {
	t.Parallel()

	gen, _ := artifactGen(t)
	f := newFixture(t, gen)
	ok, err := f.svc.Execute(context.Background(), "nope", TriggerManual)
	if ok || !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := newFixture(t, func(context.Context, string) (report.Artifact, error) {
		close(entered)
		<-unblock
		return report.Artifact{Message: "done"}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Execute(context.Background(), "eod", TriggerSchedule)
		done <- err
	}()
	<-entered

	if !f.svc.Running("eod") {
		t.Fatalf("Running should be true while in flight")
	}
	ok, err := f.svc.Execute(context.Background(), "eod", TriggerManual)
	if ok || !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Execute ok=%v err=%v", ok, err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if got := f.get(t); got.RunCount != 1 {
		t.Fatalf("run_count=%d want 1", got.RunCount)
	}
	if f.svc.Running("eod") {
		t.Fatalf("Running should be false after completion")
	}
}

func TestExecuteDropsOutcomeForDeletedTask(t *testing.T) {
	t.Parallel()

	var f *fixture
	f = newFixture(t, func(context.Context, string) (report.Artifact, error) {
		err := f.store.Update(func(m map[string]task.Task) error {
			delete(m, "eod")
			return nil
		})
		return report.Artifact{Message: "x"}, err
	})

	res, err := f.svc.Run(context.Background(), "eod", TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK || res.Recorded {
		t.Fatalf("res=%+v", res)
	}
	if _, err := f.store.Get("eod"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("task must stay deleted: %v", err)
	}
}

func TestExecuteRunTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ctx context.Context, _ string) (report.Artifact, error) {
		<-ctx.Done()
		return report.Artifact{}, ctx.Err()
	})
	f.svc.cfg.RunTimeout = 20 * time.Millisecond

	res, err := f.svc.Run(context.Background(), "eod", TriggerSchedule)
	if err != nil || res.OK || !errors.Is(res.Err, task.ErrReportGeneration) {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}
