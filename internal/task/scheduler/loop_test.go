package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reportbot/internal/report"
	"reportbot/internal/schedule"
	"reportbot/internal/storage"
	"reportbot/internal/task"
	"reportbot/internal/task/engine"
	logx "reportbot/pkg/logx"
)

var base = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	tasks []task.Task
	err   error
}

func (f *fakeSource) List() ([]task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]task.Task, len(f.tasks))
	for i, t := range f.tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

type fakeExec struct {
	mu    sync.Mutex
	calls []string
	hook  func(name string)
}

func (f *fakeExec) Execute(_ context.Context, name string, trigger engine.Trigger) (bool, error) {
	if trigger != engine.TriggerSchedule {
		panic("unexpected trigger " + trigger)
	}
	f.mu.Lock()
	f.calls = append(f.calls, name)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return true, nil
}

func (f *fakeExec) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func dueTask(name string, next time.Time, active bool) task.Task {
	n := next
	return task.Task{
		Name:            name,
		ReportReference: "r",
		DeliveryTarget:  "1",
		TimeOfDay:       schedule.TimeOfDay{Hour: next.Hour(), Minute: next.Minute()},
		Frequency:       schedule.Daily,
		Active:          active,
		NextRun:         &n,
	}
}

func TestSweepDueSelection(t *testing.T) {
	t.Parallel()

	noNext := dueTask("no-next", base, true)
	noNext.NextRun = nil
	src := &fakeSource{tasks: []task.Task{
		dueTask("b-exact", base, true),
		dueTask("a-late-in-window", base.Add(-59*time.Second), true),
		dueTask("overdue", base.Add(-60*time.Second), true),
		dueTask("future", base.Add(time.Second), true),
		dueTask("inactive", base, false),
		noNext,
	}}
	exec := &fakeExec{}
	l := New(Config{}, src, exec, logx.Nop(), nil)

	n, err := l.SweepOnce(context.Background(), base)
	if err != nil || n != 2 {
		t.Fatalf("SweepOnce n=%d err=%v", n, err)
	}
	got := exec.names()
	if len(got) != 2 || got[0] != "a-late-in-window" || got[1] != "b-exact" {
		t.Fatalf("fired=%v", got)
	}
}

func TestSweepNeverFiresSameOccurrenceTwice(t *testing.T) {
	t.Parallel()

	// The executor does not write anything back, as when the outcome could
	// not be persisted: next_run stays put.
	src := &fakeSource{tasks: []task.Task{dueTask("eod", base, true)}}
	exec := &fakeExec{}
	l := New(Config{}, src, exec, logx.Nop(), nil)

	for i := 0; i < 3; i++ {
		if _, err := l.SweepOnce(context.Background(), base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}
	if got := exec.names(); len(got) != 1 {
		t.Fatalf("fired %d times, want 1", len(got))
	}

	// A new occurrence fires again.
	src.mu.Lock()
	src.tasks[0] = dueTask("eod", base.Add(24*time.Hour), true)
	src.mu.Unlock()
	if _, err := l.SweepOnce(context.Background(), base.Add(24*time.Hour)); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if got := exec.names(); len(got) != 2 {
		t.Fatalf("fired %d times, want 2", len(got))
	}
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, string, string, string) error { return nil }

func TestSweepWithEngineIncrementsRunCountOnce(t *testing.T) {
	t.Parallel()

	st, err := storage.OpenTaskStore(filepath.Join(t.TempDir(), "tasks.json"), logx.Nop())
	if err != nil {
		t.Fatalf("OpenTaskStore: %v", err)
	}
	if err := st.Save(map[string]task.Task{"eod": dueTask("eod", base, true)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reg := report.NewRegistry()
	reg.Register(task.DefaultReportType, report.GeneratorFunc(func(context.Context, string) (report.Artifact, error) {
		return report.Artifact{Message: "ok"}, nil
	}))
	eng := engine.New(engine.Config{}, st, reg, nopDeliverer{}, logx.Nop(), nil, engine.WithClock(func() time.Time { return base }))
	l := New(Config{}, st, eng, logx.Nop(), nil)

	for i := 0; i < 3; i++ {
		if _, err := l.SweepOnce(context.Background(), base); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}
	got, err := st.Get("eod")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunCount != 1 || got.SuccessCount != 1 {
		t.Fatalf("run_count=%d success_count=%d", got.RunCount, got.SuccessCount)
	}
	if want := base.Add(24 * time.Hour); got.NextRun == nil || !got.NextRun.Equal(want) {
		t.Fatalf("next_run=%v want %v", got.NextRun, want)
	}
}

func TestSweepParallel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tasks: []task.Task{dueTask("a", base, true), dueTask("b", base, true), dueTask("c", base, true)}}
	var barrier sync.WaitGroup
	barrier.Add(3)
	released := make(chan struct{})
	exec := &fakeExec{hook: func(string) {
		barrier.Done()
		<-released
	}}
	go func() {
		barrier.Wait()
		close(released)
	}()

	l := New(Config{Parallel: 3}, src, exec, logx.Nop(), nil)
	done := make(chan error, 1)
	go func() {
		_, err := l.SweepOnce(context.Background(), base)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("due tasks did not run concurrently")
	}
}

func TestSweepErrors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("disk gone")}
	l := New(Config{}, src, &fakeExec{}, logx.Nop(), nil)
	if _, err := l.SweepOnce(context.Background(), base); err == nil {
		t.Fatalf("expected list error")
	}

	src.mu.Lock()
	src.err = nil
	src.tasks = []task.Task{dueTask("boom", base, true)}
	src.mu.Unlock()
	l.exec = &fakeExec{hook: func(string) { panic("generator bug") }}
	if _, err := l.SweepOnce(context.Background(), base); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}

	st := l.Status()
	if st.Sweeps != 2 || st.Failures != 2 || st.LastError == "" {
		t.Fatalf("status=%+v", st)
	}
}

func TestSweepPanicDoesNotSkipOtherTasks(t *testing.T) {
	t.Parallel()

	for _, parallel := range []int{1, 4} {
		src := &fakeSource{tasks: []task.Task{dueTask("a", base, true), dueTask("b", base, true)}}
		exec := &fakeExec{hook: func(name string) {
			if name == "a" {
				panic("generator bug")
			}
		}}
		l := New(Config{Parallel: parallel}, src, exec, logx.Nop(), nil)

		n, err := l.SweepOnce(context.Background(), base)
		if err == nil || n != 2 {
			t.Fatalf("parallel=%d: n=%d err=%v", parallel, n, err)
		}
		got := exec.names()
		if len(got) != 2 {
			t.Fatalf("parallel=%d: executed %v, want a and b", parallel, got)
		}
		if n, _ := l.SweepOnce(context.Background(), base.Add(time.Second)); n != 0 {
			t.Fatalf("parallel=%d: occurrence fired again (n=%d)", parallel, n)
		}
	}
}

func TestParentCancelStopsLoop(t *testing.T) {
	t.Parallel()

	l := New(Config{PollInterval: 10 * time.Millisecond}, &fakeSource{}, &fakeExec{}, logx.Nop(), nil,
		WithClock(func() time.Time { return base }))
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for l.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("loop still reported running after its context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := l.Status(); st.State != StateStopped {
		t.Fatalf("state=%s", st.State)
	}
	if err := l.Start(context.Background()); err != nil || !l.Running() {
		t.Fatalf("restart after cancel: err=%v running=%v", err, l.Running())
	}
	_ = l.Stop(context.Background())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	fired := make(chan string, 1)
	src := &fakeSource{tasks: []task.Task{dueTask("eod", base, true)}}
	exec := &fakeExec{hook: func(name string) { fired <- name }}
	l := New(Config{PollInterval: 10 * time.Millisecond}, src, exec, logx.Nop(), nil,
		WithClock(func() time.Time { return base }))

	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if st := l.Status(); st.State != StateRunning {
		t.Fatalf("state=%s", st.State)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never fired the due task")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := l.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.Running() {
		t.Fatalf("still running after Stop")
	}
	if got := exec.names(); len(got) != 1 {
		t.Fatalf("fired %v, want exactly one", got)
	}
	if err := l.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := l.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = l.Stop(stopCtx)
}
