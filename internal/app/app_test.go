package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/storage"
	"reportbot/internal/taskmgr"
	logx "reportbot/pkg/logx"

	_ "time/tzdata"
)

const testConfig = `
logging:
  level: warn
  console: false
storage:
  tasks_path: ./data/tasks.json
  history:
    driver: file
    path: ./data/runs.jsonl
reports:
  saved_configs_path: ./saved_configs.yaml
  output_dir: ./out
scheduler:
  poll_interval: 1s
  timezone: UTC
  pid_file: ./run/reportbot.pid
notifier:
  parse_mode: none
health:
  overdue_after: 10m
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	return newTestAppWith(t, testConfig)
}

func newTestAppWith(t *testing.T, body string) *App {
	t.Helper()
	t.Setenv(config.EnvTelegramToken, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewWiresComponents(t *testing.T) {
	a := newTestApp(t)

	if a.DeliveryConfigured() {
		t.Fatalf("delivery should be unconfigured without a token")
	}
	if got := a.Thresholds().OverdueAfter; got != 10*time.Minute {
		t.Fatalf("OverdueAfter=%v want 10m", got)
	}
	if !strings.HasSuffix(a.Store().Path(), filepath.Join("data", "tasks.json")) {
		t.Fatalf("tasks path not resolved: %s", a.Store().Path())
	}
	if _, err := a.History(); err != nil {
		t.Fatalf("History: %v", err)
	}
	if types := a.Reports().Types(); len(types) != 2 {
		t.Fatalf("report types=%v", types)
	}
}

func TestManualRunIsRecordedInHistory(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, err := a.Tasks().Create(ctx, taskmgr.Definition{
		Name:            "daily",
		Description:     "daily deals",
		ReportReference: "deals",
		DeliveryTarget:  "-1001234",
		TimeOfDay:       "09:00",
		Frequency:       "Daily",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No saved configs file exists, so generation fails and the failure is
	// recorded rather than returned.
	ok, err := a.Tasks().ExecuteNow(ctx, "daily")
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if ok {
		t.Fatalf("expected failed run")
	}

	a.rec.close()
	a.rec = nil
	runs, err := a.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	recs, err := runs.Recent(ctx, "daily", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records want 1", len(recs))
	}
	if recs[0].OK || recs[0].Trigger != "manual" || recs[0].Error == "" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}

	got, err := a.Tasks().Get(ctx, "daily")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunCount != 1 || got.ErrorCount != 1 || got.LastError == nil {
		t.Fatalf("counters not updated: %+v", got)
	}
}

func TestNextRunFollowsSchedulerTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	a := newTestAppWith(t, strings.Replace(testConfig, "timezone: UTC", "timezone: Asia/Tokyo", 1))
	ctx := context.Background()

	if loc := a.Now().Location().String(); loc != "Asia/Tokyo" {
		t.Fatalf("app clock location=%s", loc)
	}
	created, err := a.Tasks().Create(ctx, taskmgr.Definition{
		Name:            "tokyo_open",
		Description:     "morning positions",
		ReportReference: "positions",
		DeliveryTarget:  "-1001234",
		TimeOfDay:       "09:00",
		Frequency:       "Daily",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assertTokyoNine := func(label string, next *time.Time) {
		t.Helper()
		if next == nil {
			t.Fatalf("%s: next_run unset", label)
		}
		if local := next.In(tokyo); local.Hour() != 9 || local.Minute() != 0 {
			t.Fatalf("%s: next_run=%s is %s in Tokyo, want 09:00", label, next, local.Format("15:04"))
		}
	}
	assertTokyoNine("create", created.NextRun)

	// The run fails (no saved configs) but next_run is recomputed anyway.
	if _, err := a.Tasks().ExecuteNow(ctx, "tokyo_open"); err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	got, err := a.Tasks().Get(ctx, "tokyo_open")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunCount != 1 {
		t.Fatalf("run not recorded: %+v", got)
	}
	assertTokyoNine("after run", got.NextRun)
}

func TestBuildRejectsConfigBeforeOpeningHistory(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.TasksPath = filepath.Join(dir, "tasks.json")
	cfg.Storage.History = config.HistoryConfig{Driver: "sqlite", Path: filepath.Join(dir, "runs.db")}
	cfg.Engine.RunTimeout = "eventually"

	if _, err := build(config.NewConfigManager(filepath.Join(dir, "config.yaml")), cfg, nil, nil, logx.Nop()); err == nil {
		t.Fatalf("expected engine.run_timeout error")
	}
	if _, err := os.Stat(cfg.Storage.History.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("history database opened for a rejected config: %v", err)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"logging":{"level":"error"},"storage":{"tasks_path":"tasks.json","history":{"driver":"none"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := a.History(); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("History err=%v want ErrDisabled", err)
	}
}

func TestRunDaemonStopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	pidPath := a.Config().Scheduler.PIDFile

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunDaemon(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !a.Scheduler().Running() {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pid, err := ReadPIDFile(pidPath); err != nil || pid != os.Getpid() {
		t.Fatalf("pid file: pid=%d err=%v", pid, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunDaemon: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RunDaemon did not return")
	}
	if a.Scheduler().Running() {
		t.Fatalf("scheduler still running")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("pid file not removed: %v", err)
	}
}

func TestRunDaemonRefusesWhenDisabled(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"logging":{"level":"error"},"scheduler":{"enabled":false}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if err := a.RunDaemon(context.Background()); !errors.Is(err, ErrSchedulerDisabled) {
		t.Fatalf("RunDaemon err=%v want ErrSchedulerDisabled", err)
	}
}
