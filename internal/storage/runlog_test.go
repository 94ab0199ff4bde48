package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "reportbot/pkg/logx"
)

func TestRunLogBackends(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			rl, err := OpenRunLog(Config{HistoryDriver: driver, HistoryPath: filepath.Join(t.TempDir(), "runs."+driver)}, logx.Nop())
			if err != nil {
				t.Fatalf("OpenRunLog: %v", err)
			}
			defer rl.Close()

			ctx := context.Background()
			base := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
			recs := []RunRecord{
				{ID: "1", Task: "eod", Trigger: "schedule", Started: base, Duration: 2 * time.Second, OK: true},
				{ID: "2", Task: "weekly", Trigger: "manual", Started: base.Add(time.Minute), Duration: time.Second, OK: false, Error: "delivery failed"},
				{ID: "3", Task: "eod", Trigger: "schedule", Started: base.Add(24 * time.Hour), Duration: time.Second, OK: false, Error: "boom"},
			}
			for _, r := range recs {
				if err := rl.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}

			got, err := rl.Recent(ctx, "eod", 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 || got[0].ID != "3" || got[1].ID != "1" {
				t.Fatalf("Recent(eod)=%+v", got)
			}
			if got[0].OK || got[0].Error != "boom" || got[1].Duration != 2*time.Second {
				t.Fatalf("fields not preserved: %+v", got)
			}

			all, err := rl.Recent(ctx, "", 2)
			if err != nil {
				t.Fatalf("Recent(all): %v", err)
			}
			if len(all) != 2 || all[0].ID != "3" || all[1].ID != "2" {
				t.Fatalf("Recent(all)=%+v", all)
			}
		})
	}
}

func TestOpenRunLogDisabled(t *testing.T) {
	t.Parallel()

	rl, err := OpenRunLog(Config{HistoryDriver: "none"}, logx.Nop())
	if err != nil || rl != nil {
		t.Fatalf("OpenRunLog(none)=%v,%v", rl, err)
	}
	if _, err := OpenRunLog(Config{HistoryDriver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
