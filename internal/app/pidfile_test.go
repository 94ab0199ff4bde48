package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFileLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "reportbot.pid")
	if _, err := DaemonPID(path); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("DaemonPID on missing file: %v", err)
	}
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := DaemonPID(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("DaemonPID=%d err=%v", pid, err)
	}
	// Rewriting for the same process is allowed.
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile again: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file still present")
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile on missing file: %v", err)
	}
}

func TestPIDFileLeavesForeignPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reportbot.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign pid file must be kept: %v", err)
	}
	// The parent (the test runner) is alive.
	if err := WritePIDFile(path); !errors.Is(err, ErrDaemonRunning) {
		t.Fatalf("WritePIDFile err=%v want ErrDaemonRunning", err)
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reportbot.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatalf("expected error")
	}
}
