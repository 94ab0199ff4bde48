package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrDaemonRunning is returned when the pid file names a live process.
	ErrDaemonRunning = errors.New("scheduler daemon already running")
	// ErrDaemonNotRunning is returned when there is no live daemon to stop.
	ErrDaemonNotRunning = errors.New("scheduler daemon is not running")
)

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid content %q", path, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

// WritePIDFile records the current process. A stale file left by a dead
// process is replaced.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("%w (pid %d, %s)", ErrDaemonRunning, pid, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// RemovePIDFile deletes path if it still names this process.
func RemovePIDFile(path string) error {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// DaemonPID returns the pid of the live daemon recorded at path.
func DaemonPID(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrDaemonNotRunning
		}
		return 0, err
	}
	if !processAlive(pid) {
		return 0, fmt.Errorf("%w (stale pid %d)", ErrDaemonNotRunning, pid)
	}
	return pid, nil
}

// StopDaemon asks the daemon recorded at path to shut down gracefully.
func StopDaemon(path string) (int, error) {
	pid, err := DaemonPID(path)
	if err != nil {
		return 0, err
	}
	if err := terminate(pid); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}
