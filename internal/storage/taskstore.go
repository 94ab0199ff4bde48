package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"reportbot/internal/runtime/fswatch"
	"reportbot/internal/task"
	logx "reportbot/pkg/logx"
)

// TaskStore owns the task collection. One in-memory copy is authoritative
// inside a process; every mutation runs under the store lock as
// clone, mutate, persist, swap. A failed persist leaves memory untouched.
//
// The CLI and the scheduler daemon are separate processes sharing one file.
// Mutations additionally hold an advisory lock on "<path>.lock" and re-read
// the file under it, so writers in different processes are serialized.
// Readers re-read the file whenever its size or mtime moved since the last
// load.
type TaskStore struct {
	path string
	log  logx.Logger
	lock *flock.Flock

	mu    sync.Mutex
	tasks map[string]task.Task
	stamp fileStamp

	persist func(path string, tasks map[string]task.Task) error
}

// OpenTaskStore loads path (a missing file is an empty store).
func OpenTaskStore(path string, log logx.Logger) (*TaskStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: tasks path is required", task.ErrPersistence)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tasks, st, err := readTasksFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	return &TaskStore{
		path:    path,
		log:     log.With(logx.String("comp", "taskstore")),
		lock:    flock.New(path + ".lock"),
		tasks:   tasks,
		stamp:   st,
		persist: writeTasksFile,
	}, nil
}

func (s *TaskStore) Path() string { return s.path }

// Load re-reads the file, replaces the in-memory collection and returns a
// copy of it.
func (s *TaskStore) Load() (map[string]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, st, err := readTasksFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	s.tasks, s.stamp = tasks, st
	return cloneTasks(s.tasks), nil
}

// Save replaces the whole collection.
func (s *TaskStore) Save(tasks map[string]task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return err
	}
	defer unlock()
	return s.commitLocked(cloneTasks(tasks))
}

// Get returns a copy of the named task.
func (s *TaskStore) Get(name string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(); err != nil {
		return task.Task{}, err
	}
	t, ok := s.tasks[name]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", task.ErrTaskNotFound, name)
	}
	return t.Clone(), nil
}

// List returns copies of all tasks sorted by name.
func (s *TaskStore) List() ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(); err != nil {
		return nil, err
	}
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Snapshot returns a copy of the whole collection.
func (s *TaskStore) Snapshot() (map[string]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(); err != nil {
		return nil, err
	}
	return cloneTasks(s.tasks), nil
}

// Update applies fn to a copy of the collection and persists the result.
// If fn returns an error nothing changes and that error is returned as is.
func (s *TaskStore) Update(fn func(tasks map[string]task.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	tasks, st, err := readTasksFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	s.tasks, s.stamp = tasks, st
	next := cloneTasks(s.tasks)
	if err := fn(next); err != nil {
		return err
	}
	return s.commitLocked(next)
}

// Reload picks up external changes to the file. It reports whether the
// in-memory copy was replaced.
func (s *TaskStore) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.stamp
	if err := s.syncLocked(); err != nil {
		return false, err
	}
	return !before.equal(s.stamp), nil
}

// Watch reloads the store whenever the file changes on disk until ctx ends.
func (s *TaskStore) Watch(ctx context.Context) error {
	return fswatch.Watch(ctx, s.path, fswatch.DefaultDebounce, s.log, func() {
		changed, err := s.Reload()
		if err != nil {
			s.log.Warn("task file reload failed", logx.Err(err))
			return
		}
		if changed {
			s.log.Info("task file changed on disk; reloaded")
		}
	})
}

// lockFile takes the cross-process write lock, blocking until the holder
// releases it.
func (s *TaskStore) lockFile() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", task.ErrPersistence, s.lock.Path(), err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("task file unlock failed", logx.Err(err))
		}
	}, nil
}

func (s *TaskStore) syncLocked() error {
	st, err := statTasksFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	if st.equal(s.stamp) {
		return nil
	}
	tasks, st, err := readTasksFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	s.tasks, s.stamp = tasks, st
	return nil
}

func (s *TaskStore) commitLocked(next map[string]task.Task) error {
	if err := s.persist(s.path, next); err != nil {
		s.log.Error("task store save failed; mutation rolled back", logx.Err(err))
		return fmt.Errorf("%w: %v", task.ErrPersistence, err)
	}
	s.tasks = next
	if st, err := statTasksFile(s.path); err == nil {
		s.stamp = st
	} else {
		// Forces a re-read on the next access.
		s.stamp = fileStamp{}
	}
	return nil
}

func cloneTasks(in map[string]task.Task) map[string]task.Task {
	out := make(map[string]task.Task, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
