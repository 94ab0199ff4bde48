package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reportbot/internal/task"
)

const tasksFileVersion = 1

// tasksDocument is the on-disk layout of the task collection. Map keys are
// marshaled in sorted order, so saving the same collection twice yields the
// same bytes.
type tasksDocument struct {
	Version int                  `json:"version"`
	Tasks   map[string]task.Task `json:"tasks"`
}

// fileStamp identifies one version of the tasks file without reading it.
type fileStamp struct {
	exists bool
	size   int64
	mod    time.Time
}

func (a fileStamp) equal(b fileStamp) bool {
	return a.exists == b.exists && a.size == b.size && a.mod.Equal(b.mod)
}

func statTasksFile(path string) (fileStamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileStamp{}, nil
		}
		return fileStamp{}, err
	}
	return fileStamp{exists: true, size: fi.Size(), mod: fi.ModTime()}, nil
}

// readTasksFile loads the collection. A missing file is an empty collection.
func readTasksFile(path string) (map[string]task.Task, fileStamp, error) {
	st, err := statTasksFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	if !st.exists {
		return map[string]task.Task{}, st, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]task.Task{}, st, nil
	}

	var doc tasksDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fileStamp{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Version > tasksFileVersion {
		return nil, fileStamp{}, fmt.Errorf("%s: unsupported version %d", path, doc.Version)
	}
	out := make(map[string]task.Task, len(doc.Tasks))
	for name, t := range doc.Tasks {
		// The map key is authoritative.
		t.Name = name
		out[name] = t
	}
	return out, st, nil
}

// writeTasksFile replaces path atomically: the document is written and
// fsynced to a sibling temp file which is then renamed over the target.
func writeTasksFile(path string, tasks map[string]task.Task) error {
	if tasks == nil {
		tasks = map[string]task.Task{}
	}
	b, err := json.MarshalIndent(tasksDocument{Version: tasksFileVersion, Tasks: tasks}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
