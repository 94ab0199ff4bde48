package app

import (
	"context"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/storage"
	"reportbot/internal/task/engine"
	logx "reportbot/pkg/logx"
)

// recorder appends every finished run to the run history. It listens on
// the event bus so the engine stays unaware of history storage.
type recorder struct {
	runs  storage.RunLog
	log   logx.Logger
	unsub func()
	done  chan struct{}
}

func startRecorder(bus eventbus.Bus, runs storage.RunLog, log logx.Logger) *recorder {
	events, unsub := bus.Subscribe(256)
	r := &recorder{runs: runs, log: log, unsub: unsub, done: make(chan struct{})}
	go r.loop(events)
	return r
}

func (r *recorder) loop(events <-chan eventbus.Event) {
	defer close(r.done)
	for e := range events {
		if e.Type != eventbus.TypeTaskFinished {
			continue
		}
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			continue
		}
		r.append(ev)
	}
}

func (r *recorder) append(ev engine.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.runs.AppendRun(ctx, storage.RunRecord{
		ID:       ev.ID,
		Task:     ev.Name,
		Trigger:  ev.Trigger.String(),
		Started:  ev.Started,
		Duration: ev.Duration,
		OK:       ev.OK,
		Error:    ev.Error,
	})
	if err != nil {
		r.log.Warn("failed to append run record", logx.String("task", ev.Name), logx.String("run_id", ev.ID), logx.Err(err))
	}
}

// close stops listening and waits until buffered events are written.
func (r *recorder) close() {
	r.unsub()
	<-r.done
}
