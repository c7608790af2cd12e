package history

import (
	"context"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

// Recorder turns pool and job events into stored runs.
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes bus until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Record(ctx, ev)
		}
	}
}

// Record stores ev if it describes a fire outcome.
func (r *Recorder) Record(ctx context.Context, ev eventbus.Event) {
	run, ok := runFromEvent(ev)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.Append(wctx, run); err != nil {
		r.log.Debug("history append failed", logx.String("job", run.Job), logx.Err(err))
	}
}

func runFromEvent(ev eventbus.Event) (Run, bool) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch d := ev.Data.(type) {
	case threadpool.TaskEvent:
		run := Run{Job: d.Name, TaskID: d.ID, Pool: d.Pool, At: d.Started, QueueDelay: d.QueueDelay, Duration: d.Duration, Error: d.Error}
		if run.At.IsZero() {
			run.At = at
		}
		switch ev.Type {
		case eventbus.TaskFinished:
			run.Outcome = OutcomeOK
		case eventbus.TaskFailed:
			run.Outcome = OutcomeFailed
		case eventbus.TaskDropped:
			run.Outcome = OutcomeDropped
		default:
			return Run{}, false
		}
		return run, true
	case scheduler.JobEvent:
		switch ev.Type {
		case eventbus.JobSkipped:
			return Run{Job: d.Name, At: at, Outcome: OutcomeSkipped, Error: d.Reason}, true
		case eventbus.JobFailed:
			return Run{Job: d.Name, At: at, Outcome: OutcomeFailed, Error: d.Reason}, true
		}
	}
	return Run{}, false
}
