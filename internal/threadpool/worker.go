package threadpool

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			p.metrics.setQueue(p.name, len(queue))
			p.inFlight.Add(1)
			p.metrics.setInFlight(p.name, int(p.inFlight.Load()))
			p.execOne(ctx, qt)
			p.inFlight.Add(-1)
			p.metrics.setInFlight(p.name, int(p.inFlight.Load()))
		}
	}
}

func (p *Pool) execOne(ctx context.Context, qt queuedTask) {
	if qt.track {
		defer qt.task.State.release()
	}
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	if p.cfg.MaxQueueDelay > 0 && queueDelay > p.cfg.MaxQueueDelay {
		p.onDropped(start, qt.task, queueDelay, "stale_queue_delay", &p.droppedStale, p.warnStale)
		return
	}

	t := qt.task
	p.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: t.ID, Pool: p.name, Name: t.Name, Started: start, QueueDelay: queueDelay}})

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic: %v", r)
				p.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		return t.Run(runCtx)
	}()

	dur := time.Since(start)
	p.metrics.observeDuration(p.name, dur)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Pool: p.name, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		p.failed.Add(1)
		p.metrics.observeOutcome(p.name, outcomeFailed)
		p.log.Warn("task failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		p.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: ev})
	} else {
		p.completed.Add(1)
		p.metrics.observeOutcome(p.name, outcomeCompleted)
		p.log.Debug("task completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		p.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: ev})
	}
	p.record(item)
}
