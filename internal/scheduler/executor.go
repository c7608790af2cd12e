package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

// executor is what the kernel runs at fire time. It never hands the raw
// payload to the pool.
type executor struct {
	data      JobData
	invoke    func(JobContext)
	exclusive bool
	leader    func() bool
	log       logx.Logger
	bus       eventbus.Bus
	metrics   *Metrics
}

// run performs one fire. A payload panic is logged and reported as a normal
// completion so the trigger keeps its schedule.
func (x *executor) run(ctx context.Context) error {
	if x.data.LeaderOnly && !x.leader() {
		x.log.Debug("job skipped: not leader", logx.String("job", x.data.Name))
		x.metrics.observeFire(fireSkippedLeader)
		return nil
	}

	jc := JobContext{ctx: ctx, name: x.data.Name, config: x.data.Configuration, log: x.log.With(logx.String("job", x.data.Name))}
	defer func() {
		if r := recover(); r != nil {
			x.metrics.observePanic()
			x.log.Error("job panicked", logx.String("job", x.data.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			if x.bus != nil {
				x.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: JobEvent{Name: x.data.Name, Reason: fmt.Sprintf("panic: %v", r)}})
			}
		}
	}()
	x.invoke(jc)
	return nil
}
