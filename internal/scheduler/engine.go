package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"schedkit/internal/eventbus"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

// PoolManager hands out worker pools.
type PoolManager interface {
	Get(name string) (*threadpool.Pool, error)
	Release(p *threadpool.Pool)
}

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	Name    string `json:"name"`
	Trigger string `json:"trigger,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Engine owns one running cron kernel and the pool its fires run on.
type Engine struct {
	mu      sync.Mutex
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	now     func() time.Time

	pools  PoolManager
	pool   *threadpool.Pool
	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*liveJob

	warnEvery time.Duration
	warnMu    sync.Mutex
	warn      map[string]*rate.Limiter
}

type liveJob struct {
	name       string
	id         cron.EntryID
	exec       *executor
	trig       trigger
	state      threadpool.RunState
	fires      atomic.Uint64
	registered time.Time
}

type engineDeps struct {
	log       logx.Logger
	bus       eventbus.Bus
	metrics   *Metrics
	now       func() time.Time
	warnEvery time.Duration
}

// startEngine acquires the pool and starts a kernel on it.
func startEngine(poolName string, loc *time.Location, pools PoolManager, d engineDeps) (*Engine, error) {
	if pools == nil {
		return nil, markf(ErrEngineUnavailable, nil, "no thread pool manager")
	}
	pool, err := pools.Get(poolName)
	if err != nil {
		return nil, markf(ErrEngineUnavailable, err, "acquire thread pool %q", poolName)
	}
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{
		log:       d.log,
		bus:       d.bus,
		metrics:   d.metrics,
		now:       d.now,
		pools:     pools,
		pool:      pool,
		parser:    defaultParser(),
		jobs:      map[string]*liveJob{},
		warnEvery: d.warnEvery,
		warn:      map[string]*rate.Limiter{},
	}
	if e.warnEvery <= 0 {
		e.warnEvery = 5 * time.Second
	}
	cl := cronLogger{log: e.log}
	e.c = cron.New(
		cron.WithParser(e.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	e.c.Start()
	e.log.Info("engine started", logx.String("pool", pool.Name()), logx.Int("pool_size", pool.MaxSize()), logx.String("tz", loc.String()))
	return e, nil
}

// defaultParser accepts both 5-field and 6-field (with seconds) expressions.
func defaultParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Stop shuts the kernel down and releases the pool. Fires already running
// complete; no new fires start. Safe to call more than once.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.c
	pool := e.pool
	e.c = nil
	e.pool = nil
	n := len(e.jobs)
	e.jobs = map[string]*liveJob{}
	e.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		e.log.Warn("engine stop timed out waiting for kernel", logx.Err(ctx.Err()))
	}
	e.pools.Release(pool)
	e.metrics.setJobs(0)
	e.log.Info("engine stopped", logx.Int("discarded_jobs", n))
}

// submit installs exec under name, replacing any job already there.
func (e *Engine) submit(name string, exec *executor, trig trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return markf(ErrSchedulingFailure, ErrEngineUnavailable, "schedule %q", name)
	}
	if trig.schedule == nil {
		return markf(ErrSchedulingFailure, nil, "schedule %q: no trigger", name)
	}
	if trig.kind == KindCron && trig.schedule.Next(e.now()).IsZero() {
		return markf(ErrSchedulingFailure, nil, "schedule %q: %s will never fire", name, trig.desc)
	}

	e.removeLocked(name)

	j := &liveJob{name: name, exec: exec, trig: trig, registered: e.now()}
	j.id = e.c.Schedule(trig.schedule, cron.FuncJob(func() { e.fire(j) }))
	e.jobs[name] = j
	e.metrics.setJobs(len(e.jobs))

	e.log.Debug("job scheduled", logx.String("job", name), logx.String("trigger", trig.desc), logx.Bool("exclusive", exec.exclusive), logx.Bool("leader_only", exec.data.LeaderOnly))
	e.publish(eventbus.JobScheduled, JobEvent{Name: name, Trigger: trig.desc})
	return nil
}

// delete removes name and reports whether it was live.
func (e *Engine) delete(name string) bool {
	return e.deleteIf(name, func(*liveJob) bool { return true })
}

// deleteOwned removes name only if it was registered by serviceID.
func (e *Engine) deleteOwned(name string, serviceID int64) bool {
	return e.deleteIf(name, func(j *liveJob) bool { return j.exec.data.ServiceID == serviceID })
}

func (e *Engine) deleteIf(name string, match func(*liveJob) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.jobs[name]; !ok || !match(j) {
		return false
	}
	if !e.removeLocked(name) {
		return false
	}
	e.metrics.setJobs(len(e.jobs))
	e.log.Debug("job unscheduled", logx.String("job", name))
	e.publish(eventbus.JobUnscheduled, JobEvent{Name: name})
	return true
}

func (e *Engine) removeLocked(name string) bool {
	j, ok := e.jobs[name]
	if !ok {
		return false
	}
	delete(e.jobs, name)
	if e.c != nil {
		e.c.Remove(j.id)
	}
	e.warnMu.Lock()
	delete(e.warn, name)
	e.warnMu.Unlock()
	return true
}

// fire is the kernel callback for j.
func (e *Engine) fire(j *liveJob) {
	n := j.fires.Add(1)
	e.dispatch(j)
	if j.trig.repeat != RepeatForever && n >= uint64(j.trig.repeat) {
		e.exhaust(j)
	}
}

func (e *Engine) dispatch(j *liveJob) {
	e.mu.Lock()
	pool := e.pool
	e.mu.Unlock()
	if pool == nil {
		return
	}
	err := pool.Enqueue(threadpool.Task{
		Name:      j.name,
		Run:       j.exec.run,
		Exclusive: j.exec.exclusive,
		State:     &j.state,
	})
	switch {
	case err == nil:
		e.metrics.observeFire(fireDispatched)
	case errors.Is(err, threadpool.ErrOverlapSkip):
		e.metrics.observeFire(fireSkippedOverlap)
		e.log.Debug("job fire skipped: previous run still active", logx.String("job", j.name))
		e.publish(eventbus.JobSkipped, JobEvent{Name: j.name, Reason: "overlap"})
	default:
		e.metrics.observeFire(fireDropped)
		e.reportDispatchError(j.name, err)
	}
}

// exhaust drops j once its repeat count is reached, unless it was replaced.
func (e *Engine) exhaust(j *liveJob) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.jobs[j.name]; !ok || cur != j {
		return
	}
	e.removeLocked(j.name)
	e.metrics.setJobs(len(e.jobs))
	e.log.Debug("job exhausted", logx.String("job", j.name), logx.Uint64("fires", j.fires.Load()))
	e.publish(eventbus.JobExhausted, JobEvent{Name: j.name, Trigger: j.trig.desc})
}

func (e *Engine) reportDispatchError(name string, err error) {
	e.warnMu.Lock()
	lim := e.warn[name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(e.warnEvery), 1)
		e.warn[name] = lim
	}
	e.warnMu.Unlock()
	if lim.Allow() {
		e.log.Warn("job fire could not be dispatched", logx.String("job", name), logx.Err(err))
	}
}

func (e *Engine) detail(name string) (JobDetail, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[name]
	if !ok {
		return JobDetail{}, false
	}
	return e.detailLocked(j), true
}

func (e *Engine) details() []JobDetail {
	e.mu.Lock()
	out := make([]JobDetail, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, e.detailLocked(j))
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return strings.Compare(out[i].Data.Name, out[k].Data.Name) < 0 })
	return out
}

func (e *Engine) detailLocked(j *liveJob) JobDetail {
	d := JobDetail{
		Data:       j.exec.data,
		Kind:       j.trig.kind,
		Trigger:    j.trig.desc,
		Registered: j.registered,
		Fires:      j.fires.Load(),
		Running:    j.state.Running(),
	}
	d.Data.Configuration = copyConfig(d.Data.Configuration)
	if e.c != nil {
		ent := e.c.Entry(j.id)
		d.Next = ent.Next
		d.Prev = ent.Prev
	}
	return d
}

func (e *Engine) jobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func (e *Engine) poolStats() (name string, size, depth int) {
	e.mu.Lock()
	p := e.pool
	e.mu.Unlock()
	if p == nil {
		return "", 0, 0
	}
	return p.Name(), p.MaxSize(), p.QueueDepth()
}

func (e *Engine) publish(typ string, ev JobEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
