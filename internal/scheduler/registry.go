package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

// Config controls the Scheduler.
type Config struct {
	// Pool names the thread pool fires run on. Empty means the default pool.
	Pool string
	// Location is the IANA zone cron expressions are evaluated in. Empty means local time.
	Location string
	// WarnInterval throttles per-job dispatch warnings. Default 5s.
	WarnInterval time.Duration
}

type Option func(*Scheduler)

func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

func WithMetrics(m *Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithClock replaces time.Now for trigger anchoring.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// Scheduler is the job registry. Jobs registered before Activate are
// buffered and go live on activation; Deactivate discards every live job.
type Scheduler struct {
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	now     func() time.Time
	pools   PoolManager
	leader  atomic.Bool

	// mu covers the active check together with the buffer-or-submit decision.
	mu      sync.Mutex
	cfg     Config
	engine  *Engine
	pending []registration
}

// registration is a validated Schedule call.
type registration struct {
	name   string
	spec   Spec
	data   JobData
	invoke func(JobContext)
}

func New(cfg Config, pools PoolManager, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:   cfg,
		pools: pools,
		log:   log,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.leader.Store(true)
	return s
}

// Apply updates settings used by the next activation.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// SetLeader flips the leadership flag consulted by leader-only jobs at fire time.
func (s *Scheduler) SetLeader(leader bool) {
	if s.leader.Swap(leader) != leader {
		s.log.Info("leadership changed", logx.Bool("leader", leader))
	}
}

func (s *Scheduler) Leader() bool { return s.leader.Load() }

// Active reports whether an engine is installed.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine != nil
}

// Activate starts an engine and replays every buffered registration through
// it. A buffered registration that fails is logged and skipped. Activating
// an active Scheduler is a no-op.
func (s *Scheduler) Activate(ctx context.Context) error {
	if s.Active() {
		return nil
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	eng, err := startEngine(cfg.Pool, s.location(cfg.Location), s.pools, engineDeps{
		log:       s.log.With(logx.String("comp", "engine")),
		bus:       s.bus,
		metrics:   s.metrics,
		now:       s.now,
		warnEvery: cfg.WarnInterval,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.engine != nil {
		s.mu.Unlock()
		eng.Stop(ctx)
		return nil
	}
	s.engine = eng
	pending := s.pending
	s.pending = nil
	replayed := 0
	for _, reg := range pending {
		if err := s.submitLocked(eng, reg); err != nil {
			s.metrics.observeReplay(false)
			s.log.Error("buffered job could not be scheduled", logx.String("job", reg.name), logx.Err(err))
			continue
		}
		s.metrics.observeReplay(true)
		replayed++
	}
	s.metrics.setPending(0)
	s.mu.Unlock()

	s.log.Info("scheduler activated", logx.Int("replayed", replayed), logx.Int("buffered", len(pending)))
	return nil
}

// Deactivate stops the engine and discards every live job. Later
// registrations are buffered again.
func (s *Scheduler) Deactivate(ctx context.Context) {
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()
	if eng == nil {
		return
	}
	eng.Stop(ctx)
	s.log.Info("scheduler deactivated")
}

// Schedule registers payload under o. payload must be a func(), Runnable,
// func(JobContext) or Job. A job already registered under the same name is
// replaced. While inactive the registration is buffered and nil is returned.
func (s *Scheduler) Schedule(payload any, o *Options) error {
	reg, err := s.prepare(payload, o)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.bufferLocked(reg)
		return nil
	}
	return s.submitLocked(s.engine, reg)
}

func (s *Scheduler) prepare(payload any, o *Options) (registration, error) {
	if o == nil {
		return registration{}, invalidf("build options with Now, At, Periodic or Cron", "schedule options are nil")
	}
	if err := o.spec.Err(); err != nil {
		return registration{}, err
	}
	invoke, err := invoker(payload)
	if err != nil {
		return registration{}, err
	}
	name := strings.TrimSpace(o.name)
	if name == "" {
		name = payloadType(payload) + ":" + uuid.NewString()
	}
	return registration{
		name:   name,
		spec:   o.spec,
		invoke: invoke,
		data: JobData{
			Name:          name,
			ProvidedName:  o.providedName,
			ServiceID:     o.serviceID,
			Configuration: copyConfig(o.config),
			Exclusive:     o.exclusive,
			LeaderOnly:    o.leaderOnly,
			PayloadType:   payloadType(payload),
		},
	}, nil
}

func (s *Scheduler) bufferLocked(reg registration) {
	for i := range s.pending {
		if s.pending[i].name == reg.name {
			s.pending[i] = reg
			s.log.Debug("buffered job replaced", logx.String("job", reg.name))
			return
		}
	}
	s.pending = append(s.pending, reg)
	s.metrics.setPending(len(s.pending))
	s.log.Debug("job buffered until activation", logx.String("job", reg.name), logx.String("trigger", reg.spec.String()))
}

func (s *Scheduler) submitLocked(eng *Engine, reg registration) error {
	trig, err := eng.translate(reg.spec)
	if err != nil {
		return err
	}
	exec := &executor{
		data:      reg.data,
		invoke:    reg.invoke,
		exclusive: reg.data.Exclusive,
		leader:    s.leader.Load,
		log:       s.log.With(logx.String("comp", "job")),
		bus:       s.bus,
		metrics:   s.metrics,
	}
	return eng.submit(reg.name, exec, trig)
}

// Unschedule removes the named job, live or buffered. Unknown names are not
// an error; the result reports whether something was removed.
func (s *Scheduler) Unschedule(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return s.unbufferLocked(name)
	}
	return s.engine.delete(name)
}

// UnscheduleOwned is Unschedule restricted to a job registered by serviceID.
// A job that another component has since registered under the same name is
// left alone.
func (s *Scheduler) UnscheduleOwned(name string, serviceID int64) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return s.unbufferIfLocked(name, func(r registration) bool { return r.data.ServiceID == serviceID })
	}
	return s.engine.deleteOwned(name, serviceID)
}

// RemoveJob is Unschedule that fails with ErrNotFound for names that are
// neither live nor buffered.
func (s *Scheduler) RemoveJob(name string) error {
	if !s.Unschedule(name) {
		return markf(ErrNotFound, nil, "remove job %q", name)
	}
	return nil
}

func (s *Scheduler) unbufferLocked(name string) bool {
	return s.unbufferIfLocked(name, func(registration) bool { return true })
}

func (s *Scheduler) unbufferIfLocked(name string, match func(registration) bool) bool {
	for i := range s.pending {
		if s.pending[i].name == name {
			if !match(s.pending[i]) {
				return false
			}
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.metrics.setPending(len(s.pending))
			return true
		}
	}
	return false
}

// FireJob runs payload once, now.
func (s *Scheduler) FireJob(payload any, config map[string]any) error {
	return s.Schedule(payload, Now().WithConfiguration(config))
}

// FireJobAt runs payload once at t under name.
func (s *Scheduler) FireJobAt(name string, payload any, config map[string]any, t time.Time) error {
	return s.Schedule(payload, At(t).WithName(name).WithConfiguration(config))
}

// FireJobRepeating runs payload now and then every intervalSeconds. It
// reports false instead of an error.
func (s *Scheduler) FireJobRepeating(payload any, config map[string]any, times int, intervalSeconds int64) bool {
	return s.report(s.Schedule(payload, NowRepeating(times, intervalSeconds).WithConfiguration(config)))
}

// FireJobRepeatingAt runs payload at t and then every intervalSeconds. It
// reports false instead of an error.
func (s *Scheduler) FireJobRepeatingAt(name string, payload any, config map[string]any, t time.Time, times int, intervalSeconds int64) bool {
	return s.report(s.Schedule(payload, AtRepeating(t, times, intervalSeconds).WithName(name).WithConfiguration(config)))
}

// AddJob registers payload on a cron expression.
func (s *Scheduler) AddJob(name string, payload any, config map[string]any, expression string, concurrent bool) error {
	return s.Schedule(payload, Cron(expression).WithName(name).WithConfiguration(config).WithExclusivity(!concurrent))
}

// AddPeriodicJob registers payload every periodSeconds.
func (s *Scheduler) AddPeriodicJob(name string, payload any, config map[string]any, periodSeconds int64, concurrent, startImmediately bool) error {
	return s.Schedule(payload, Periodic(periodSeconds, startImmediately).WithName(name).WithConfiguration(config).WithExclusivity(!concurrent))
}

func (s *Scheduler) report(err error) bool {
	if err != nil {
		s.log.Debug("job not scheduled", logx.Err(err))
		return false
	}
	return true
}

// JobDetail returns the live job registered under name.
func (s *Scheduler) JobDetail(name string) (JobDetail, bool) {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return JobDetail{}, false
	}
	return eng.detail(strings.TrimSpace(name))
}

// Jobs lists live jobs by name.
func (s *Scheduler) Jobs() []JobDetail {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.details()
}

// Pending reports how many registrations wait for activation.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.log.Warn("unknown scheduler location, using local time", logx.String("location", name), logx.Err(err))
		return time.Local
	}
	return loc
}
