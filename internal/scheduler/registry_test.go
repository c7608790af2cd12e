package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedkit/internal/eventbus"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	pools := threadpool.NewManager(threadpool.Config{Workers: 4, QueueSize: 16}, nil, logx.Nop(), nil, nil)
	opts = append([]Option{WithMetrics(NewMetrics("test", prometheus.NewRegistry()))}, opts...)
	s := New(Config{}, pools, logx.Nop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Deactivate(ctx)
		pools.Shutdown(ctx)
	})
	return s
}

func activate(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Activate(context.Background()))
}

type brokenPools struct{}

func (brokenPools) Get(string) (*threadpool.Pool, error) { return nil, errors.New("no threads left") }
func (brokenPools) Release(*threadpool.Pool)             {}

type countingRunnable struct{ n atomic.Int32 }

func (r *countingRunnable) Run() { r.n.Add(1) }

func noop() {}

func TestScheduleThenUnscheduleLeavesNoJob(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	for _, interval := range []int64{1, 5, 3600} {
		name := fmt.Sprintf("p%d", interval)
		require.NoError(t, s.Schedule(noop, Periodic(interval, false).WithName(name)))
		_, ok := s.JobDetail(name)
		require.True(t, ok)

		assert.True(t, s.Unschedule(name))
		_, ok = s.JobDetail(name)
		assert.False(t, ok)
	}
	assert.False(t, s.Unschedule("never-registered"))
}

func TestSyncScenario(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	require.NoError(t, s.Schedule(noop, Periodic(1, false).WithName("sync").WithExclusivity(true)))
	d, ok := s.JobDetail("sync")
	require.True(t, ok)
	assert.Equal(t, "sync", d.Data.Name)
	assert.True(t, d.Data.Exclusive)
	assert.Equal(t, KindPeriodic, d.Kind)

	require.True(t, s.Unschedule("sync"))
	_, ok = s.JobDetail("sync")
	assert.False(t, ok)
}

func TestSameNameReplaces(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	require.NoError(t, s.Schedule(noop, Periodic(3600, false).WithName("dup")))
	require.NoError(t, s.Schedule(noop, Cron("0 0 * * * *").WithName("dup").WithLeaderOnly(true)))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, KindCron, jobs[0].Kind)
	assert.True(t, jobs[0].Data.LeaderOnly)
}

func TestBufferedRegistrationGoesLiveOnce(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	require.False(t, s.Active())

	require.NoError(t, s.Schedule(noop, Periodic(3600, false).WithName("early")))
	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("early")))
	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("dropped")))
	assert.Equal(t, 2, s.Pending())
	assert.True(t, s.Unschedule("dropped"))
	assert.Equal(t, 1, s.Pending())

	_, ok := s.JobDetail("early")
	assert.False(t, ok)

	activate(t, s)
	activate(t, s)

	assert.Equal(t, 0, s.Pending())
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "early", jobs[0].Data.Name)
	assert.Equal(t, "every 60s", jobs[0].Trigger)
}

func TestReplaySkipsBrokenRegistration(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	require.NoError(t, s.Schedule(noop, Cron("definitely not cron").WithName("bad")))
	require.NoError(t, s.Schedule(noop, Periodic(3600, false).WithName("good")))

	activate(t, s)

	_, ok := s.JobDetail("bad")
	assert.False(t, ok)
	_, ok = s.JobDetail("good")
	assert.True(t, ok)
}

func TestConcurrentRegistrationDuringActivation(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	const n = 64

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			assert.NoError(t, s.Schedule(noop, Periodic(3600, false).WithName(fmt.Sprintf("job-%02d", i))))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		assert.NoError(t, s.Activate(context.Background()))
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, 0, s.Pending())
	assert.Len(t, s.Jobs(), n)
}

func TestInvalidPayloadNeverReachesKernel(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	var nilFunc func()
	var nilRunnable *countingRunnable
	for _, payload := range []any{42, "job", struct{}{}, nil, nilFunc, nilRunnable} {
		err := s.Schedule(payload, Periodic(10, false).WithName("bad"))
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err), "payload %T", payload)
	}
	assert.Empty(t, s.Jobs())

	assert.ErrorIs(t, s.Schedule(noop, nil), ErrInvalidArgument)
}

func TestInvalidSpecsAreReported(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	for _, times := range []int{-2, 0, 1} {
		err := s.Schedule(noop, NowRepeating(times, 5))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.False(t, s.FireJobRepeating(noop, nil, times, 5))
		assert.False(t, s.FireJobRepeatingAt("r", noop, nil, time.Now(), times, 5))
	}
	assert.ErrorIs(t, s.Schedule(noop, Periodic(0, false)), ErrInvalidArgument)
	assert.ErrorIs(t, s.FireJobAt("x", noop, nil, time.Time{}), ErrInvalidArgument)
	assert.ErrorIs(t, s.AddJob("x", noop, nil, "", true), ErrInvalidArgument)
	assert.ErrorIs(t, s.AddJob("x", noop, nil, "61 * * * *", true), ErrInvalidArgument)
	assert.ErrorIs(t, s.AddPeriodicJob("x", noop, nil, 0, true, false), ErrInvalidArgument)
	assert.Empty(t, s.Jobs())
}

func TestNeverFiringCronIsSchedulingFailure(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	err := s.AddJob("feb30", noop, nil, "0 0 0 30 2 *", true)
	assert.ErrorIs(t, err, ErrSchedulingFailure)
	assert.False(t, IsInvalidArgument(err))
}

func TestFireJobRunsAndExhausts(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	done := make(chan struct{})
	require.NoError(t, s.FireJobAt("once", func() { close(done) }, nil, time.Now()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}
	require.Eventually(t, func() bool {
		_, ok := s.JobDetail("once")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStructuredJobReceivesContext(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	got := make(chan JobContext, 1)
	require.NoError(t, s.FireJob(JobFunc(func(jc JobContext) { got <- jc }), map[string]any{"path": "/tmp"}))

	select {
	case jc := <-got:
		assert.True(t, strings.HasPrefix(jc.Name(), "scheduler.JobFunc:"), jc.Name())
		v, ok := jc.Value("path")
		assert.True(t, ok)
		assert.Equal(t, "/tmp", v)
		assert.NotNil(t, jc.Context())
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestRunnablePayloadFires(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	r := &countingRunnable{}
	require.True(t, s.FireJobRepeating(r, nil, 2, 1))
	require.Eventually(t, func() bool { return r.n.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestSynthesizedNames(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	require.NoError(t, s.Schedule(noop, Periodic(3600, false)))
	require.NoError(t, s.Schedule(noop, Periodic(3600, false)))
	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.True(t, strings.HasPrefix(j.Data.Name, "func():"), j.Data.Name)
		assert.Empty(t, j.Data.ProvidedName)
		assert.Equal(t, "func()", j.Data.PayloadType)
	}
	assert.NotEqual(t, jobs[0].Data.Name, jobs[1].Data.Name)
}

func TestRemoveJobNotFound(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	assert.ErrorIs(t, s.RemoveJob("ghost"), ErrNotFound)

	activate(t, s)
	assert.ErrorIs(t, s.RemoveJob("ghost"), ErrNotFound)
	require.NoError(t, s.AddPeriodicJob("real", noop, nil, 60, false, false))
	assert.NoError(t, s.RemoveJob("real"))
}

func TestRemoveJobBufferedWhileInactive(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	require.NoError(t, s.AddPeriodicJob("queued", noop, nil, 60, false, false))
	assert.NoError(t, s.RemoveJob("queued"))
	assert.Zero(t, s.Pending())
	assert.ErrorIs(t, s.RemoveJob("queued"), ErrNotFound)
}

func TestUnscheduleOwnedChecksServiceID(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("sync").WithSource(7, "sync")))
	assert.False(t, s.UnscheduleOwned("sync", 8))
	assert.Equal(t, 1, s.Pending())
	assert.True(t, s.UnscheduleOwned("sync", 7))
	assert.Zero(t, s.Pending())

	activate(t, s)
	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("sync").WithSource(7, "sync")))
	require.NoError(t, s.Schedule(noop, Periodic(30, false).WithName("sync").WithSource(8, "sync")))
	assert.False(t, s.UnscheduleOwned("sync", 7))
	d, ok := s.JobDetail("sync")
	require.True(t, ok)
	assert.Equal(t, int64(8), d.Data.ServiceID)
	assert.True(t, s.UnscheduleOwned("sync", 8))
	assert.False(t, s.UnscheduleOwned("sync", 8))
}

func TestActivateWithoutPool(t *testing.T) {
	t.Parallel()

	s := New(Config{}, brokenPools{}, logx.Nop())
	err := s.Activate(context.Background())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.False(t, s.Active())

	require.NoError(t, s.Schedule(noop, Now()))
	assert.Equal(t, 1, s.Pending())
}

func TestDeactivateDiscardsJobs(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)
	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("a")))

	s.Deactivate(context.Background())
	s.Deactivate(context.Background())
	_, ok := s.JobDetail("a")
	assert.False(t, ok)
	assert.Empty(t, s.Jobs())

	require.NoError(t, s.Schedule(noop, Periodic(60, false).WithName("a")))
	assert.Equal(t, 1, s.Pending())

	activate(t, s)
	_, ok = s.JobDetail("a")
	assert.True(t, ok)
}

func TestExclusiveJobNeverOverlaps(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	var running, peak, calls atomic.Int32
	release := make(chan struct{})
	body := func() {
		calls.Add(1)
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}
	require.NoError(t, s.Schedule(body, Periodic(3600, false).WithName("solo").WithExclusivity(true)))

	j := liveJobFor(t, s, "solo")
	for i := 0; i < 10; i++ {
		s.engine.fire(j)
	}
	require.Eventually(t, func() bool { return running.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	d, _ := s.JobDetail("solo")
	assert.True(t, d.Running)
	close(release)

	require.Eventually(t, func() bool { return running.Load() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentJobMayOverlap(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	activate(t, s)

	var running atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Schedule(func() {
		running.Add(1)
		<-release
	}, Periodic(3600, false).WithName("many")))

	j := liveJobFor(t, s, "many")
	s.engine.fire(j)
	s.engine.fire(j)
	require.Eventually(t, func() bool { return running.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	close(release)
}

func TestRepeatCountExhaustsJob(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.SubscribeTypes(8, eventbus.JobExhausted)
	defer unsub()
	s := newTestScheduler(t, WithBus(bus))
	activate(t, s)

	require.NoError(t, s.Schedule(noop, AtRepeating(time.Now().Add(time.Hour), 3, 60).WithName("thrice")))
	j := liveJobFor(t, s, "thrice")
	s.engine.fire(j)
	s.engine.fire(j)
	_, ok := s.JobDetail("thrice")
	require.True(t, ok)
	s.engine.fire(j)
	_, ok = s.JobDetail("thrice")
	assert.False(t, ok)

	select {
	case e := <-events:
		assert.Equal(t, "thrice", e.Data.(JobEvent).Name)
	case <-time.After(time.Second):
		t.Fatal("no exhaustion event")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	h := s.Health()
	assert.False(t, h.Active)
	assert.True(t, h.Leader)

	activate(t, s)
	require.NoError(t, s.Schedule(noop, Periodic(60, false)))
	h = s.Health()
	assert.True(t, h.Active)
	assert.Equal(t, 1, h.Jobs)
	assert.Equal(t, threadpool.DefaultPool, h.Pool)
	assert.Equal(t, 4, h.PoolSize)
	assert.False(t, h.Saturated())
}

func liveJobFor(t *testing.T, s *Scheduler, name string) *liveJob {
	t.Helper()
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	require.NotNil(t, eng)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	j, ok := eng.jobs[name]
	require.True(t, ok)
	return j
}
