package whiteboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedkit/internal/eventbus"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

type harness struct {
	sched *scheduler.Scheduler
	dir   *Directory
	h     *Handler
}

func newHarness(t *testing.T, active bool) harness {
	t.Helper()
	pools := threadpool.NewManager(threadpool.Config{Workers: 2}, nil, logx.Nop(), nil, nil)
	s := scheduler.New(scheduler.Config{}, pools, logx.Nop())
	if active {
		require.NoError(t, s.Activate(context.Background()))
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Deactivate(ctx)
		pools.Shutdown(ctx)
	})
	dir := NewDirectory(logx.Nop(), eventbus.New())
	h := NewHandler(s, dir, logx.Nop())
	t.Cleanup(dir.Track(h))
	return harness{sched: s, dir: dir, h: h}
}

func noop() {}

func TestProvidedNameScenario(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, true)
	reg := hs.dir.Register("1", noop, Properties{
		PropName:       "testScheduler",
		PropPeriod:     int64(1),
		PropConcurrent: false,
		PropImmediate:  false,
		PropRunOn:      RunOnLeader,
	})

	d, ok := hs.sched.JobDetail("testScheduler")
	require.True(t, ok)
	assert.Equal(t, "testScheduler", d.Data.ProvidedName)
	assert.Equal(t, "testScheduler", d.Data.Name)
	assert.True(t, d.Data.Exclusive)
	assert.True(t, d.Data.LeaderOnly)
	assert.Equal(t, scheduler.KindPeriodic, d.Kind)

	reg.Unregister()
	_, ok = hs.sched.JobDetail("testScheduler")
	assert.False(t, ok)
}

func TestMissingNameScenario(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, true)
	reg := hs.dir.Register("1", noop, Properties{PropPeriod: 1, PropConcurrent: false})
	ref, ok := reg.Reference()
	require.True(t, ok)

	var found *scheduler.JobDetail
	for _, d := range hs.sched.Jobs() {
		if d.Data.ServiceID == ref.ServiceID {
			d := d
			found = &d
		}
	}
	require.NotNil(t, found)
	assert.Empty(t, found.Data.ProvidedName)
	assert.NotEmpty(t, found.Data.Name)
	assert.Equal(t, JobName(ref), found.Data.Name)
}

func TestCronExpressionWinsOverPeriod(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, true)
	reg := hs.dir.Register("1", noop, Properties{
		PropName:       "testScheduler",
		PropExpression: "0 * * * * ?",
		PropPeriod:     int64(1),
	})

	d, ok := hs.sched.JobDetail("testScheduler")
	require.True(t, ok)
	assert.Equal(t, scheduler.KindCron, d.Kind)
	assert.False(t, d.Data.Exclusive)
	assert.False(t, d.Data.LeaderOnly)

	reg.Unregister()
	assert.Empty(t, hs.sched.Jobs())
}

func TestComponentsWithoutScheduleAreSkipped(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, true)
	hs.dir.Register("zero", noop, Properties{PropName: "zero", PropPeriod: 0})
	hs.dir.Register("negative", noop, Properties{PropName: "negative", PropPeriod: -5})
	hs.dir.Register("none", noop, Properties{PropName: "none"})
	hs.dir.Register("bad-payload", 42, Properties{PropName: "bad", PropPeriod: 10})
	hs.dir.Register("bad-cron", noop, Properties{PropName: "badcron", PropExpression: "every tuesday"})

	assert.Empty(t, hs.sched.Jobs())
}

func TestComponentsBeforeActivationAreReplayed(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, false)
	hs.dir.Register("early", noop, Properties{PropName: "early", PropPeriod: "30"})
	hs.dir.Register("late", noop, Properties{PropName: "late", PropExpression: "@hourly"})
	assert.Equal(t, 2, hs.sched.Pending())

	require.NoError(t, hs.sched.Activate(context.Background()))
	assert.Len(t, hs.sched.Jobs(), 2)
}

func TestSharedNameSurvivesPreviousOwnerRemoval(t *testing.T) {
	t.Parallel()

	for _, active := range []bool{true, false} {
		hs := newHarness(t, active)
		a := hs.dir.Register("a", noop, Properties{PropName: "sync", PropPeriod: 60})
		b := hs.dir.Register("b", noop, Properties{PropName: "sync", PropPeriod: 30})
		bref, ok := b.Reference()
		require.True(t, ok)

		a.Unregister()
		if !active {
			assert.Equal(t, 1, hs.sched.Pending(), "buffered job of b must stay")
			require.NoError(t, hs.sched.Activate(context.Background()))
		}
		d, ok := hs.sched.JobDetail("sync")
		require.True(t, ok, "active=%v", active)
		assert.Equal(t, bref.ServiceID, d.Data.ServiceID)

		b.Unregister()
		_, ok = hs.sched.JobDetail("sync")
		assert.False(t, ok)
	}
}

func TestModifiedComponentIsRescheduled(t *testing.T) {
	t.Parallel()

	hs := newHarness(t, true)
	reg := hs.dir.Register("svc", noop, Properties{PropName: "before", PropPeriod: 60})
	_, ok := hs.sched.JobDetail("before")
	require.True(t, ok)

	reg.SetProperties(Properties{PropName: "after", PropPeriod: 30, PropLeaderOnly: "true"})
	_, ok = hs.sched.JobDetail("before")
	assert.False(t, ok)
	d, ok := hs.sched.JobDetail("after")
	require.True(t, ok)
	assert.True(t, d.Data.LeaderOnly)
}

func TestJobName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  Reference
		want string
	}{
		{Reference{ServiceID: 3, PID: "p", Properties: Properties{PropName: "explicit"}}, "explicit"},
		{Reference{ServiceID: 3, PID: "com.example.Cleanup"}, "com.example.Cleanup.3"},
		{Reference{ServiceID: 9}, "Registered Service.9"},
		{Reference{ServiceID: 4, PID: "p", Properties: Properties{PropName: "  "}}, "p.4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JobName(tt.ref))
	}
}

func TestOptionsForCoercionErrors(t *testing.T) {
	t.Parallel()

	_, _, err := OptionsFor(Reference{Properties: Properties{PropPeriod: 1.5}})
	assert.Error(t, err)
	_, _, err = OptionsFor(Reference{Properties: Properties{PropPeriod: 5, PropConcurrent: "maybe"}})
	assert.Error(t, err)

	opts, ok, err := OptionsFor(Reference{ServiceID: 1, Properties: Properties{
		PropPeriod:    float64(5),
		PropImmediate: true,
		PropConfig:    map[string]any{"path": "/tmp"},
	}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, opts.Spec().StartImmediately())
	assert.Equal(t, int64(5), opts.Spec().IntervalSeconds())
	assert.Equal(t, map[string]any{"path": "/tmp"}, opts.Configuration())
	assert.Equal(t, "Registered Service.1", opts.Name())
}
