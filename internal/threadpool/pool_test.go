package threadpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *Metrics) {
	t.Helper()
	m := NewMetrics("test", prometheus.NewRegistry())
	mgr := NewManager(cfg, nil, logx.Nop(), eventbus.New(), m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr, m
}

func TestManagerRefCounting(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, Config{Workers: 2, QueueSize: 4})
	a, err := mgr.Get("")
	require.NoError(t, err)
	b, err := mgr.Get(DefaultPool)
	require.NoError(t, err)
	require.Same(t, a, b)
	assert.Equal(t, 2, a.MaxSize())

	snap := mgr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 2, snap[0].Refs)

	mgr.Release(a)
	require.NoError(t, b.Enqueue(Task{Name: "still-running", Run: func(context.Context) error { return nil }}))

	mgr.Release(b)
	assert.Empty(t, mgr.Snapshot())
	assert.ErrorIs(t, b.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestManagerNamedConfigAndClose(t *testing.T) {
	t.Parallel()

	mgr := NewManager(Config{Workers: 1}, map[string]Config{"batch": {Workers: 3}}, logx.Nop(), nil, nil)
	p, err := mgr.Get("batch")
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxSize())

	mgr.Shutdown(context.Background())
	_, err = mgr.Get("batch")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	mgr, m := newTestManager(t, Config{Workers: 1, QueueSize: 4})
	p, err := mgr.Get("")
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.Enqueue(Task{Name: "one", Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	require.Eventually(t, func() bool { return p.Snapshot().Completed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasks.WithLabelValues(DefaultPool, outcomeCompleted)))
}

func TestPanickingTaskKeepsWorker(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, Config{Workers: 1, QueueSize: 4})
	p, err := mgr.Get("")
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }}))
	ran := make(chan struct{})
	require.NoError(t, p.Enqueue(Task{Name: "after", Run: func(context.Context) error {
		close(ran)
		return nil
	}}))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.Eventually(t, func() bool { return p.Snapshot().Failed == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestExclusiveTaskSkipsOverlap(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, Config{Workers: 4, QueueSize: 8})
	p, err := mgr.Get("")
	require.NoError(t, err)

	var st RunState
	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	body := func(context.Context) error {
		n := running.Add(1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	require.NoError(t, p.Enqueue(Task{Name: "x", Exclusive: true, State: &st, Run: body}))
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, p.Enqueue(Task{Name: "x", Exclusive: true, State: &st, Run: body}), ErrOverlapSkip)
	}
	close(release)

	require.Eventually(t, func() bool { return !st.Running() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, uint64(5), p.Snapshot().SkippedOverlap)

	require.NoError(t, p.Enqueue(Task{Name: "x", Exclusive: true, State: &st, Run: func(context.Context) error { return nil }}))
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, Config{Workers: 1, QueueSize: 1})
	p, err := mgr.Get("")
	require.NoError(t, err)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, p.Enqueue(Task{Name: "busy", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, p.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, 1, p.QueueDepth())

	err = p.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), p.Snapshot().DroppedQueueFull)
}

func TestFailedTaskPublishesEvent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.SubscribeTypes(8, eventbus.TaskFailed)
	defer unsub()
	mgr := NewManager(Config{Workers: 1}, nil, logx.Nop(), bus, nil)
	defer mgr.Shutdown(context.Background())
	p, err := mgr.Get("")
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(Task{Name: "bad", Run: func(context.Context) error { return errors.New("nope") }}))
	select {
	case e := <-events:
		ev, ok := e.Data.(TaskEvent)
		require.True(t, ok)
		assert.Equal(t, "bad", ev.Name)
		assert.Equal(t, "nope", ev.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no task.failed event")
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, Config{})
	p, err := mgr.Get("")
	require.NoError(t, err)

	assert.Error(t, p.Enqueue(Task{Name: "x"}))
	assert.Error(t, p.Enqueue(Task{Run: func(context.Context) error { return nil }}))
	assert.Error(t, p.Enqueue(Task{Name: "x", Exclusive: true, Run: func(context.Context) error { return nil }}))
}
