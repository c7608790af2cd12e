package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedkit/internal/eventbus"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

func openTestStore(t *testing.T, path string, keep int) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path, Keep: keep}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreKeepsNewestPerJob(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	st := openTestStore(t, path, 3)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.Append(ctx, Run{Job: "sync", At: base.Add(time.Duration(i) * time.Minute), Outcome: OutcomeOK}))
	}
	require.NoError(t, st.Append(ctx, Run{Job: "other", At: base.Add(time.Hour), Outcome: OutcomeFailed, Error: "exit 1"}))

	runs, err := st.Recent(ctx, "sync", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, base.Add(4*time.Minute), runs[0].At)
	assert.Equal(t, base.Add(2*time.Minute), runs[2].At)

	all, err := st.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[0].Job)

	require.NoError(t, st.Close())
	_, err = st.Recent(ctx, "sync", 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.Append(ctx, Run{Job: "sync"}), ErrClosed)
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	ctx := context.Background()
	first, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, Run{Job: "sync", At: time.Now(), Outcome: OutcomeOK, Duration: time.Second}))
	require.NoError(t, first.Close())

	second := openTestStore(t, path, 0)
	runs, err := second.Recent(ctx, "sync", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, time.Second, runs[0].Duration)
}

func TestRecorderMapsEvents(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, filepath.Join(t.TempDir(), "h.jsonl"), 0)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()
	now := time.Now()

	rec.Record(ctx, eventbus.Event{Type: eventbus.TaskStarted, Data: threadpool.TaskEvent{Name: "a", Started: now}})
	rec.Record(ctx, eventbus.Event{Type: eventbus.TaskFinished, Data: threadpool.TaskEvent{ID: "t1", Pool: "default", Name: "a", Started: now}})
	rec.Record(ctx, eventbus.Event{Type: eventbus.TaskFailed, Data: threadpool.TaskEvent{Name: "a", Started: now.Add(time.Second), Error: "timeout"}})
	rec.Record(ctx, eventbus.Event{Type: eventbus.JobSkipped, Time: now.Add(2 * time.Second), Data: scheduler.JobEvent{Name: "a", Reason: "overlap"}})
	rec.Record(ctx, eventbus.Event{Type: eventbus.JobScheduled, Data: scheduler.JobEvent{Name: "a"}})

	runs, err := st.Recent(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, OutcomeSkipped, runs[0].Outcome)
	assert.Equal(t, OutcomeFailed, runs[1].Outcome)
	assert.Equal(t, "timeout", runs[1].Error)
	assert.Equal(t, OutcomeOK, runs[2].Outcome)
	assert.Equal(t, "t1", runs[2].TaskID)
}

func TestRecorderRunStopsWithContext(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, filepath.Join(t.TempDir(), "h.jsonl"), 0)
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRecorder(st, logx.Nop()).Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: scheduler.JobEvent{Name: "x", Reason: "panic: boom"}})
		runs, _ := st.Recent(context.Background(), "x", 1)
		return len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}
