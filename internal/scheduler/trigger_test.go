package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleScheduleIssuesRepeatFires(t *testing.T) {
	t.Parallel()

	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &simpleSchedule{start: start, interval: 10 * time.Second, repeat: 3}

	assert.Equal(t, start, s.Next(start.Add(-time.Hour)))
	assert.Equal(t, start.Add(10*time.Second), s.Next(start))
	assert.Equal(t, start.Add(20*time.Second), s.Next(start.Add(10*time.Second)))
	assert.True(t, s.Next(start.Add(20*time.Second)).IsZero())
	assert.True(t, s.Next(start.Add(time.Hour)).IsZero())
}

func TestSimpleScheduleOneShot(t *testing.T) {
	t.Parallel()

	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &simpleSchedule{start: start, repeat: 1}
	assert.Equal(t, start, s.Next(start))
	assert.True(t, s.Next(start).IsZero())
}

func TestSimpleScheduleForeverSkipsMissedFires(t *testing.T) {
	t.Parallel()

	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &simpleSchedule{start: start, interval: time.Minute, repeat: RepeatForever}
	require.Equal(t, start, s.Next(start))

	// The process stalled for five and a half minutes.
	next := s.Next(start.Add(5*time.Minute + 30*time.Second))
	assert.Equal(t, start.Add(6*time.Minute), next)
	assert.Equal(t, start.Add(7*time.Minute), s.Next(next))
}

func newTranslateEngine(now time.Time) *Engine {
	e := &Engine{now: func() time.Time { return now }}
	e.parser = defaultParser()
	return e
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	e := newTranslateEngine(now)

	tr, err := e.translate(Periodic(30, false).Spec())
	require.NoError(t, err)
	assert.Equal(t, RepeatForever, tr.repeat)
	assert.Equal(t, now.Add(30*time.Second), tr.schedule.Next(now))

	tr, err = e.translate(Periodic(30, true).Spec())
	require.NoError(t, err)
	assert.Equal(t, now, tr.schedule.Next(now))

	tr, err = e.translate(NowRepeating(4, 2).Spec())
	require.NoError(t, err)
	assert.Equal(t, 4, tr.repeat)

	tr, err = e.translate(Now().Spec())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.repeat)
	assert.Equal(t, now, tr.schedule.Next(now))

	tr, err = e.translate(Cron("0 * * * * ?").Spec())
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), tr.schedule.Next(now))

	_, err = e.translate(Cron("*/5 * * * *").Spec())
	require.NoError(t, err)
}

func TestTranslateRejectsBadInput(t *testing.T) {
	t.Parallel()

	e := newTranslateEngine(time.Now())

	_, err := e.translate(Cron("not a cron").Spec())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.translate(NowRepeating(1, 1).Spec())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
