package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// trigger is a Spec translated for the kernel.
type trigger struct {
	schedule cron.Schedule
	// repeat is the total number of fires; RepeatForever when unbounded.
	repeat int
	kind   Kind
	desc   string
}

// simpleSchedule fires at start and then every interval until repeat
// fires were issued. The kernel asks for the next time once when the job is
// added and once after every fire, so each call issues one fire time.
type simpleSchedule struct {
	mu       sync.Mutex
	start    time.Time
	interval time.Duration
	repeat   int
	issued   int
}

func (s *simpleSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repeat != RepeatForever && s.issued >= s.repeat {
		return time.Time{}
	}
	if s.issued == 0 {
		s.issued++
		return s.start
	}
	if s.interval <= 0 {
		return time.Time{}
	}

	next := s.start.Add(time.Duration(s.issued) * s.interval)
	if s.repeat == RepeatForever && !next.After(t) {
		// Unbounded schedules skip fires missed while the process stalled.
		missed := t.Sub(next)/s.interval + 1
		s.issued += int(missed)
		next = s.start.Add(time.Duration(s.issued) * s.interval)
	}
	s.issued++
	return next
}

// translate converts spec into a kernel trigger. Cron grammar errors are
// reported here as ErrInvalidArgument.
func (e *Engine) translate(spec Spec) (trigger, error) {
	if err := spec.Err(); err != nil {
		return trigger{}, err
	}
	now := e.now()
	t := trigger{kind: spec.Kind(), desc: spec.String(), repeat: 1}
	switch spec.Kind() {
	case KindImmediate:
		t.schedule = &simpleSchedule{start: now, repeat: 1}
	case KindImmediateRepeating:
		t.repeat = spec.Times()
		t.schedule = &simpleSchedule{start: now, interval: spec.Interval(), repeat: spec.Times()}
	case KindAt:
		t.schedule = &simpleSchedule{start: spec.At(), repeat: 1}
	case KindAtRepeating:
		t.repeat = spec.Times()
		t.schedule = &simpleSchedule{start: spec.At(), interval: spec.Interval(), repeat: spec.Times()}
	case KindPeriodic:
		start := now.Add(spec.Interval())
		if spec.StartImmediately() {
			start = now
		}
		t.repeat = RepeatForever
		t.schedule = &simpleSchedule{start: start, interval: spec.Interval(), repeat: RepeatForever}
	case KindCron:
		sched, err := e.parser.Parse(spec.Expression())
		if err != nil {
			return trigger{}, markf(ErrInvalidArgument, err, "invalid cron expression %q", spec.Expression())
		}
		t.repeat = RepeatForever
		t.schedule = sched
	default:
		return trigger{}, invalidf("", "unsupported schedule kind %s", spec.Kind())
	}
	return t, nil
}
