package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the variant held by a Spec.
type Kind int

const (
	KindInvalid Kind = iota
	KindImmediate
	KindImmediateRepeating
	KindAt
	KindAtRepeating
	KindPeriodic
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindImmediateRepeating:
		return "immediate-repeating"
	case KindAt:
		return "at"
	case KindAtRepeating:
		return "at-repeating"
	case KindPeriodic:
		return "periodic"
	case KindCron:
		return "cron"
	default:
		return "invalid"
	}
}

// RepeatForever is the times value for an unbounded repetition.
const RepeatForever = -1

// Spec describes when a job fires. It is immutable.
//
// Constructors never fail: a rejected argument yields a KindInvalid Spec
// whose Err explains why. Consumers must branch on Kind (or Err) before use.
// The zero Spec is invalid.
type Spec struct {
	kind       Kind
	at         time.Time
	times      int
	interval   int64
	immediate  bool
	expression string
	err        error
}

func (s Spec) Kind() Kind { return s.kind }

// Err is nil for every valid variant.
func (s Spec) Err() error {
	if s.kind != KindInvalid {
		return nil
	}
	if s.err == nil {
		return invalidf("", "schedule not set")
	}
	return s.err
}

// At is the anchor time of At and AtRepeating specs.
func (s Spec) At() time.Time { return s.at }

// Times is the total number of fires for repeating variants.
func (s Spec) Times() int { return s.times }

func (s Spec) IntervalSeconds() int64 { return s.interval }

func (s Spec) Interval() time.Duration { return time.Duration(s.interval) * time.Second }

// StartImmediately reports whether a Periodic spec fires once right away.
func (s Spec) StartImmediately() bool { return s.immediate }

func (s Spec) Expression() string { return s.expression }

func (s Spec) String() string {
	switch s.kind {
	case KindImmediate:
		return "now"
	case KindImmediateRepeating:
		return fmt.Sprintf("now, %s every %ds", timesString(s.times), s.interval)
	case KindAt:
		return "at " + s.at.Format(time.RFC3339)
	case KindAtRepeating:
		return fmt.Sprintf("at %s, %s every %ds", s.at.Format(time.RFC3339), timesString(s.times), s.interval)
	case KindPeriodic:
		if s.immediate {
			return fmt.Sprintf("every %ds, starting now", s.interval)
		}
		return fmt.Sprintf("every %ds", s.interval)
	case KindCron:
		return "cron " + s.expression
	default:
		return "invalid: " + s.Err().Error()
	}
}

func timesString(n int) string {
	if n == RepeatForever {
		return "forever"
	}
	return fmt.Sprintf("%d times", n)
}

func invalidSpec(err error) Spec { return Spec{kind: KindInvalid, err: err} }

func checkTimes(times int) error {
	if times == RepeatForever || times >= 2 {
		return nil
	}
	return invalidf("use -1 to repeat forever", "times must be -1 or higher than 1, got %d", times)
}

func checkInterval(seconds int64) error {
	if seconds >= 1 {
		return nil
	}
	return invalidf("intervals are whole seconds", "period must be higher than 0, got %d", seconds)
}

func checkAt(t time.Time) error {
	if !t.IsZero() {
		return nil
	}
	return invalidf("", "date can't be zero")
}

func immediateSpec() Spec { return Spec{kind: KindImmediate} }

func immediateRepeatingSpec(times int, interval int64) Spec {
	if err := checkTimes(times); err != nil {
		return invalidSpec(err)
	}
	if err := checkInterval(interval); err != nil {
		return invalidSpec(err)
	}
	return Spec{kind: KindImmediateRepeating, times: times, interval: interval}
}

func atSpec(t time.Time) Spec {
	if err := checkAt(t); err != nil {
		return invalidSpec(err)
	}
	return Spec{kind: KindAt, at: t}
}

func atRepeatingSpec(t time.Time, times int, interval int64) Spec {
	if err := checkAt(t); err != nil {
		return invalidSpec(err)
	}
	if err := checkTimes(times); err != nil {
		return invalidSpec(err)
	}
	if err := checkInterval(interval); err != nil {
		return invalidSpec(err)
	}
	return Spec{kind: KindAtRepeating, at: t, times: times, interval: interval}
}

func periodicSpec(interval int64, startImmediately bool) Spec {
	if err := checkInterval(interval); err != nil {
		return invalidSpec(err)
	}
	return Spec{kind: KindPeriodic, interval: interval, immediate: startImmediately, times: RepeatForever}
}

// cronSpec only checks presence. Grammar is validated by the engine at
// translation time.
func cronSpec(expr string) Spec {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return invalidSpec(invalidf("", "expression can't be empty"))
	}
	return Spec{kind: KindCron, expression: expr}
}
