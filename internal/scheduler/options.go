package scheduler

import (
	"strings"
	"time"
)

// Options is a schedule plus the execution policy of one registration.
// Setters only touch the Options they are called on and may be chained in
// any order before the Options is handed to Scheduler.Schedule.
type Options struct {
	spec       Spec
	name       string
	config     map[string]any
	exclusive  bool
	leaderOnly bool

	serviceID    int64
	providedName string
}

func newOptions(s Spec) *Options { return &Options{spec: s} }

// Now fires once, immediately.
func Now() *Options { return newOptions(immediateSpec()) }

// NowRepeating fires now and then every intervalSeconds, times fires in
// total. times must be -1 (forever) or at least 2.
func NowRepeating(times int, intervalSeconds int64) *Options {
	return newOptions(immediateRepeatingSpec(times, intervalSeconds))
}

// At fires once at t. Past times fire as soon as the job is live.
func At(t time.Time) *Options { return newOptions(atSpec(t)) }

// AtRepeating fires at t and then every intervalSeconds.
func AtRepeating(t time.Time, times int, intervalSeconds int64) *Options {
	return newOptions(atRepeatingSpec(t, times, intervalSeconds))
}

// Periodic fires forever every intervalSeconds. The first fire is one
// interval away unless startImmediately is set.
func Periodic(intervalSeconds int64, startImmediately bool) *Options {
	return newOptions(periodicSpec(intervalSeconds, startImmediately))
}

// Cron fires per a cron expression with an optional leading seconds field.
func Cron(expression string) *Options { return newOptions(cronSpec(expression)) }

func (o *Options) WithName(name string) *Options {
	o.name = strings.TrimSpace(name)
	return o
}

// WithConfiguration attaches a copy of config, handed to structured jobs at fire time.
func (o *Options) WithConfiguration(config map[string]any) *Options {
	o.config = copyConfig(config)
	return o
}

// WithExclusivity refuses overlapping fires of the job when set.
func (o *Options) WithExclusivity(exclusive bool) *Options {
	o.exclusive = exclusive
	return o
}

// WithLeaderOnly skips fires while the process is not the leader.
func (o *Options) WithLeaderOnly(leaderOnly bool) *Options {
	o.leaderOnly = leaderOnly
	return o
}

// WithSource records the registering component and the name it declared,
// if any.
func (o *Options) WithSource(serviceID int64, providedName string) *Options {
	o.serviceID = serviceID
	o.providedName = strings.TrimSpace(providedName)
	return o
}

func (o *Options) Spec() Spec                    { return o.spec }
func (o *Options) Name() string                  { return o.name }
func (o *Options) Exclusive() bool               { return o.exclusive }
func (o *Options) LeaderOnly() bool              { return o.leaderOnly }
func (o *Options) Configuration() map[string]any { return copyConfig(o.config) }

func copyConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
