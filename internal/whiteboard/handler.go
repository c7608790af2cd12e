// Package whiteboard schedules components that declare scheduling
// properties on their directory registration instead of calling the
// scheduler themselves.
package whiteboard

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"schedkit/internal/scheduler"
	logx "schedkit/pkg/logx"
)

// FallbackName is used for components with neither a name nor a PID.
const FallbackName = "Registered Service"

// Registry is the part of the scheduler the handler drives.
type Registry interface {
	Schedule(payload any, o *scheduler.Options) error
	UnscheduleOwned(name string, serviceID int64) bool
}

// Locator resolves a reference to its live service.
type Locator interface {
	Locate(ref Reference) (any, bool)
}

// Handler registers a job for every component carrying an expression or
// period property, and removes it when the component goes away.
type Handler struct {
	log   logx.Logger
	sched Registry
	loc   Locator

	mu    sync.Mutex
	names map[int64]string
}

var _ Listener = (*Handler)(nil)

func NewHandler(sched Registry, loc Locator, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{log: log, sched: sched, loc: loc, names: map[int64]string{}}
}

func (h *Handler) Added(ref Reference) {
	svc, ok := h.loc.Locate(ref)
	if !ok {
		h.log.Debug("component vanished before registration", logx.Int64("service_id", ref.ServiceID))
		return
	}
	if err := h.Register(ref, svc); err != nil {
		h.log.Warn("ignoring component: registration failed", logx.Int64("service_id", ref.ServiceID), logx.String("pid", ref.PID), logx.Err(err))
	}
}

func (h *Handler) Modified(ref Reference) {
	h.Unregister(ref)
	h.Added(ref)
}

func (h *Handler) Removed(ref Reference) { h.Unregister(ref) }

// Register derives a schedule from ref's properties and registers svc.
// Components without a usable schedule are skipped without error.
func (h *Handler) Register(ref Reference, svc any) error {
	opts, ok, err := OptionsFor(ref)
	if err != nil {
		return err
	}
	if !ok {
		h.log.Debug("ignoring component: no usable scheduling property", logx.Int64("service_id", ref.ServiceID), logx.String("pid", ref.PID))
		return nil
	}
	if err := h.sched.Schedule(svc, opts); err != nil {
		return errors.Wrapf(err, "schedule %q", opts.Name())
	}
	h.mu.Lock()
	h.names[ref.ServiceID] = opts.Name()
	h.mu.Unlock()
	h.log.Debug("component scheduled", logx.String("job", opts.Name()), logx.String("trigger", opts.Spec().String()))
	return nil
}

// Unregister removes the job registered for ref, if any. A job another
// component took over under the same explicit name stays scheduled.
func (h *Handler) Unregister(ref Reference) bool {
	h.mu.Lock()
	name, ok := h.names[ref.ServiceID]
	delete(h.names, ref.ServiceID)
	h.mu.Unlock()
	if !ok {
		name = JobName(ref)
	}
	return h.sched.UnscheduleOwned(name, ref.ServiceID)
}

// JobName derives the job name for ref. An explicit name property is used
// as is; otherwise the PID (or FallbackName) gets the service id appended.
func JobName(ref Reference) string {
	if name, ok := ref.Properties.String(PropName); ok {
		return name
	}
	base := strings.TrimSpace(ref.PID)
	if base == "" {
		base = FallbackName
	}
	return base + "." + strconv.FormatInt(ref.ServiceID, 10)
}

// OptionsFor builds scheduler options from ref's properties. It reports
// false when the component declares no usable schedule.
func OptionsFor(ref Reference) (*scheduler.Options, bool, error) {
	props := ref.Properties

	var opts *scheduler.Options
	if expr, ok := props.String(PropExpression); ok {
		opts = scheduler.Cron(expr)
	} else {
		period, ok, err := props.Int64(PropPeriod)
		if err != nil {
			return nil, false, err
		}
		if !ok || period < 1 {
			return nil, false, nil
		}
		immediate, err := props.Bool(PropImmediate, false)
		if err != nil {
			return nil, false, err
		}
		opts = scheduler.Periodic(period, immediate)
	}

	concurrent, err := props.Bool(PropConcurrent, true)
	if err != nil {
		return nil, false, err
	}
	leaderOnly, err := props.Bool(PropLeaderOnly, false)
	if err != nil {
		return nil, false, err
	}
	if runOn, ok := props.String(PropRunOn); ok {
		switch strings.ToLower(runOn) {
		case RunOnLeader, RunOnSingle:
			leaderOnly = true
		}
	}
	provided, _ := props.String(PropName)

	opts.WithName(JobName(ref)).
		WithSource(ref.ServiceID, provided).
		WithExclusivity(!concurrent).
		WithLeaderOnly(leaderOnly).
		WithConfiguration(props.Map(PropConfig))
	return opts, true, nil
}
