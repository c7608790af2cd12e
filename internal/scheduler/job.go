package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"time"

	logx "schedkit/pkg/logx"
)

// Runnable is the plain callable payload shape.
type Runnable interface {
	Run()
}

// Job is the structured payload shape. Execute receives the job's context.
type Job interface {
	Execute(ctx JobContext)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx JobContext)

func (f JobFunc) Execute(ctx JobContext) { f(ctx) }

// JobContext is handed to structured jobs on every fire.
type JobContext struct {
	ctx    context.Context
	name   string
	config map[string]any
	log    logx.Logger
}

// NewJobContext builds a context for running a job body outside a
// scheduler, e.g. a one-off run from the command line.
func NewJobContext(ctx context.Context, name string, config map[string]any, log logx.Logger) JobContext {
	if log.IsZero() {
		log = logx.Nop()
	}
	return JobContext{ctx: ctx, name: name, config: copyConfig(config), log: log}
}

// Context is cancelled when the pool shuts down or the task times out.
func (c JobContext) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c JobContext) Name() string { return c.name }

// Configuration returns a copy of the registered configuration.
func (c JobContext) Configuration() map[string]any { return copyConfig(c.config) }

// Value looks up one configuration entry.
func (c JobContext) Value(key string) (any, bool) {
	v, ok := c.config[key]
	return v, ok
}

func (c JobContext) Logger() logx.Logger { return c.log }

// JobData is the data stored with every live job.
type JobData struct {
	Name string `json:"name"`
	// ProvidedName is set only when a component declared an explicit name.
	ProvidedName string `json:"provided_name,omitempty"`
	// ServiceID identifies the registering component; 0 for direct callers.
	ServiceID     int64          `json:"service_id,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Exclusive     bool           `json:"exclusive"`
	LeaderOnly    bool           `json:"leader_only"`
	PayloadType   string         `json:"payload_type"`
}

// JobDetail is a point-in-time view of a live job.
type JobDetail struct {
	Data       JobData   `json:"data"`
	Kind       Kind      `json:"-"`
	Trigger    string    `json:"trigger"`
	Registered time.Time `json:"registered"`
	Next       time.Time `json:"next,omitempty"`
	Prev       time.Time `json:"prev,omitempty"`
	Fires      uint64    `json:"fires"`
	Running    bool      `json:"running"`
}

// invoker resolves payload into a function of the job context.
// Job wins over Runnable when a payload implements both.
func invoker(payload any) (func(JobContext), error) {
	if isNil(payload) {
		return nil, invalidf("pass a func(), Runnable, func(JobContext) or Job", "job payload is nil")
	}
	switch p := payload.(type) {
	case Job:
		return p.Execute, nil
	case func(JobContext):
		return p, nil
	case Runnable:
		return func(JobContext) { p.Run() }, nil
	case func():
		return func(JobContext) { p() }, nil
	default:
		return nil, invalidf("pass a func(), Runnable, func(JobContext) or Job",
			"job payload %T is neither a callable nor a job", payload)
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func payloadType(payload any) string { return fmt.Sprintf("%T", payload) }
