package commandjob

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/whiteboard"
	logx "schedkit/pkg/logx"
)

// PIDPrefix prefixes the directory PID of every configured command.
const PIDPrefix = "schedkit.command."

// Properties maps a job declaration onto whiteboard scheduling properties.
func Properties(jc config.JobConfig) whiteboard.Properties {
	props := whiteboard.Properties{
		whiteboard.PropName:       jc.Name,
		whiteboard.PropConcurrent: jc.IsConcurrent(),
		whiteboard.PropLeaderOnly: jc.LeaderOnly,
	}
	if expr := strings.TrimSpace(jc.Expression); expr != "" {
		props[whiteboard.PropExpression] = expr
	} else {
		props[whiteboard.PropPeriod] = jc.Period
		props[whiteboard.PropImmediate] = jc.Immediate
	}
	if jc.RunOn != "" {
		props[whiteboard.PropRunOn] = jc.RunOn
	}
	if len(jc.Config) > 0 {
		props[whiteboard.PropConfig] = jc.Config
	}
	return props
}

// Reconciler keeps the directory's command components in line with the
// configured job list.
type Reconciler struct {
	dir *whiteboard.Directory
	bus eventbus.Bus
	log logx.Logger

	mu   sync.Mutex
	live map[string]liveCommand
}

type liveCommand struct {
	cfg config.JobConfig
	reg *whiteboard.Registration
}

func NewReconciler(dir *whiteboard.Directory, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{dir: dir, bus: bus, log: log, live: map[string]liveCommand{}}
}

// Sync registers new jobs, re-registers changed ones and withdraws jobs no
// longer declared. Jobs that fail to build are logged and skipped.
func (r *Reconciler) Sync(jobs []config.JobConfig) (added, changed, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]config.JobConfig, len(jobs))
	for _, jc := range jobs {
		jc.Name = strings.TrimSpace(jc.Name)
		want[jc.Name] = jc
	}

	for name, lc := range r.live {
		if _, ok := want[name]; !ok {
			lc.reg.Unregister()
			delete(r.live, name)
			removed++
		}
	}

	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		jc := want[name]
		cur, exists := r.live[name]
		if exists && reflect.DeepEqual(cur.cfg, jc) {
			continue
		}
		cmd, err := New(jc, r.bus)
		if err != nil {
			r.log.Warn("ignoring job declaration", logx.String("job", name), logx.Err(err))
			if exists {
				cur.reg.Unregister()
				delete(r.live, name)
				removed++
			}
			continue
		}
		if exists {
			cur.reg.Unregister()
			changed++
		} else {
			added++
		}
		reg := r.dir.Register(PIDPrefix+name, cmd, Properties(jc))
		r.live[name] = liveCommand{cfg: jc, reg: reg}
	}
	return added, changed, removed
}

// Close withdraws every command component.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, lc := range r.live {
		lc.reg.Unregister()
		delete(r.live, name)
	}
}
