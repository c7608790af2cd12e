package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedkit/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the names of jobs that were added, changed or removed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.pool", strings.TrimSpace(newCfg.Scheduler.Pool)),
			logx.String("scheduler.location", strings.TrimSpace(newCfg.Scheduler.Location)),
			logx.Bool("scheduler.leader", newCfg.Scheduler.IsLeader()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pools, newCfg.Pools) {
		changed = append(changed, "pools")
		attrs = append(attrs, logx.Int("pools.count", len(newCfg.Pools)))
	}

	if !reflect.DeepEqual(oldCfg.History, newCfg.History) {
		changed = append(changed, "history")
		var driver string
		enabled := newCfg.History != nil && newCfg.History.Enabled
		if newCfg.History != nil {
			driver = strings.TrimSpace(newCfg.History.Driver)
		}
		attrs = append(attrs, logx.Bool("history.enabled", enabled), logx.String("history.driver", driver))
	}

	// Diag (never log token)
	od, nd := oldCfg.Diag, newCfg.Diag
	tokenChanged := strings.TrimSpace(od.Token) != strings.TrimSpace(nd.Token)
	od.Token, nd.Token = "", ""
	if od != nd || tokenChanged {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nd.Enabled),
			logx.String("diag.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("diag.token_set", strings.TrimSpace(newCfg.Diag.Token) != ""),
			logx.Bool("diag.pprof", nd.Pprof),
		)
	}

	jobsChanged := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

// DiffJobs returns the sorted names of jobs present in only one list or
// declared differently in both.
func DiffJobs(oldJobs, newJobs []JobConfig) []string {
	oldM := indexJobs(oldJobs)
	newM := indexJobs(newJobs)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || hashJSON(o) != hashJSON(n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func indexJobs(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		m[strings.TrimSpace(j.Name)] = j
	}
	return m
}
