package config

import (
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Validate checks cfg for errors a reload must not commit.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if loc := strings.TrimSpace(cfg.Scheduler.Location); loc != "" {
		if _, err := time.LoadLocation(loc); err != nil {
			add(errors.Wrapf(err, "scheduler.location"))
		}
	}
	_, err := ParseDurationField("scheduler.warn_interval", cfg.Scheduler.WarnInterval)
	add(err)
	if p := strings.TrimSpace(cfg.Scheduler.Pool); p != "" && len(cfg.Pools) > 0 {
		if _, ok := cfg.Pools[p]; !ok && p != "default" {
			add(errors.Newf("scheduler.pool: pool %q is not configured", p))
		}
	}

	for name, p := range cfg.Pools {
		if strings.TrimSpace(name) == "" {
			add(errors.New("pools: empty pool name"))
		}
		if p.Workers < 0 || p.QueueSize < 0 || p.HistorySize < 0 {
			add(errors.Newf("pools.%s: sizes must be >= 0", name))
		}
		_, err := ParseDurationField("pools."+name+".default_timeout", p.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("pools."+name+".max_queue_delay", p.MaxQueueDelay)
		add(err)
	}

	if h := cfg.History; h != nil && h.Enabled {
		switch strings.ToLower(strings.TrimSpace(h.Driver)) {
		case "", "file", "sqlite":
		default:
			add(errors.Newf("history.driver: unknown driver %q", h.Driver))
		}
		if h.Keep < 0 {
			add(errors.New("history.keep: must be >= 0"))
		}
		_, err := ParseDurationField("history.busy_timeout", h.BusyTimeout)
		add(err)
	}

	if cfg.Diag.Enabled {
		add(validateDiag(cfg.Diag))
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	seen := map[string]struct{}{}
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(errors.Newf("jobs[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			add(errors.Newf("jobs[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Command) == "" {
			add(errors.Newf("jobs.%s: command is required", name))
		}
		expr := strings.TrimSpace(j.Expression)
		switch {
		case expr != "" && j.Period != 0:
			add(errors.Newf("jobs.%s: set either expression or period, not both", name))
		case expr != "":
			if _, err := parser.Parse(strings.ReplaceAll(expr, "?", "*")); err != nil {
				add(errors.Wrapf(err, "jobs.%s.expression", name))
			}
		case j.Period < 1:
			add(errors.Newf("jobs.%s: period must be higher than 0", name))
		}
		_, err := ParseDurationField("jobs."+name+".timeout", j.Timeout)
		add(err)
	}

	return errors.Join(errs...)
}

func validateDiag(d DiagConfig) error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrap(err, "diag.addr")
	}
	if strings.TrimSpace(d.Token) != "" || d.AllowInsecure {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return errors.Newf("diag.addr %q is not loopback; set diag.token or diag.allow_insecure", addr)
}
