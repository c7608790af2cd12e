package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"schedkit/internal/config"
	"schedkit/internal/diag"
	"schedkit/internal/history"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	warn, err := config.ParseDurationOrDefault("scheduler.warn_interval", cfg.Scheduler.WarnInterval, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Pool:         strings.TrimSpace(cfg.Scheduler.Pool),
		Location:     strings.TrimSpace(cfg.Scheduler.Location),
		WarnInterval: warn,
	}, nil
}

// mapPoolConfigs splits the "default" entry from the named pools.
func mapPoolConfigs(cfg *config.Config) (threadpool.Config, map[string]threadpool.Config, error) {
	var def threadpool.Config
	named := map[string]threadpool.Config{}
	for name, pc := range cfg.Pools {
		tc, err := mapPoolConfig(name, pc)
		if err != nil {
			return threadpool.Config{}, nil, err
		}
		if name == threadpool.DefaultPool {
			def = tc
			continue
		}
		named[name] = tc
	}
	return def, named, nil
}

func mapPoolConfig(name string, pc config.PoolConfig) (threadpool.Config, error) {
	timeout, err := config.ParseDurationField("pools."+name+".default_timeout", pc.DefaultTimeout)
	if err != nil {
		return threadpool.Config{}, err
	}
	delay, err := config.ParseDurationField("pools."+name+".max_queue_delay", pc.MaxQueueDelay)
	if err != nil {
		return threadpool.Config{}, err
	}
	return threadpool.Config{
		Workers:        pc.Workers,
		QueueSize:      pc.QueueSize,
		DefaultTimeout: timeout,
		MaxQueueDelay:  delay,
		HistorySize:    pc.HistorySize,
	}, nil
}

// mapHistoryConfig reports false when history is disabled.
func mapHistoryConfig(cfg *config.Config) (history.Config, bool, error) {
	hc := cfg.History
	if hc == nil || !hc.Enabled {
		return history.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(hc.Path)
	if path == "" {
		path = "./schedkit_history"
		if driver != "file" {
			path += ".db"
		}
	}
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, false, err
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
	default:
		return history.Config{}, false, errors.Newf("unknown history.driver: %s", hc.Driver)
	}
	return history.Config{Driver: driver, Path: path, Keep: hc.Keep, BusyTimeout: busy}, true, nil
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	d := cfg.Diag
	read, err := config.ParseDurationOrDefault("diag.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	// WriteTimeout defaults to 0 so /debug/pprof/profile (30s+) works.
	write, err := config.ParseDurationField("diag.write_timeout", d.WriteTimeout)
	if err != nil {
		return diag.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("diag.idle_timeout", d.IdleTimeout, time.Minute)
	if err != nil {
		return diag.Config{}, err
	}
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
