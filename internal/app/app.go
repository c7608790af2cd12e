// Package app wires schedkit's components into a runnable daemon.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedkit/internal/commandjob"
	"schedkit/internal/config"
	"schedkit/internal/diag"
	"schedkit/internal/eventbus"
	"schedkit/internal/history"
	rtsup "schedkit/internal/runtime/supervisor"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	"schedkit/internal/whiteboard"
	logx "schedkit/pkg/logx"
)

const metricsNamespace = "schedkit"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	reg  *prometheus.Registry

	pools   *threadpool.Manager
	sched   *scheduler.Scheduler
	dir     *whiteboard.Directory
	handler *whiteboard.Handler
	untrack func()
	cmds    *commandjob.Reconciler

	store    history.Store
	recorder *history.Recorder
	diag     *diag.Server
}

// NewApp loads cfgPath and builds every component without starting any.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := eventbus.New()

	def, named, err := mapPoolConfigs(cfg)
	if err != nil {
		return nil, err
	}
	pools := threadpool.NewManager(def, named, log.With(logx.String("comp", "threadpool")), bus, threadpool.NewMetrics(metricsNamespace, reg))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, pools, log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(bus),
		scheduler.WithMetrics(scheduler.NewMetrics(metricsNamespace, reg)),
	)
	sched.SetLeader(cfg.Scheduler.IsLeader())

	dir := whiteboard.NewDirectory(log.With(logx.String("comp", "whiteboard")), bus)
	handler := whiteboard.NewHandler(sched, dir, log.With(logx.String("comp", "whiteboard")))

	// History (optional)
	var (
		store    history.Store
		recorder *history.Recorder
	)
	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		store = st
		recorder = history.NewRecorder(st, log.With(logx.String("comp", "history")))
		appLog.Info("history enabled", logx.String("driver", hc.Driver))
	}

	dcfg, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	diagSrv := diag.NewServer(dcfg, diag.Sources{Jobs: sched, Pools: pools, History: store, Gatherer: reg}, log.With(logx.String("comp", "diag")))

	return &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		reg:      reg,
		pools:    pools,
		sched:    sched,
		dir:      dir,
		handler:  handler,
		cmds:     commandjob.NewReconciler(dir, bus, log.With(logx.String("comp", "commands"))),
		store:    store,
		recorder: recorder,
		diag:     diagSrv,
	}, nil
}

func (a *App) Scheduler() *scheduler.Scheduler  { return a.sched }
func (a *App) Directory() *whiteboard.Directory { return a.dir }
func (a *App) Bus() eventbus.Bus                { return a.bus }
func (a *App) Gatherer() prometheus.Gatherer    { return a.reg }
func (a *App) History() history.Store           { return a.store }
func (a *App) DiagServer() *diag.Server         { return a.diag }
func (a *App) ConfigManager() *config.Manager   { return a.cfgm }
func (a *App) Logger() logx.Logger              { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start registers configured jobs, activates the scheduler and starts the
// background loops. Jobs are registered before activation so they go live
// through the scheduler's replay path.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.untrack = a.dir.Track(a.handler)
	cfg := a.cfgm.Get()
	added, _, _ := a.cmds.Sync(cfg.Jobs)

	if err := a.sched.Activate(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	a.log.Info("scheduler ready", logx.Int("configured_jobs", added), logx.Int("live_jobs", len(a.sched.Jobs())))

	if a.recorder != nil {
		a.sup.Go("history.record", func(c context.Context) error { return a.recorder.Run(c, a.bus) })
	}

	a.diag.Start(a.sup.Context())

	events, unsub := a.bus.SubscribeTypes(128, "job.", "component.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.Apply(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// Apply moves the running app from oldCfg to newCfg.
func (a *App) Apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "scheduler":
			a.sched.SetLeader(newCfg.Scheduler.IsLeader())
			if sc, err := mapSchedulerConfig(newCfg); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				// pool and location take effect on the next activation.
				a.sched.Apply(sc)
			}
		case "pools":
			def, named, err := mapPoolConfigs(newCfg)
			if err != nil {
				a.log.Warn("invalid pools config; keeping previous", logx.Err(err))
				continue
			}
			a.pools.Configure(def, named)
		case "history":
			a.log.Warn("history config changed; restart required for changes to take effect")
		case "diag":
			dc, err := mapDiagConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
				continue
			}
			a.diag.Reconfigure(ctx, dc)
		case "jobs":
			added, changed, removed := a.cmds.Sync(newCfg.Jobs)
			a.log.Info("jobs reconciled",
				logx.Strings("names", jobsChanged),
				logx.Int("added", added),
				logx.Int("changed", changed),
				logx.Int("removed", removed),
			)
		}
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Deactivate(c); return nil })
	step("components", time.Second, func(context.Context) error {
		if a.untrack != nil {
			a.untrack()
		}
		a.cmds.Close()
		return nil
	})
	step("threadpool", 5*time.Second, func(c context.Context) error { a.pools.Shutdown(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("history", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
