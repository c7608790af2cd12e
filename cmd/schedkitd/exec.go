package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"schedkit/internal/commandjob"
	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/scheduler"
	logx "schedkit/pkg/logx"
)

func newExecCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <job>",
		Short: "Run one configured job once, in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			var jc *config.JobConfig
			for i := range cfg.Jobs {
				if cfg.Jobs[i].Name == args[0] {
					jc = &cfg.Jobs[i]
					break
				}
			}
			if jc == nil {
				return errors.Newf("job %q is not configured", args[0])
			}

			bus := eventbus.New()
			failed, unsub := bus.SubscribeTypes(1, eventbus.JobFailed)
			defer unsub()
			c, err := commandjob.New(*jc, bus)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			log := logx.NewConsole(cfg.Logging.Level).With(logx.String("job", jc.Name))
			c.Execute(scheduler.NewJobContext(ctx, jc.Name, jc.Config, log))

			select {
			case ev := <-failed:
				if je, ok := ev.Data.(scheduler.JobEvent); ok {
					return errors.Newf("job %q failed: %s", jc.Name, je.Reason)
				}
				return errors.Newf("job %q failed", jc.Name)
			default:
				return nil
			}
		},
	}
}
