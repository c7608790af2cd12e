// Package commandjob runs configured command lines as scheduled jobs.
package commandjob

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/scheduler"
	logx "schedkit/pkg/logx"
)

// maxOutput caps the command output kept for logging.
const maxOutput = 4 << 10

// Command is a scheduler.Job that executes one argv.
type Command struct {
	Name    string
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration

	bus eventbus.Bus
}

var _ scheduler.Job = (*Command)(nil)

// New builds a Command from a job declaration.
func New(jc config.JobConfig, bus eventbus.Bus) (*Command, error) {
	argv, err := shellquote.Split(jc.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "job %q: parse command", jc.Name)
	}
	if len(argv) == 0 {
		return nil, errors.Newf("job %q: empty command", jc.Name)
	}
	timeout, err := config.ParseDurationField("jobs."+jc.Name+".timeout", jc.Timeout)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Command{
		Name:    jc.Name,
		Argv:    argv,
		Dir:     jc.Dir,
		Env:     envList(jc.Env),
		Timeout: timeout,
		bus:     bus,
	}, nil
}

func envList(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Execute runs the command once. Failures are logged and published as
// job.failed; they never stop the schedule.
func (c *Command) Execute(jc scheduler.JobContext) {
	log := jc.Logger()
	ctx := jc.Context()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.run(ctx)
	dur := time.Since(start)
	if err != nil {
		log.Warn("command failed",
			logx.Strings("argv", c.Argv),
			logx.Duration("dur", dur),
			logx.String("output", tail(out)),
			logx.Err(err),
		)
		c.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: scheduler.JobEvent{Name: jc.Name(), Reason: err.Error()}})
		return
	}
	log.Debug("command finished", logx.Duration("dur", dur), logx.Int("output_bytes", len(out)))
}

func (c *Command) run(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if ctx.Err() != nil {
		return buf.Bytes(), errors.Wrap(ctx.Err(), "command interrupted")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return buf.Bytes(), errors.Newf("exit status %d", exitErr.ExitCode())
		}
		return buf.Bytes(), errors.Wrap(err, "start command")
	}
	return buf.Bytes(), nil
}

func tail(b []byte) string {
	if len(b) > maxOutput {
		b = b[len(b)-maxOutput:]
	}
	return strings.TrimSpace(string(b))
}
