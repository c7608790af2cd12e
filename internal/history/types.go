package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrClosed = errors.New("history store closed")

// Config configures the store.
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	Keep        int           // newest runs kept per job; 0 means 100
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func (c Config) keep() int {
	if c.Keep <= 0 {
		return 100
	}
	return c.Keep
}

// Outcome classifies a recorded fire.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeDropped Outcome = "dropped"
)

// Run is one recorded fire. Keep it compact and schema-stable.
type Run struct {
	Job        string        `json:"job"`
	TaskID     string        `json:"task_id,omitempty"`
	Pool       string        `json:"pool,omitempty"`
	At         time.Time     `json:"at"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
}

// Store is the persistence API used by the recorder and diagnostics.
type Store interface {
	Append(ctx context.Context, r Run) error
	// Recent returns up to limit runs of job, newest first. An empty job
	// lists every job.
	Recent(ctx context.Context, job string, limit int) ([]Run, error)
	Close() error
}
