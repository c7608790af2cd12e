package threadpool

import (
	"context"
	"sync"
	"time"
)

// DefaultPool is used when a caller asks for the empty pool name.
const DefaultPool = "default"

// Config sizes one named pool.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds Task.Run when Task.Timeout is 0. 0 means no bound.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks queued longer than this. 0 disables dropping.
	MaxQueueDelay time.Duration

	HistorySize int

	// StopTimeout bounds how long Release waits for workers to drain.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

// RunState tracks whether an exclusive task is queued or running.
// A second exclusive task sharing the state is refused until the first
// finishes, so fast triggers never pile up behind a slow body.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether an exclusive task holds the state.
func (s *RunState) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Task is one unit of work.
//
// When Exclusive is set, State gates overlap: Enqueue returns ErrOverlapSkip
// while another task holding the same State is queued or running.
type Task struct {
	ID        string
	Name      string
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	Exclusive bool
	State     *RunState
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Pool       string        `json:"pool"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a diagnostics view of one pool.
type Snapshot struct {
	Name     string `json:"name"`
	Refs     int    `json:"refs"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	InFlight int    `json:"in_flight"`

	Completed        uint64 `json:"completed"`
	Failed           uint64 `json:"failed"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`
	SkippedOverlap   uint64 `json:"skipped_overlap"`

	History []HistoryItem `json:"history,omitempty"`
}
