package threadpool

import "github.com/cockroachdb/errors"

var (
	ErrStopped     = errors.New("thread pool stopped")
	ErrStopping    = errors.New("thread pool stopping")
	ErrQueueFull   = errors.New("thread pool queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still active")
	ErrClosed      = errors.New("thread pool manager closed")
)
