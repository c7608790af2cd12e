package scheduler

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidArgument marks malformed specs, unsupported payloads and
	// missing required values. It is always reported before the kernel is touched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEngineUnavailable marks operations that need a running engine, or a
	// worker pool that could not be acquired.
	ErrEngineUnavailable = errors.New("scheduler engine unavailable")
	// ErrSchedulingFailure marks well-formed requests the kernel refused.
	ErrSchedulingFailure = errors.New("scheduling failure")
	// ErrNotFound marks removal of an unknown job name.
	ErrNotFound = errors.New("job not found")
)

func invalidf(hint string, format string, args ...any) error {
	err := errors.Wrapf(ErrInvalidArgument, format, args...)
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

// markf wraps sentinel so the standard errors.Is sees it. cause, when set,
// is kept as a secondary error for detail and reporting.
func markf(sentinel error, cause error, format string, args ...any) error {
	err := errors.Wrapf(sentinel, format, args...)
	if cause != nil {
		err = errors.WithSecondaryError(err, cause)
	}
	return err
}

// IsInvalidArgument reports whether err carries ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }
