// Package scheduler registers jobs under declarative schedules and fires them
// on a shared worker pool.
//
// The package is responsible for:
//   - building and validating schedule specs (Now, At, Periodic, Cron, ...)
//   - keeping one job per name, replacing on re-registration
//   - buffering registrations until the Scheduler is activated
//   - translating specs into robfig/cron schedules and dispatching fires
//     to a threadpool with exclusivity and leader gates
package scheduler
