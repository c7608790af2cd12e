// Package history persists job run outcomes so operators can see what ran,
// when, and how it ended across daemon restarts.
//
// It supports:
//   - "file": JSON Lines journal, compacted to the newest runs per job
//   - "sqlite": SQLite database file (build tag sqlite)
package history
