//go:build sqlite

package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "schedkit/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.keep(), pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate history")
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.Job == "" {
		return nil
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(job, task_id, pool, at, queue_delay, duration, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Job, nullStr(r.TaskID), nullStr(r.Pool), r.At.UnixNano(),
		int64(r.QueueDelay), int64(r.Duration), string(r.Outcome), nullStr(r.Error),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT job, task_id, pool, at, queue_delay, duration, outcome, err FROM runs`
	args := []any{}
	if job != "" {
		q += ` WHERE job = ?`
		args = append(args, job)
	}
	q += ` ORDER BY at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                   Run
			taskID, pool, e     sql.NullString
			at, delay, duration int64
			outcome             string
		)
		if err := rows.Scan(&r.Job, &taskID, &pool, &at, &delay, &duration, &outcome, &e); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.TaskID, r.Pool, r.Error = taskID.String, pool.String, e.String
		r.At = time.Unix(0, at)
		r.QueueDelay, r.Duration = time.Duration(delay), time.Duration(duration)
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps the newest keep rows per job.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY job ORDER BY at DESC) AS rn FROM runs
			) WHERE rn > ?
		)`, s.keep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
