package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	logx "schedkit/pkg/logx"
)

// fileStore keeps the newest runs per job in memory and appends every run
// to <prefix>.runs.jsonl. The journal is periodically compacted down to
// what memory holds.
type fileStore struct {
	log  logx.Logger
	keep int

	mu      sync.Mutex
	path    string
	f       *os.File
	runs    map[string][]Run // oldest first
	appends int
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}

	s := &fileStore{
		log:  log,
		keep: cfg.keep(),
		path: filepath.Join(dir, base) + ".runs.jsonl",
		runs: map[string][]Run{},
	}
	if err := s.replay(); err != nil && !os.IsNotExist(err) {
		log.Warn("history journal replay incomplete", logx.String("path", s.path), logx.Err(err))
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open history journal")
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Job == "" {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

func (s *fileStore) remember(r Run) {
	list := append(s.runs[r.Job], r)
	if over := len(list) - s.keep; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	s.runs[r.Job] = list
}

func (s *fileStore) Append(_ context.Context, r Run) error {
	if strings.TrimSpace(r.Job) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return errors.Wrap(err, "append run")
	}
	s.remember(r)
	s.appends++
	if s.appends%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, job string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	var out []Run
	if job != "" {
		out = append(out, s.runs[job]...)
	} else {
		for _, list := range s.runs {
			out = append(out, list...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, list := range s.runs {
		for _, r := range list {
			if err := enc.Encode(r); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
