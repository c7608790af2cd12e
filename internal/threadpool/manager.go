package threadpool

import (
	"context"
	"sort"
	"strings"
	"sync"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

// Manager hands out named pools. A pool starts on its first Get and stops
// when the last holder releases it.
type Manager struct {
	mu      sync.Mutex
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics

	def   Config
	named map[string]Config
	pools map[string]*held

	closed bool
}

type held struct {
	pool *Pool
	refs int
}

func NewManager(def Config, named map[string]Config, log logx.Logger, bus eventbus.Bus, metrics *Metrics) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:     log,
		bus:     bus,
		metrics: metrics,
		def:     def,
		named:   copyConfigs(named),
		pools:   map[string]*held{},
	}
}

// Configure replaces pool sizing. Running pools keep their size until they
// are released and acquired again.
func (m *Manager) Configure(def Config, named map[string]Config) {
	m.mu.Lock()
	m.def = def
	m.named = copyConfigs(named)
	m.mu.Unlock()
}

// Get acquires the named pool, starting it if needed.
func (m *Manager) Get(name string) (*Pool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPool
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if h := m.pools[name]; h != nil {
		h.refs++
		return h.pool, nil
	}
	cfg, ok := m.named[name]
	if !ok {
		cfg = m.def
	}
	p := newPool(name, cfg, m.log, m.bus, m.metrics)
	p.start(context.Background())
	m.pools[name] = &held{pool: p, refs: 1}
	return p, nil
}

// Release drops one reference to p and stops it when none remain.
func (m *Manager) Release(p *Pool) {
	if p == nil {
		return
	}
	m.mu.Lock()
	h := m.pools[p.name]
	if h == nil || h.pool != p {
		m.mu.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.pools, p.name)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()
	p.stop(ctx)
}

// Shutdown stops every pool regardless of references and refuses new Gets.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	pools := make([]*Pool, 0, len(m.pools))
	for _, h := range m.pools {
		pools = append(pools, h.pool)
	}
	m.pools = map[string]*held{}
	m.mu.Unlock()

	for _, p := range pools {
		p.stop(ctx)
	}
}

func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.pools))
	for _, h := range m.pools {
		s := h.pool.Snapshot()
		s.Refs = h.refs
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyConfigs(in map[string]Config) map[string]Config {
	out := make(map[string]Config, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
