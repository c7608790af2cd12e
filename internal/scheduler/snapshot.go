package scheduler

// Health is a coarse view used by diagnostics.
type Health struct {
	Active     bool   `json:"active"`
	Leader     bool   `json:"leader"`
	Jobs       int    `json:"jobs"`
	Pending    int    `json:"pending"`
	Pool       string `json:"pool,omitempty"`
	PoolSize   int    `json:"pool_size"`
	QueueDepth int    `json:"queue_depth"`
}

// Saturated reports a queue deeper than the pool can drain in one round.
func (h Health) Saturated() bool {
	return h.Active && h.PoolSize > 0 && h.QueueDepth > h.PoolSize
}

func (s *Scheduler) Health() Health {
	s.mu.Lock()
	eng := s.engine
	h := Health{Active: eng != nil, Pending: len(s.pending), Leader: s.leader.Load()}
	s.mu.Unlock()
	if eng != nil {
		h.Jobs = eng.jobCount()
		h.Pool, h.PoolSize, h.QueueDepth = eng.poolStats()
	}
	return h
}
