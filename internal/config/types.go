package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig         `json:"logging"`
	Scheduler SchedulerConfig       `json:"scheduler"`
	Pools     map[string]PoolConfig `json:"pools,omitempty"`
	History   *HistoryConfig        `json:"history,omitempty"`
	Diag      DiagConfig            `json:"diag,omitempty"`
	Jobs      []JobConfig           `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "console" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the job registry.
//
// Leader is a pointer so an omitted value keeps the default (true).
type SchedulerConfig struct {
	Pool         string `json:"pool,omitempty"`
	Location     string `json:"location,omitempty"`
	Leader       *bool  `json:"leader,omitempty"`
	WarnInterval string `json:"warn_interval,omitempty"`
}

// PoolConfig sizes one named worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type PoolConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// HistoryConfig controls the optional run history store.
//
// Example:
//
//	"history": { "enabled": true, "driver": "file", "path": "./schedkit_history" }
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Keep        int    `json:"keep,omitempty"`         // per job; default 100
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// DiagConfig controls the diagnostics HTTP server (/metrics, /healthz, /jobs, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// JobConfig declares a command run on a schedule. Exactly one of
// Expression or Period must be set.
type JobConfig struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Dir        string            `json:"dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Expression string            `json:"expression,omitempty"`
	Period     int64             `json:"period,omitempty"` // seconds
	Immediate  bool              `json:"immediate,omitempty"`
	// Concurrent defaults to true.
	Concurrent *bool          `json:"concurrent,omitempty"`
	LeaderOnly bool           `json:"leader_only,omitempty"`
	RunOn      string         `json:"run_on,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// IsConcurrent resolves the Concurrent default.
func (j JobConfig) IsConcurrent() bool { return j.Concurrent == nil || *j.Concurrent }

// IsLeader resolves the Leader default.
func (s SchedulerConfig) IsLeader() bool { return s.Leader == nil || *s.Leader }
