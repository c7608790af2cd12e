package threadpool

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"schedkit/internal/eventbus"
	rtsup "schedkit/internal/runtime/supervisor"
	logx "schedkit/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	name    string
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics

	mu       sync.Mutex
	q        chan queuedTask
	stopCh   chan struct{}
	stopping bool
	sup      *rtsup.Supervisor

	inFlight atomic.Int32

	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	skippedOverlap   atomic.Uint64

	warnFull  *rate.Limiter
	warnStale *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	track      bool
}

func newPool(name string, cfg Config, log logx.Logger, bus eventbus.Bus, m *Metrics) *Pool {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Pool{
		name:      name,
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("pool", name)),
		bus:       bus,
		metrics:   m,
		warnFull:  rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
		warnStale: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
}

func (p *Pool) Name() string { return p.name }

// MaxSize is the number of workers.
func (p *Pool) MaxSize() int { return p.cfg.Workers }

// QueueDepth is the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	q := p.q
	p.mu.Unlock()
	if q == nil {
		return 0
	}
	return len(q)
}

func (p *Pool) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q != nil {
		return
	}
	p.q = make(chan queuedTask, p.cfg.QueueSize)
	p.stopCh = make(chan struct{})
	p.stopping = false
	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log))

	queue, stopCh := p.q, p.stopCh
	for i := 0; i < p.cfg.Workers; i++ {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			p.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	p.log.Info("thread pool started", logx.Int("workers", p.cfg.Workers), logx.Int("queue", p.cfg.QueueSize))
}

// stop closes the queue to new work and waits for workers until ctx is done.
func (p *Pool) stop(ctx context.Context) {
	p.mu.Lock()
	if p.q == nil || p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	close(p.stopCh)
	sup := p.sup
	queue := p.q
	p.mu.Unlock()

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		p.log.Warn("thread pool stop timed out", logx.Err(err))
	}

	// Release exclusive gates held by tasks that never ran.
drain:
	for {
		select {
		case qt := <-queue:
			if qt.track {
				qt.task.State.release()
			}
		default:
			break drain
		}
	}

	p.mu.Lock()
	p.q = nil
	p.stopCh = nil
	p.sup = nil
	p.stopping = false
	p.mu.Unlock()
	p.metrics.setQueue(p.name, 0)
	p.log.Info("thread pool stopped")
}

// Enqueue offers t without blocking. A full queue drops the task with ErrQueueFull.
func (p *Pool) Enqueue(t Task) error {
	return p.enqueue(context.Background(), t, false)
}

// Submit blocks until t is queued, ctx is done or the pool stops.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return p.enqueue(ctx, t, true)
}

func (p *Pool) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	p.mu.Lock()
	q, stopCh, stopping := p.q, p.stopCh, p.stopping
	p.mu.Unlock()
	if stopping {
		return ErrStopping
	}
	if q == nil {
		return ErrStopped
	}

	now := time.Now()
	if t.Exclusive {
		if t.State == nil {
			return errors.New("exclusive task requires a RunState")
		}
		if !t.State.tryAcquire() {
			p.skippedOverlap.Add(1)
			p.metrics.observeOutcome(p.name, outcomeSkipped)
			return ErrOverlapSkip
		}
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = p.cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, track: t.Exclusive}

	if !block {
		select {
		case q <- qt:
			p.metrics.setQueue(p.name, len(q))
			return nil
		default:
			if qt.track {
				t.State.release()
			}
			p.onDropped(now, t, 0, "queue_full", &p.droppedQueueFull, p.warnFull)
			return ErrQueueFull
		}
	}

	select {
	case q <- qt:
		p.metrics.setQueue(p.name, len(q))
		return nil
	case <-ctx.Done():
		if qt.track {
			t.State.release()
		}
		return ctx.Err()
	case <-stopCh:
		if qt.track {
			t.State.release()
		}
		return ErrStopping
	}
}

func (p *Pool) onDropped(now time.Time, t Task, delay time.Duration, reason string, counter *atomic.Uint64, lim *rate.Limiter) {
	n := counter.Add(1)
	p.metrics.observeOutcome(p.name, outcomeDropped)
	p.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Pool: p.name, Name: t.Name, Started: now, QueueDelay: delay, Error: reason}})
	p.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: delay, Error: reason})
	if lim.Allow() {
		p.log.Warn("task dropped", logx.String("task", t.Name), logx.String("reason", reason), logx.Duration("queue_delay", delay), logx.Uint64("dropped", n))
	}
}

func (p *Pool) record(item HistoryItem) {
	p.hmu.Lock()
	p.history = append(p.history, item)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
	p.hmu.Unlock()
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	q := p.q
	p.mu.Unlock()
	snap := Snapshot{
		Name:             p.name,
		Workers:          p.cfg.Workers,
		QueueCap:         p.cfg.QueueSize,
		InFlight:         int(p.inFlight.Load()),
		Completed:        p.completed.Load(),
		Failed:           p.failed.Load(),
		DroppedQueueFull: p.droppedQueueFull.Load(),
		DroppedStale:     p.droppedStale.Load(),
		SkippedOverlap:   p.skippedOverlap.Load(),
	}
	if q != nil {
		snap.QueueLen = len(q)
	}
	p.hmu.Lock()
	snap.History = append([]HistoryItem(nil), p.history...)
	p.hmu.Unlock()
	return snap
}
