// Package queue is the durable single-worker task queue that drains photo
// work on a fixed interval.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

const (
	defaultBatchSize = 10
	defaultInterval  = time.Minute
)

// Store is the durable backing for the queue.
type Store interface {
	EnqueueTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error)
	PeekTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CountTasks(ctx context.Context) (int, error)
	GetQueueRun(ctx context.Context) (*model.QueueRun, error)
	RecordTaskFailure(ctx context.Context, f *model.TaskFailure) error
	DeleteExpiredSearches(ctx context.Context, now time.Time) (int, error)
}

// Handler processes one task. Handlers should tolerate their own failures;
// an error or panic is recorded and the task is still removed.
type Handler func(ctx context.Context, task model.Task) error

// TickResult reports one drain pass.
type TickResult struct {
	Skipped    bool `json:"skipped"`
	Dispatched int  `json:"dispatched"`
	Failed     int  `json:"failed"`
	Remaining  int  `json:"remaining"`
	Evicted    int  `json:"evicted"`
}

// Status is the progress of the current logical run.
type Status struct {
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Remaining int        `json:"remaining"`
	Percent   float64    `json:"percent"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithBatchSize caps the tasks dispatched per tick.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithInterval sets the Run tick interval.
func WithInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue drains tasks from Store in FIFO order, at most batchSize per tick,
// with at most one tick in flight.
type Queue struct {
	store     Store
	batchSize int
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger

	tick     sync.Mutex
	hmu      sync.RWMutex
	handlers map[model.TaskType]Handler
}

// New creates a Queue.
func New(s Store, opts ...Option) *Queue {
	q := &Queue{
		store:     s,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		now:       time.Now,
		handlers:  make(map[model.TaskType]Handler),
		log:       zap.L().With(zap.String("component", "queue")),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Handle registers the handler for a task type.
func (q *Queue) Handle(t model.TaskType, h Handler) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.handlers[t] = h
}

// Enqueue appends tasks to the tail of the queue and returns how many
// were stored.
func (q *Queue) Enqueue(ctx context.Context, tasks ...model.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	stored, err := q.store.EnqueueTasks(ctx, tasks)
	if err != nil {
		return 0, eris.Wrap(err, "queue: enqueue")
	}
	q.log.Debug("tasks enqueued", zap.Int("count", len(stored)))
	return len(stored), nil
}

// Tick dispatches up to batchSize tasks from the head of the queue. It
// returns immediately with Skipped set when another tick is running.
// Cancellation is honored between tasks.
func (q *Queue) Tick(ctx context.Context) (*TickResult, error) {
	if !q.tick.TryLock() {
		q.log.Debug("tick already in progress")
		return &TickResult{Skipped: true}, nil
	}
	defer q.tick.Unlock()

	tasks, err := q.store.PeekTasks(ctx, q.batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "queue: read head")
	}

	res := &TickResult{}
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		res.Dispatched++

		herr := q.dispatch(ctx, t)

		// The dispatch already happened; finish bookkeeping even if the
		// caller cancels now.
		bg := context.WithoutCancel(ctx)
		if err := q.store.DeleteTask(bg, t.ID); err != nil {
			return res, eris.Wrapf(err, "queue: remove task %s", t.ID)
		}
		if herr != nil {
			res.Failed++
			q.recordFailure(bg, t, herr)
		}
	}

	if n, err := q.store.DeleteExpiredSearches(context.WithoutCancel(ctx), q.now()); err != nil {
		q.log.Warn("search cache cleanup failed", zap.Error(err))
	} else {
		res.Evicted = n
	}

	remaining, err := q.store.CountTasks(context.WithoutCancel(ctx))
	if err != nil {
		return res, eris.Wrap(err, "queue: count remaining")
	}
	res.Remaining = remaining

	if res.Dispatched > 0 {
		q.log.Info("tick complete",
			zap.Int("dispatched", res.Dispatched),
			zap.Int("failed", res.Failed),
			zap.Int("remaining", res.Remaining),
		)
	}
	if ctx.Err() != nil {
		return res, eris.Wrap(ctx.Err(), "queue: tick interrupted")
	}
	return res, nil
}

// dispatch runs the handler for t, converting a panic into an error.
func (q *Queue) dispatch(ctx context.Context, t model.Task) (err error) {
	q.hmu.RLock()
	h, ok := q.handlers[t.Type]
	q.hmu.RUnlock()
	if !ok {
		return eris.Errorf("queue: no handler for task type %q", t.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task handler panicked",
				zap.String("task_id", t.ID),
				zap.String("type", string(t.Type)),
				zap.String("stack", string(debug.Stack())),
			)
			err = eris.Errorf("queue: handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}

func (q *Queue) recordFailure(ctx context.Context, t model.Task, herr error) {
	kind := resilience.ClassifyError(herr)
	q.log.Warn("task failed",
		zap.String("task_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.String("kind", kind),
		zap.Error(herr),
	)
	f := &model.TaskFailure{
		TaskID:    t.ID,
		Type:      t.Type,
		Payload:   t.Payload,
		Error:     truncate(herr.Error(), 2000),
		ErrorKind: kind,
		FailedAt:  q.now().UTC(),
	}
	if err := q.store.RecordTaskFailure(ctx, f); err != nil {
		q.log.Error("record task failure", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// Status reports progress of the current run. Total is fixed when the run
// starts, so Processed and Percent never decrease within a run.
func (q *Queue) Status(ctx context.Context) (*Status, error) {
	run, err := q.store.GetQueueRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "queue: load run")
	}
	remaining, err := q.store.CountTasks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "queue: count tasks")
	}

	st := &Status{Remaining: remaining, Total: remaining}
	if run != nil {
		st.Total = max(run.Total, remaining)
		started := run.StartedAt
		st.StartedAt = &started
	}
	st.Processed = st.Total - st.Remaining
	if st.Total > 0 {
		st.Percent = float64(st.Processed) * 100 / float64(st.Total)
	}
	return st, nil
}

// Run ticks immediately and then every interval until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("queue worker started",
		zap.Duration("interval", q.interval),
		zap.Int("batch_size", q.batchSize),
	)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		if _, err := q.Tick(ctx); err != nil && ctx.Err() == nil {
			q.log.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			q.log.Info("queue worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
