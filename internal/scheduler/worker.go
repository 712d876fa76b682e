package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rentline/internal/domain"
)

// HandlerFunc executes one job. Handlers run under at-least-once delivery
// and must be safe to run twice for the same logical work.
type HandlerFunc func(ctx context.Context, job domain.Job) error

// Worker polls one queue and dispatches due jobs to registered handlers.
type Worker struct {
	queue        *Queue
	queueName    string
	handlers     map[string]HandlerFunc
	pollInterval time.Duration
	jobTimeout   time.Duration
	retryDelay   time.Duration
	batchSize    int
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithPollInterval sets the interval between polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithJobTimeout caps a single handler execution.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Worker) { w.jobTimeout = d }
}

// WithRetryDelay sets the base delay before a failed job is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryDelay = d }
}

// WithBatchSize sets the maximum number of jobs claimed per poll.
func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// NewWorker creates a worker for the named queue.
func NewWorker(q *Queue, queueName string, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queue:        q,
		queueName:    queueName,
		handlers:     map[string]HandlerFunc{},
		pollInterval: 5 * time.Second,
		jobTimeout:   30 * time.Second,
		retryDelay:   time.Minute,
		batchSize:    100,
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers the handler for a job kind.
func (w *Worker) Handle(kind string, h HandlerFunc) {
	w.handlers[kind] = h
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop cancels the loop and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(w.ctx)
		}
	}
}

// RunOnce claims and executes one batch of due jobs. It returns the number
// of jobs executed, which makes it usable from tests and `rl worker --once`.
func (w *Worker) RunOnce(ctx context.Context) int {
	jobs, err := w.queue.Due(ctx, w.queueName, w.batchSize)
	if err != nil {
		w.logger.Error("fetch due jobs", "queue", w.queueName, "error", err)
		return 0
	}
	executed := 0
	for _, job := range jobs {
		claimed, err := w.queue.Claim(ctx, job.ID)
		if err != nil {
			w.logger.Error("claim job", "job", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		w.execute(ctx, job)
		executed++
	}
	return executed
}

func (w *Worker) execute(ctx context.Context, job domain.Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.logger.Error("no handler for job kind", "job", job.ID, "kind", job.Kind)
		// Unroutable jobs never succeed; park them immediately.
		job.Attempts = job.MaxAttempts - 1
		if err := w.queue.Fail(ctx, job, fmt.Errorf("no handler for kind %s", job.Kind), w.retryDelay); err != nil {
			w.logger.Error("park unroutable job", "job", job.ID, "error", err)
		}
		return
	}
	jctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err := handler(jctx, job)
	cancel()
	if err != nil {
		w.logger.Warn("job failed", "job", job.ID, "kind", job.Kind, "attempt", job.Attempts+1, "error", err)
		if ferr := w.queue.Fail(ctx, job, err, w.retryDelay); ferr != nil {
			w.logger.Error("record job failure", "job", job.ID, "error", ferr)
		}
		return
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		// The work happened; the job will be re-delivered and the handler's
		// re-verification turns the replay into a no-op.
		w.logger.Error("mark job done", "job", job.ID, "error", err)
	}
}
