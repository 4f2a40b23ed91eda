package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job carries one queued task with its typed payload.
type Job[T any] struct {
	ID       string
	Payload  T
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler[T any] func(context.Context, Job[T]) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory job dispatcher backed by goroutines. Stop
// closes the intake and lets the workers finish every buffered job
// before returning.
type Queue[T any] struct {
	name    string
	handler Handler[T]

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	jobs    chan Job[T]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue[T any](name string, handler Handler[T], cfg QueueConfig) *Queue[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue[T]{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		jobs:       make(chan Job[T], cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop closes the intake, waits for the workers to drain the buffered
// jobs, then cancels the handler context.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue pushes a payload onto the queue.
func (q *Queue[T]) Enqueue(payload T) error {
	return q.enqueue(Job[T]{ID: uuid.NewString(), Payload: payload, Enqueued: time.Now().UTC()})
}

func (q *Queue[T]) enqueue(job Job[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if q.stopped {
		return fmt.Errorf("queue %s stopped", q.name)
	}
	q.jobs <- job
	return nil
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.handler(q.ctx, job); err != nil {
			q.handleFailure(job, err)
		}
	}
}

func (q *Queue[T]) handleFailure(job Job[T], err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries {
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", job.ID, "error", err)
		return
	}
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "attempt", job.Attempt, "error", err)

	go func(j Job[T]) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.enqueue(j); err != nil {
				q.logger.Sugar().Errorw("failed to requeue job", "queue", q.name, "job_id", j.ID, "error", err)
			}
		}
	}(job)
}
