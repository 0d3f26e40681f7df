// Package queue runs generation jobs on a fixed-size worker pool with
// retry/backoff, cooperative cancellation, and observer notifications on
// every status transition.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"renderbot/internal/domain"
	"renderbot/internal/infra"
	"renderbot/internal/observability"
)

// WorkerFunc executes one attempt of a job and returns its artifact. The
// passed context carries the per-attempt timeout.
type WorkerFunc func(ctx context.Context, job *domain.Job) (*domain.JobResult, error)

// Config sizes the queue. Retention caps how many finished jobs stay
// addressable by ID before the oldest are evicted.
type Config struct {
	Concurrency int
	Backlog     int
	Retention   int
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 2
	}
	if c.Backlog < 1 {
		c.Backlog = 200
	}
	if c.Retention < 1 {
		c.Retention = 512
	}
	return c
}

// Queue is a bounded-concurrency job scheduler. Each worker processes one job
// fully, including all of its retries, before taking the next. Job execution
// state lives behind the job's own lock so status lookups from other
// goroutines stay consistent.
type Queue struct {
	workerFn WorkerFunc
	cfg      Config
	logger   infra.Logger

	ch chan *domain.Job

	mu        sync.RWMutex
	jobs      map[string]*domain.Job
	doneOrder []string

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New constructs a queue; call Start to launch the workers.
func New(workerFn WorkerFunc, cfg Config, logger infra.Logger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		workerFn: workerFn,
		cfg:      cfg,
		logger:   logger,
		ch:       make(chan *domain.Job, cfg.Backlog),
		jobs:     make(map[string]*domain.Job),
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or Stop
// is called.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, i)
	}
}

// Stop prevents further dequeues and waits for in-flight jobs to finish their
// current attempt loop.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopped) })
	q.wg.Wait()
}

// Size reports the number of jobs waiting in the backlog.
func (q *Queue) Size() int {
	return len(q.ch)
}

// Job returns the tracked job for id.
func (q *Queue) Job(id string) (*domain.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	return j, ok
}

// Enqueue admits a job. When the backlog is full the call blocks until space
// frees or ctx is canceled: backpressure, not rejection. On a failed send
// the job is deregistered and reported failed so no observer is left waiting
// for a terminal status.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) (string, error) {
	select {
	case <-q.stopped:
		return "", domain.ErrQueueStopped
	default:
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.setStatus(job, domain.JobStatusQueued, "queued")

	select {
	case q.ch <- job:
		observability.JobsEnqueued.WithLabelValues(string(job.Kind)).Inc()
		return job.ID, nil
	case <-q.stopped:
		q.reject(job, "queue stopped before admission")
		return "", domain.ErrQueueStopped
	case <-ctx.Done():
		q.reject(job, "enqueue canceled: "+ctx.Err().Error())
		return "", ctx.Err()
	}
}

// reject rolls back an admission that never reached the backlog.
func (q *Queue) reject(job *domain.Job, msg string) {
	q.mu.Lock()
	delete(q.jobs, job.ID)
	q.mu.Unlock()
	job.SetLastError(msg)
	q.setStatus(job, domain.JobStatusFailed, "failed: "+msg)
}

// Cancel flags a job for cooperative cancellation. A job that has not started
// is skipped when dequeued; a running job stops at its next checkpoint.
// Returns false for unknown ids and for jobs already in a terminal state.
func (q *Queue) Cancel(id string) bool {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok || job.Status().Terminal() {
		return false
	}
	job.MarkCanceled()
	return true
}

func (q *Queue) workerLoop(ctx context.Context, idx int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case job := <-q.ch:
			if job.Canceled() {
				q.finish(job, domain.JobStatusCanceled, "canceled before start")
				continue
			}
			q.runJob(ctx, job)
		}
	}
}

func (q *Queue) runJob(ctx context.Context, job *domain.Job) {
	for attempt := 1; attempt <= job.MaxRetries+1; attempt++ {
		job.SetAttempt(attempt)

		if job.Canceled() {
			q.finish(job, domain.JobStatusCanceled, "canceled")
			return
		}

		q.setStatus(job, domain.JobStatusRunning, fmt.Sprintf("running (attempt %d)", attempt))

		attemptCtx, cancel := context.WithTimeout(ctx, job.Timeout)
		result, err := q.workerFn(attemptCtx, job)
		cancel()

		if err == nil {
			job.SetResult(result)
			q.finish(job, domain.JobStatusDone, "done")
			if job.OnDone != nil {
				q.safely(func() { job.OnDone(job, result) })
			}
			return
		}

		if job.Canceled() || errors.Is(err, domain.ErrJobCanceled) {
			q.finish(job, domain.JobStatusCanceled, "canceled")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("attempt timed out after %s: %w", job.Timeout, err)
		}
		errText := err.Error()
		job.SetLastError(errText)

		if attempt <= job.MaxRetries && domain.Retryable(err) {
			q.setStatus(job, domain.JobStatusRetrying, "retrying after error: "+errText)
			if !q.sleepBackoff(ctx, job, attempt) {
				q.finish(job, domain.JobStatusCanceled, "canceled during backoff")
				return
			}
			continue
		}

		q.finish(job, domain.JobStatusFailed, "failed: "+errText)
		if job.OnError != nil {
			q.safely(func() { job.OnError(job, err) })
		}
		return
	}
}

// sleepBackoff waits base*2^(attempt-1) capped at the ceiling, plus 15-35%
// jitter. Returns false when the wait was interrupted by cancellation.
func (q *Queue) sleepBackoff(ctx context.Context, job *domain.Job, attempt int) bool {
	raw := job.BackoffBase << (attempt - 1)
	if raw > job.BackoffMax || raw <= 0 {
		raw = job.BackoffMax
	}
	jitter := time.Duration(float64(raw) * (0.15 + 0.20*rand.Float64()))

	t := time.NewTimer(raw + jitter)
	defer t.Stop()
	select {
	case <-t.C:
		return !job.Canceled()
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) finish(job *domain.Job, status domain.JobStatus, msg string) {
	// Retention runs before the terminal notification so a caller reacting
	// to it observes the registry in its settled state.
	q.retain(job)
	q.setStatus(job, status, msg)
	observability.JobsFinished.WithLabelValues(string(job.Kind), string(status)).Inc()
	observability.JobAttempts.WithLabelValues(string(job.Kind)).Observe(float64(job.Attempt()))
	observability.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(job.CreatedAt).Seconds())
}

// retain keeps the finished job addressable and evicts the oldest finished
// jobs beyond the retention cap.
func (q *Queue) retain(job *domain.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.doneOrder = append(q.doneOrder, job.ID)
	for len(q.doneOrder) > q.cfg.Retention {
		delete(q.jobs, q.doneOrder[0])
		q.doneOrder = q.doneOrder[1:]
	}
}

// setStatus records a transition and notifies the observer. Terminal statuses
// are sticky: once reached, no further transition is recorded or reported.
// The observer runs outside the job's lock.
func (q *Queue) setStatus(job *domain.Job, status domain.JobStatus, msg string) {
	if !job.Transition(status) {
		return
	}
	if job.OnStatus != nil {
		q.safely(func() { job.OnStatus(job, status, msg) })
	}
}

// Observer callbacks must never take down a worker.
func (q *Queue) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Msg("queue: observer callback panicked")
		}
	}()
	fn()
}
