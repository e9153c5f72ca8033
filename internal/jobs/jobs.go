// Package jobs implements C7 JobRunner: at-least-once background execution
// for work that must survive a handler's own failure without blocking the
// caller (activity persistence, cache invalidation). Structure follows the
// channel-plus-worker-pool pattern the teacher's eventlogger package uses,
// generalized to per-jobType handlers sharing one queue, with retry.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/splitledger/core/internal/metrics"
)

// Job is one unit of enqueued work.
type Job struct {
	Type       string
	Payload    any
	Attempt    int
	MaxAttempts int
	EnqueuedAt time.Time
}

// Handler processes a job's payload. Handlers must be idempotent: a job
// may run more than once under at-least-once delivery (spec.md §4.10).
type Handler func(ctx context.Context, payload any) error

// Options configure how a single enqueue is retried.
type Options struct {
	MaxAttempts int // default 3
	Delay       time.Duration
}

// Runner dispatches jobs to registered handlers with bounded per-queue
// concurrency and exponential backoff between retries.
type Runner struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	queue       chan Job
	concurrency int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// New builds a Runner with the given queue depth and worker concurrency
// (spec.md §4.10's "bounded per-queue concurrency", default 5).
func New(queueDepth, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		handlers:    make(map[string]Handler),
		queue:       make(chan Job, queueDepth),
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register binds a jobType to the handler that executes it. Register
// before Start; registering after is not safe for concurrent enqueue.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Start launches the worker pool. Call once.
func (r *Runner) Start() {
	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case job := <-r.queue:
			r.run(r.ctx, job)
		}
	}
}

// drain runs remaining queued jobs to completion on Shutdown rather than
// dropping them, matching the teacher's "drain events before shutdown"
// behavior in eventlogger.Worker.
func (r *Runner) drain() {
	for {
		select {
		case job := <-r.queue:
			r.run(context.Background(), job)
		default:
			return
		}
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	metrics.JobQueueDepth.WithLabelValues(job.Type).Set(float64(len(r.queue)))

	r.mu.RLock()
	h, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		slog.Error("no handler registered for job type", "job_type", job.Type)
		return
	}

	start := time.Now()
	err := h(ctx, job.Payload)
	duration := time.Since(start).Seconds()
	if err == nil {
		metrics.JobDuration.WithLabelValues(job.Type, "success").Observe(duration)
		return
	}

	job.Attempt++
	if job.Attempt >= job.MaxAttempts {
		metrics.JobDuration.WithLabelValues(job.Type, "failed").Observe(duration)
		slog.Error("job failed permanently", "job_type", job.Type, "attempt", job.Attempt, "error", err)
		return
	}
	metrics.JobDuration.WithLabelValues(job.Type, "retry").Observe(duration)

	backoff := time.Duration(1<<uint(job.Attempt)) * time.Second
	slog.Warn("job failed, will retry", "job_type", job.Type, "attempt", job.Attempt, "backoff", backoff, "error", err)
	go func(j Job, delay time.Duration) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-r.ctx.Done():
		case <-t.C:
			select {
			case r.queue <- j:
			default:
				slog.Error("job queue full, dropping retry", "job_type", j.Type)
			}
		}
	}(job, backoff)
}

// Enqueue submits a job for asynchronous processing. It never blocks the
// caller on the handler's outcome; a full queue drops the job with a log
// line rather than applying backpressure to the write path it's guarding.
func (r *Runner) Enqueue(jobType string, payload any, opts Options) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	job := Job{Type: jobType, Payload: payload, MaxAttempts: opts.MaxAttempts, EnqueuedAt: time.Now()}
	enqueue := func() {
		select {
		case r.queue <- job:
		default:
			slog.Warn("job queue full, dropping job", "job_type", jobType)
		}
	}
	if opts.Delay <= 0 {
		enqueue()
		return
	}
	go func() {
		t := time.NewTimer(opts.Delay)
		defer t.Stop()
		select {
		case <-r.ctx.Done():
		case <-t.C:
			enqueue()
		}
	}()
}

// Shutdown stops accepting new dispatch loops, drains the queue, and
// waits for in-flight and drained jobs to finish.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
