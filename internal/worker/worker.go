// Package worker implements the bounded-retry task executor of §4.8
// (component C11): it pulls queued tasks enqueued by the scheduler and
// executes the Transfer command (or an ad-hoc source-check/
// source-inspect command) with the stored argument list, retrying
// transient failures up to a fixed ceiling.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// MaxRetries and RetryDelay are the fixed bounded-retry parameters of
// §4.8: `TASK_MAX_RETRIES = 3` and `TASK_RETRY_DELAY = 300s`.
const (
	MaxRetries = 3
	RetryDelay = 300 * time.Second
)

// Status is a Handle's lifecycle state.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Task is one unit of work: a command name plus its frozen CLI argument
// list, per §6.4/§4.8. ExecutionID/RetryCount/RetryLimit are stamped by
// the Pool before each attempt, per §4.8 "each execution passes
// --execution-id, --retry-count, --retry-limit".
type Task struct {
	ID          string
	Command     string
	Args        []string
	ExecutionID string
	RetryCount  int
	RetryLimit  int
}

// Runner executes one attempt of a Task and returns its JSON-shaped
// output plus an error classified by the abstract error taxonomy
// (§7) — the Pool inspects xerrors.IsRetriable(err) to decide whether
// to retry.
type Runner func(ctx context.Context, task Task) (map[string]any, error)

// Handle exposes a queued or in-flight task's terminal state, per §4.8's
// `run(expedited)`/`wait`/`status`/`output`/`error` operations.
type Handle struct {
	task Task

	mu     sync.Mutex
	status Status
	output map[string]any
	err    error
	done   chan struct{}
}

func newHandle(task Task) *Handle {
	return &Handle{task: task, status: StatusQueued, done: make(chan struct{})}
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Output returns the task's last recorded output, if any.
func (h *Handle) Output() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

// Error returns the task's terminal error, if it failed.
func (h *Handle) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task reaches a terminal state, the context is
// cancelled, or timeout elapses (0 or less means the default 300s
// ceiling) — per §5 "wait(timeout)", implemented here as a direct
// channel wait rather than polling since the Pool already owns the
// completion signal.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) finish(status Status, output map[string]any, err error) {
	h.mu.Lock()
	h.status = status
	h.output = output
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Pool runs a fixed number of worker goroutines consuming tasks from an
// in-process queue, per §5 "Worker pool is multi-process, concurrent
// across tasks but single-threaded per task" (rendered here as one
// process with N goroutines, the idiomatic Go analogue).
type Pool struct {
	runner     Runner
	maxRetries int
	retryDelay time.Duration
	queue      chan *job
	log        *logrus.Entry
	wg         sync.WaitGroup
}

type job struct {
	task   Task
	handle *Handle
}

// NewPool constructs a Pool with `workers` concurrent goroutines.
// maxRetries/retryDelay default to the §4.8 constants when zero.
func NewPool(runner Runner, workers, maxRetries int, retryDelay time.Duration, log *logrus.Entry) *Pool {
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = RetryDelay
	}
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		runner:     runner,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		queue:      make(chan *job, 256),
		log:        log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

// Enqueue submits task for execution and returns a Handle tracking it.
func (p *Pool) Enqueue(task Task) *Handle {
	h := newHandle(task)
	p.queue <- &job{task: task, handle: h}
	return h
}

// Close stops accepting new work and waits for in-flight workers to
// drain their current task.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j *job) {
	j.handle.setStatus(StatusRunning)
	task := j.task
	task.RetryLimit = p.maxRetries
	if task.ExecutionID == "" {
		task.ExecutionID = task.ID
	}

	var lastErr error
	var lastOutput map[string]any
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		task.RetryCount = attempt
		ctx := context.Background()

		output, err := p.runner(ctx, task)
		lastOutput, lastErr = output, err
		if err == nil {
			j.handle.finish(StatusSuccess, output, nil)
			return
		}

		if p.log != nil {
			p.log.WithFields(logrus.Fields{
				"task_id": task.ID, "attempt": attempt, "err": err,
			}).Warn("task execution failed")
		}

		if !xerrors.IsRetriable(err) || attempt == p.maxRetries {
			break
		}
		time.Sleep(p.retryDelay)
	}

	j.handle.finish(StatusFailure, lastOutput, lastErr)
}
