// -----------------------------------------------------------------------
// Job Queue - FIFO, one job in flight, every job reaches a notification
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// ErrQueueClosed is returned by Enqueue after Stop
var ErrQueueClosed = errors.New("job queue closed")

// entry pairs a job with its history record
type entry struct {
	job    *models.Job
	record *models.JobRecord
}

// JobQueue runs jobs one at a time in submission order. A job's outcome is
// recorded and fanned out before the next job is dequeued.
type JobQueue struct {
	runner        interfaces.JobRunner
	notifier      interfaces.Notifier
	storage       interfaces.JobStorage // Optional
	notifyTimeout time.Duration
	logger        arbor.ILogger

	mu       sync.Mutex
	pending  []*entry
	inflight *entry
	closed   bool
	started  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJobQueue creates a queue. storage may be nil to disable job history.
func NewJobQueue(runner interfaces.JobRunner, notifier interfaces.Notifier, storage interfaces.JobStorage, config common.QueueConfig, logger arbor.ILogger) *JobQueue {
	ctx, cancel := context.WithCancel(context.Background())

	notifyTimeout := config.NotifyTimeout.D()
	if notifyTimeout <= 0 {
		notifyTimeout = 60 * time.Second
	}

	return &JobQueue{
		runner:        runner,
		notifier:      notifier,
		storage:       storage,
		notifyTimeout: notifyTimeout,
		logger:        logger,
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Start launches the single worker
func (q *JobQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("job queue already started")
	}
	q.started = true

	q.logger.Info().Int("pending", len(q.pending)).Msg("Starting job queue")
	go q.worker()
	return nil
}

// Stop rejects new jobs and waits for the worker to finish. Jobs still pending
// run with a cancelled context so each one is cleaned up and notified.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	pending := len(q.pending)
	q.mu.Unlock()

	q.logger.Info().Int("pending", pending).Msg("Stopping job queue")
	q.cancel()

	if !started {
		close(q.done)
		q.drain()
		return nil
	}

	select {
	case <-q.done:
		q.logger.Info().Msg("Job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job queue did not drain: %w", ctx.Err())
	}
}

// Enqueue records job as queued and appends it. It does not wait for the job to run.
func (q *JobQueue) Enqueue(job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	e := &entry{job: job, record: models.NewJobRecord(job)}

	if q.isClosed() {
		return ErrQueueClosed
	}

	// The queued record must land before the worker can see the entry,
	// otherwise it could overwrite a later status.
	q.save(context.Background(), e.record)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		outcome := models.ErrorOutcome(ErrQueueClosed.Error(), job.Prompt)
		e.record.Status = outcome.Status()
		e.record.Outcome = &outcome
		e.record.FinishedAt = time.Now()
		q.save(context.Background(), e.record)
		return ErrQueueClosed
	}
	q.pending = append(q.pending, e)
	size := q.sizeLocked()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.logger.Info().
		Str("job_id", job.ID).
		Str("display_name", job.DisplayName).
		Int("queue_size", size).
		Msg("Job enqueued")
	return nil
}

func (q *JobQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size returns pending plus in-flight jobs
func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

func (q *JobQueue) sizeLocked() int {
	size := len(q.pending)
	if q.inflight != nil {
		size++
	}
	return size
}

// ActiveInputs returns the input paths of pending and in-flight jobs
func (q *JobQueue) ActiveInputs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	paths := make([]string, 0, len(q.pending)+1)
	if q.inflight != nil {
		paths = append(paths, q.inflight.job.InputPath)
	}
	for _, e := range q.pending {
		paths = append(paths, e.job.InputPath)
	}
	return paths
}

func (q *JobQueue) worker() {
	defer close(q.done)
	defer common.RecoverPanic(q.logger, "job-queue-worker")

	for {
		if e := q.next(); e != nil {
			q.execute(e)
			continue
		}

		if q.isClosed() {
			return
		}

		select {
		case <-q.wake:
		case <-q.ctx.Done():
		}
	}
}

// drain runs whatever is pending on the calling goroutine. Used when Stop
// is called on a queue that was never started.
func (q *JobQueue) drain() {
	for e := q.next(); e != nil; e = q.next() {
		q.execute(e)
	}
}

// next pops the head of the queue and marks it in flight
func (q *JobQueue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.inflight = e
	return e
}

func (q *JobQueue) execute(e *entry) {
	job := e.job
	logger := q.logger.WithCorrelationId(job.ID)

	defer func() {
		q.mu.Lock()
		q.inflight = nil
		q.mu.Unlock()
	}()

	// Counts this job too
	backlog := q.Size()

	logger.Info().
		Str("display_name", job.DisplayName).
		Int("backlog", backlog).
		Msg("Job started")

	e.record.Status = models.JobStatusRunning
	e.record.StartedAt = time.Now()
	q.save(context.WithoutCancel(q.ctx), e.record)

	q.announce(job, backlog)

	outcome := q.run(logger, job)

	e.record.Status = outcome.Status()
	e.record.Outcome = &outcome
	e.record.FinishedAt = time.Now()
	q.save(context.WithoutCancel(q.ctx), e.record)

	logger.Info().
		Str("outcome", string(outcome.Kind)).
		Dur("duration", e.record.FinishedAt.Sub(e.record.StartedAt)).
		Msg("Job finished")

	q.notify(logger, job, outcome)
}

// run executes the job and converts a panic into an Error outcome
func (q *JobQueue) run(logger arbor.ILogger, job *models.Job) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Recovered from panic in job runner")
			outcome = models.ErrorOutcome(fmt.Sprintf("job failed unexpectedly: %v", r), job.Prompt)

			// The runner never reached its own cleanup
			if err := os.Remove(job.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("path", job.InputPath).Msg("Failed to remove input file")
			}
		}
	}()

	return q.runner.Process(q.ctx, job)
}

// announce tells the push channel a job has started. Best-effort.
func (q *JobQueue) announce(job *models.Job, backlog int) {
	defer common.RecoverPanic(q.logger, "announce")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), q.notifyTimeout)
	defer cancel()
	q.notifier.Started(ctx, job, backlog)
}

// notify fans the outcome out. The queue's own cancellation does not cut it short.
func (q *JobQueue) notify(logger arbor.ILogger, job *models.Job, outcome models.Outcome) {
	defer common.RecoverPanic(logger, "notify")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), q.notifyTimeout)
	defer cancel()
	q.notifier.Notify(ctx, job, outcome)
}

func (q *JobQueue) save(ctx context.Context, record *models.JobRecord) {
	if q.storage == nil {
		return
	}
	if err := q.storage.SaveJob(ctx, record); err != nil {
		q.logger.Warn().
			Err(err).
			Str("job_id", record.ID).
			Str("status", string(record.Status)).
			Msg("Failed to save job record")
	}
}
