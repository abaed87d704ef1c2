package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// fakeRunner records the order of Process calls and the events around them
type fakeRunner struct {
	mu      sync.Mutex
	events  []string
	block   chan struct{} // Optional gate for the first job
	panicOn string        // Display name that triggers a panic
	ctxErrs []error
}

func (r *fakeRunner) Process(ctx context.Context, job *models.Job) models.Outcome {
	r.log("start " + job.DisplayName)

	if r.block != nil && job.DisplayName == "first" {
		<-r.block
	}
	if job.DisplayName == r.panicOn {
		panic("tab crashed")
	}

	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()

	if ctx.Err() != nil {
		r.log("cleanup " + job.DisplayName)
		return models.ErrorOutcome(ctx.Err().Error(), job.Prompt)
	}

	r.log("cleanup " + job.DisplayName)
	return models.SuccessOutcome("https://img/"+job.DisplayName, job.Prompt)
}

func (r *fakeRunner) log(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *fakeRunner) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeNotifier records outcomes in delivery order
type fakeNotifier struct {
	mu       sync.Mutex
	started  []string
	backlogs []int
	outcomes map[string]models.Outcome
	order    []string
	ctxLive  []bool
	notified chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		outcomes: make(map[string]models.Outcome),
		notified: make(chan string, 16),
	}
}

func (n *fakeNotifier) Started(ctx context.Context, job *models.Job, backlog int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, job.DisplayName)
	n.backlogs = append(n.backlogs, backlog)
}

func (n *fakeNotifier) Notify(ctx context.Context, job *models.Job, outcome models.Outcome) {
	n.mu.Lock()
	n.outcomes[job.DisplayName] = outcome
	n.order = append(n.order, job.DisplayName)
	n.ctxLive = append(n.ctxLive, ctx.Err() == nil)
	n.mu.Unlock()
	n.notified <- job.DisplayName
}

func (n *fakeNotifier) waitFor(t *testing.T, count int) []string {
	t.Helper()
	var got []string
	for len(got) < count {
		select {
		case name := <-n.notified:
			got = append(got, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for notifications, got %v", got)
		}
	}
	return got
}

// memoryStorage keeps the latest copy of each record
type memoryStorage struct {
	mu          sync.Mutex
	records     map[string]models.JobRecord
	err         error
	queuedDelay time.Duration // Slows down writes of queued records
	onQueued    func()        // Called while a queued write is in progress
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{records: make(map[string]models.JobRecord)}
}

func (s *memoryStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	copied := *record
	if copied.Status == models.JobStatusQueued {
		if s.onQueued != nil {
			s.onQueued()
		}
		time.Sleep(s.queuedDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[copied.ID] = copied
	return nil
}

func (s *memoryStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &record, nil
}

func (s *memoryStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	return nil, nil
}

func newJob(t *testing.T, name string) *models.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".png")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
	return models.NewJob(path, name, "prompt for "+name, "")
}

func newTestQueue(runner *fakeRunner, notifier *fakeNotifier, storage *memoryStorage) *JobQueue {
	config := common.QueueConfig{NotifyTimeout: common.Duration(time.Second)}
	if storage == nil {
		return NewJobQueue(runner, notifier, nil, config, arbor.NewLogger())
	}
	return NewJobQueue(runner, notifier, storage, config, arbor.NewLogger())
}

func TestJobQueue_FIFOOrder(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		require.NoError(t, q.Enqueue(newJob(t, name)))
	}
	assert.Equal(t, 5, q.Size())

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	assert.Equal(t, names, notifier.waitFor(t, len(names)))
	assert.Equal(t, names, notifier.started)
	assert.Equal(t, []int{5, 4, 3, 2, 1}, notifier.backlogs, "backlog counts the job being started")
}

func TestJobQueue_SecondJobStartsAfterFirstCleanup(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(newJob(t, "first")))
	require.NoError(t, q.Enqueue(newJob(t, "second")))

	require.Eventually(t, func() bool {
		return len(runner.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, q.Size(), "one running plus one pending")
	assert.Equal(t, []string{"start first"}, runner.snapshot(), "second must wait while first runs")

	close(runner.block)
	notifier.waitFor(t, 2)

	assert.Equal(t, []string{
		"start first",
		"cleanup first",
		"start second",
		"cleanup second",
	}, runner.snapshot())

	require.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestJobQueue_PanicBecomesErrorAndQueueContinues(t *testing.T) {
	runner := &fakeRunner{panicOn: "bad"}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	bad := newJob(t, "bad")
	require.NoError(t, q.Enqueue(bad))
	require.NoError(t, q.Enqueue(newJob(t, "good")))
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	assert.Equal(t, []string{"bad", "good"}, notifier.waitFor(t, 2))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, models.OutcomeError, notifier.outcomes["bad"].Kind)
	assert.Contains(t, notifier.outcomes["bad"].Message, "tab crashed")
	assert.Equal(t, "prompt for bad", notifier.outcomes["bad"].Prompt)
	assert.Equal(t, models.OutcomeSuccess, notifier.outcomes["good"].Kind)

	assert.NoFileExists(t, bad.InputPath, "input removed even when the runner panicked")
}

func TestJobQueue_RecordsHistory(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	storage := newMemoryStorage()
	q := newTestQueue(runner, notifier, storage)

	job := newJob(t, "a")
	require.NoError(t, q.Enqueue(job))

	queued, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, queued.Status)

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())
	notifier.waitFor(t, 1)

	record, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, record.Status)
	require.NotNil(t, record.Outcome)
	assert.Equal(t, "https://img/a", record.Outcome.ArtifactURL)
	assert.False(t, record.StartedAt.IsZero())
	assert.False(t, record.FinishedAt.IsZero())
}

func TestJobQueue_SlowQueuedWriteDoesNotOverwriteFinalStatus(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	storage := newMemoryStorage()
	storage.queuedDelay = 200 * time.Millisecond
	q := newTestQueue(runner, notifier, storage)

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	job := newJob(t, "a")
	require.NoError(t, q.Enqueue(job))
	notifier.waitFor(t, 1)

	record, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, record.Status)
}

func TestJobQueue_StopDuringQueuedWriteRecordsError(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	storage := newMemoryStorage()
	q := newTestQueue(runner, notifier, storage)

	var once sync.Once
	storage.onQueued = func() {
		once.Do(func() { require.NoError(t, q.Stop(context.Background())) })
	}

	job := newJob(t, "a")
	assert.ErrorIs(t, q.Enqueue(job), ErrQueueClosed)
	assert.Equal(t, 0, q.Size())
	assert.Empty(t, runner.snapshot())

	record, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, record.Status)
}

func TestJobQueue_StorageFailureDoesNotStopJob(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	storage := newMemoryStorage()
	storage.err = errors.New("disk full")
	q := newTestQueue(runner, notifier, storage)

	require.NoError(t, q.Enqueue(newJob(t, "a")))
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	assert.Equal(t, []string{"a"}, notifier.waitFor(t, 1))
}

func TestJobQueue_EnqueueValidation(t *testing.T) {
	q := newTestQueue(&fakeRunner{}, newFakeNotifier(), nil)

	assert.Error(t, q.Enqueue(nil))

	job := models.NewJob("", "a.png", "p", "")
	assert.Error(t, q.Enqueue(job), "input path required")

	job = models.NewJob("/tmp/a.png", "a.png", "p", "not-an-email")
	assert.Error(t, q.Enqueue(job))

	assert.Equal(t, 0, q.Size())
}

func TestJobQueue_StopDrainsPendingWithCancelledContext(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	require.NoError(t, q.Start())
	require.NoError(t, q.Enqueue(newJob(t, "first")))
	require.NoError(t, q.Enqueue(newJob(t, "second")))

	require.Eventually(t, func() bool {
		return len(runner.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.closed
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, q.Enqueue(newJob(t, "late")), ErrQueueClosed)

	close(runner.block)
	require.NoError(t, <-stopped)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, notifier.order)
	assert.Equal(t, models.OutcomeError, notifier.outcomes["second"].Kind)
	assert.Equal(t, []bool{true, true}, notifier.ctxLive, "notifications are not cut short by shutdown")
	assert.Equal(t, 0, q.Size())
}

func TestJobQueue_StopBeforeStart(t *testing.T) {
	runner := &fakeRunner{}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	require.NoError(t, q.Enqueue(newJob(t, "a")))
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, []string{"a"}, notifier.order)
	assert.Equal(t, models.OutcomeError, notifier.outcomes["a"].Kind)
	assert.ErrorIs(t, q.Start(), ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(newJob(t, "b")), ErrQueueClosed)
}

func TestJobQueue_ActiveInputs(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	notifier := newFakeNotifier()
	q := newTestQueue(runner, notifier, nil)

	first := newJob(t, "first")
	second := newJob(t, "second")
	require.NoError(t, q.Enqueue(first))
	require.NoError(t, q.Enqueue(second))
	require.NoError(t, q.Start())

	require.Eventually(t, func() bool {
		return len(runner.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{first.InputPath, second.InputPath}, q.ActiveInputs())

	close(runner.block)
	notifier.waitFor(t, 2)
	require.NoError(t, q.Stop(context.Background()))
	assert.Empty(t, q.ActiveInputs())
}
