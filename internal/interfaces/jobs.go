package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/ghibliflow/internal/models"
)

// JobRunner executes one job to a terminal outcome. Implementations never
// return without an outcome and own cleanup of the job's input file.
type JobRunner interface {
	Process(ctx context.Context, job *models.Job) models.Outcome
}

// JobEnqueuer is the request layer's view of the queue
type JobEnqueuer interface {
	Enqueue(job *models.Job) error
	Size() int
}

// Notifier routes job events to notification channels. Failures are
// absorbed; callers never see an error.
type Notifier interface {
	Started(ctx context.Context, job *models.Job, backlog int)
	Notify(ctx context.Context, job *models.Job, outcome models.Outcome)
}

// ErrJobNotFound is returned by JobStorage.GetJob for unknown IDs
var ErrJobNotFound = errors.New("job not found")

// JobStorage persists job history
type JobStorage interface {
	SaveJob(ctx context.Context, record *models.JobRecord) error
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)
}
