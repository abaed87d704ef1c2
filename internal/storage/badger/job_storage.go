package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DefaultListLimit bounds ListJobs when no limit is given
const DefaultListLimit = 50

// JobStorage persists job history records
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob inserts or replaces the record
func (s *JobStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

// ListJobs returns the most recent records first
func (s *JobStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse().Limit(limit)

	var records []models.JobRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.JobRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// MarkInterrupted closes out records left queued or running by a previous
// process. Their uploads are gone with the old queue, so they end as errors.
func (s *JobStorage) MarkInterrupted(ctx context.Context) (int, error) {
	var stale []models.JobRecord
	query := badgerhold.Where("Status").In(models.JobStatusQueued, models.JobStatusRunning)
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find interrupted jobs: %w", err)
	}

	now := time.Now()
	for i := range stale {
		record := &stale[i]
		outcome := models.ErrorOutcome("interrupted by service restart", record.Prompt)
		record.Status = outcome.Status()
		record.Outcome = &outcome
		record.FinishedAt = now

		if err := s.SaveJob(ctx, record); err != nil {
			return i, err
		}
	}

	if len(stale) > 0 {
		s.logger.Warn().Int("count", len(stale)).Msg("Marked interrupted jobs as failed")
	}
	return len(stale), nil
}
