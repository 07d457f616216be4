package audit

import (
	"context"
	"time"
)

// Store provides the read side of the audit trail
type Store interface {
	// Search retrieves audit events matching the filter
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)

	// GetStats retrieves audit trail statistics
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)

	// Export serializes matching events in the given format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes events older than the retention period and returns
	// how many were removed
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store on top of the database logger
type DBStore struct {
	logger   *DBLogger
	archiver *S3Archiver
}

// NewDBStore creates a database-backed audit store. The archiver is
// optional; with one configured, Cleanup uploads expiring events before
// deleting them.
func NewDBStore(logger *DBLogger, archiver *S3Archiver) *DBStore {
	return &DBStore{
		logger:   logger,
		archiver: archiver,
	}
}

// Search retrieves audit events matching the filter
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	return s.logger.Search(ctx, filter)
}

// GetStats retrieves audit trail statistics
func (s *DBStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	return s.logger.GetStats(ctx, startTime, endTime)
}

// Export serializes matching events in the given format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Export(events, format)
}

// Cleanup archives (when configured) and removes events older than the
// retention period
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -policy.RetentionDays)

	if policy.ArchiveEnabled && s.archiver != nil {
		expiring, err := s.logger.Search(ctx, SearchFilter{EndTime: &cutoff})
		if err != nil {
			return 0, err
		}
		if len(expiring) > 0 {
			if _, err := s.archiver.Archive(ctx, expiring); err != nil {
				// Keep the events until the archive succeeds.
				return 0, err
			}
		}
	}

	return s.logger.DeleteBefore(ctx, cutoff)
}
