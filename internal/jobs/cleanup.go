package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"funneltrack/internal/settings"
)

// DefaultBatchSize is how many rows a single cleanup delete removes.
const DefaultBatchSize = 1000

// CleanupResult summarizes one cleanup run.
type CleanupResult struct {
	RetentionDays   int       `json:"retention_days"`
	Cutoff          time.Time `json:"cutoff"`
	EventsDeleted   int64     `json:"events_deleted"`
	ConsentsDeleted int64     `json:"consents_deleted"`
}

// CleanupJob removes tracking events older than the retention window and
// consent records past their expiry.
type CleanupJob struct {
	db                   *gorm.DB
	logger               *slog.Logger
	defaultRetentionDays int
	batchSize            int
	batchPause           time.Duration
	now                  func() time.Time
}

func NewCleanupJob(db *gorm.DB, logger *slog.Logger, defaultRetentionDays int) *CleanupJob {
	if defaultRetentionDays <= 0 {
		defaultRetentionDays = settings.DefaultRetentionDays
	}
	return &CleanupJob{
		db:                   db,
		logger:               logger,
		defaultRetentionDays: defaultRetentionDays,
		batchSize:            DefaultBatchSize,
		batchPause:           100 * time.Millisecond,
		now:                  time.Now,
	}
}

// retentionDays reads the data_retention_days setting, falling back to the
// configured default when settings cannot be read.
func (j *CleanupJob) retentionDays() int {
	loaded, err := settings.Load(j.db)
	if err != nil {
		j.logger.Warn("Failed to load retention setting, using default",
			slog.Int("retention_days", j.defaultRetentionDays),
			slog.Any("error", err))
		return j.defaultRetentionDays
	}
	return loaded.DataRetentionDays
}

// Run performs one cleanup pass. Running it twice in a row deletes nothing
// the second time.
func (j *CleanupJob) Run(ctx context.Context) (*CleanupResult, error) {
	retentionDays := j.retentionDays()
	now := j.now().UTC()
	cutoff := now.AddDate(0, 0, -retentionDays)

	result := &CleanupResult{RetentionDays: retentionDays, Cutoff: cutoff}

	j.logger.Info("Starting retention cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := j.deleteInBatches(ctx, "tracking_events", "created_at < ?", cutoff)
	result.EventsDeleted = deleted
	if err != nil {
		return result, fmt.Errorf("failed to delete old tracking events: %w", err)
	}

	deleted, err = j.deleteInBatches(ctx, "consent_records", "expires_at < ?", now)
	result.ConsentsDeleted = deleted
	if err != nil {
		return result, fmt.Errorf("failed to delete expired consent records: %w", err)
	}

	j.logger.Info("Retention cleanup finished",
		slog.Int64("events_deleted", result.EventsDeleted),
		slog.Int64("consents_deleted", result.ConsentsDeleted),
		slog.Int("retention_days", retentionDays))

	return result, nil
}

// deleteInBatches deletes matching rows batchSize at a time so the write
// lock is released between batches.
func (j *CleanupJob) deleteInBatches(ctx context.Context, table, condition string, arg interface{}) (int64, error) {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE %s LIMIT ?)",
		table, table, condition)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var affected int64
		err := sqlite.PerformWrite(j.logger, j.db.WithContext(ctx), func(tx *gorm.DB) error {
			res := tx.Exec(query, arg, j.batchSize)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			j.logger.Error("Failed to delete batch",
				slog.String("table", table),
				slog.Int64("deleted_so_far", total),
				slog.Any("error", err))
			return total, err
		}

		total += affected
		if affected < int64(j.batchSize) {
			return total, nil
		}

		if j.batchPause > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(j.batchPause):
			}
		}
	}
}
