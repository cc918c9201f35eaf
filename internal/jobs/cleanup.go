package jobs

import (
	"log/slog"
	"time"

	"revivalmetrics/internal/config"
	"revivalmetrics/internal/database"
	"revivalmetrics/internal/events"
)

// CleanupJob prunes raw pageviews and events past the retention
// window. Daily rollups keep the historical totals, so this is pure
// data minimization.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.RawEventsRetentionDays
	if retentionDays <= 0 {
		j.logger.Debug("Raw event retention disabled, skipping cleanup")
		return nil
	}

	db := j.dbManager.GetConnection()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old raw events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := events.DeleteOlderThan(db, j.logger, cutoff, 1000)
	if err != nil {
		j.logger.Error("Failed to delete old raw events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted > 0 {
		j.logger.Info("Cleaned up old raw events",
			slog.Int64("deleted_count", deleted),
			slog.Int("retention_days", retentionDays))
	}
	return nil
}
