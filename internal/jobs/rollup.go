package jobs

import (
	"log/slog"
	"time"

	"revivalmetrics/internal/database"
	"revivalmetrics/internal/rollups"
)

// RollupJob recomputes the daily aggregates for today and yesterday.
// Yesterday is included so late heartbeats and end signals landing
// after midnight still count toward the right day.
type RollupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewRollupJob(dbManager *database.DBManager, logger *slog.Logger) *RollupJob {
	return &RollupJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

func (j *RollupJob) Run() error {
	db := j.dbManager.GetConnection()
	now := time.Now().UTC()

	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		if err := rollups.Recompute(db, j.logger, day); err != nil {
			return err
		}
	}
	return nil
}
