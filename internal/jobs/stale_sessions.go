package jobs

import (
	"log/slog"
	"time"

	"revivalmetrics/internal/config"
	"revivalmetrics/internal/database"
	"revivalmetrics/internal/sessions"
)

// StaleSessionJob closes sessions that stopped sending heartbeats
// without an explicit end signal (tab killed, device offline).
type StaleSessionJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewStaleSessionJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *StaleSessionJob {
	return &StaleSessionJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

func (j *StaleSessionJob) Run() error {
	db := j.dbManager.GetConnection()
	cutoff := time.Now().UTC().Add(-time.Duration(j.cfg.GetSessionTimeout()) * time.Second)

	closed, err := sessions.CloseStale(db, j.logger, cutoff)
	if err != nil {
		j.logger.Error("Failed to close stale sessions", slog.Any("error", err))
		return err
	}

	if closed > 0 {
		j.logger.Info("Closed stale sessions",
			slog.Int64("count", closed),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
