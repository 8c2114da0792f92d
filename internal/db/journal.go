package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"iotc-agent/internal/command"
	"iotc-agent/internal/model"
)

const (
	defaultJournalKeep = 1000
	journalTimeout     = 5 * time.Second
)

// Journal records every handled command. Its Record method is a
// command.ResultListener.
type Journal struct {
	exec     execer
	query    querier
	deviceID string
	keep     int
	stats    *InsertStats
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewJournal builds a Journal on the manager's pool.
func NewJournal(mgr *DBManager, deviceID string, logger *zap.SugaredLogger) *Journal {
	pool := mgr.Pool()
	return newJournal(pool, pool, deviceID, logger)
}

func newJournal(ex execer, q querier, deviceID string, logger *zap.SugaredLogger) *Journal {
	return &Journal{
		exec:     ex,
		query:    q,
		deviceID: deviceID,
		keep:     defaultJournalKeep,
		stats:    &InsertStats{},
		now:      time.Now,
		logger:   logger,
	}
}

func (j *Journal) Init(ctx context.Context) error {
	return EnsureJournalTable(ctx, j.exec)
}

// Record writes the outcome of msg. Failures are logged and counted, never
// returned to the worker.
func (j *Journal) Record(msg model.CommandMessage, res command.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	token, _ := msg.AckToken()
	rec := CommandRecord{
		DeviceID:      j.deviceID,
		Command:       res.Name,
		Args:          res.Args,
		State:         res.State.String(),
		ExitCode:      res.ExitCode,
		Message:       res.Message,
		AckID:         token,
		CorrelationID: msg.CorrelationID(),
		FinishedAt:    j.now().UTC(),
	}
	if err := InsertCommandResult(ctx, j.exec, rec, j.logger); err != nil {
		j.stats.IncrementFailed()
		return
	}
	j.stats.IncrementInserted()
}

// Recent returns the newest journal rows.
func (j *Journal) Recent(ctx context.Context, limit int) ([]CommandRecord, error) {
	return SelectRecentCommands(ctx, j.query, limit)
}

func (j *Journal) Stats() *InsertStats {
	return j.stats
}

// Run prunes the journal and logs a summary periodically until ctx is done.
func (j *Journal) Run(ctx context.Context) error {
	go j.stats.RunSummary(ctx, 30*time.Minute, j.logger)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := PruneJournal(ctx, j.exec, j.keep)
			if err != nil {
				j.logger.Warnw("cleanup failed", "error", err)
				continue
			}
			j.logger.Debugw("command journal pruned", "deleted", n)
		}
	}
}
