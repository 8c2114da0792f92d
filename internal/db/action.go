package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// execer is the subset of pgxpool.Pool used for writes.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// querier is the subset of pgxpool.Pool used for reads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CommandRecord is one row of the command journal.
type CommandRecord struct {
	DeviceID      string    `json:"device_id"`
	Command       string    `json:"command"`
	Args          []string  `json:"args"`
	State         string    `json:"state"`
	ExitCode      int       `json:"exit_code"`
	Message       string    `json:"message"`
	AckID         string    `json:"ack_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

const createJournalSQL = `
	CREATE TABLE IF NOT EXISTS command_journal (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		command TEXT NOT NULL,
		args TEXT[] NOT NULL DEFAULT '{}',
		state TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		message TEXT NOT NULL,
		ack_id TEXT,
		correlation_id TEXT,
		finished_at TIMESTAMPTZ NOT NULL
	)
`

// EnsureJournalTable creates the journal table if needed.
func EnsureJournalTable(ctx context.Context, ex execer) error {
	if _, err := ex.Exec(ctx, createJournalSQL); err != nil {
		return fmt.Errorf("create command_journal: %w", err)
	}
	return nil
}

// InsertCommandResult appends rec to the command journal.
func InsertCommandResult(ctx context.Context, ex execer, rec CommandRecord, logger *zap.SugaredLogger) error {
	args := rec.Args
	if args == nil {
		args = []string{}
	}

	_, err := ex.Exec(ctx, `
		INSERT INTO command_journal
			(device_id, command, args, state, exit_code, message, ack_id, correlation_id, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.DeviceID, rec.Command, args, rec.State, rec.ExitCode, rec.Message,
		nullable(rec.AckID), nullable(rec.CorrelationID), rec.FinishedAt)

	if err != nil {
		logger.Errorw("failed to insert command_journal", "error", err, "command", rec.Command)
	}
	return err
}

// PruneJournal keeps only the newest keep rows.
func PruneJournal(ctx context.Context, ex execer, keep int) (int64, error) {
	tag, err := ex.Exec(ctx, `
		DELETE FROM command_journal
		WHERE id NOT IN (SELECT id FROM command_journal ORDER BY id DESC LIMIT $1)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune command_journal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SelectRecentCommands returns the newest journal rows, newest first.
func SelectRecentCommands(ctx context.Context, q querier, limit int) ([]CommandRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT device_id, command, args, state, exit_code, message,
			COALESCE(ack_id, ''), COALESCE(correlation_id, ''), finished_at
		FROM command_journal
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.DeviceID, &rec.Command, &rec.Args, &rec.State, &rec.ExitCode,
			&rec.Message, &rec.AckID, &rec.CorrelationID, &rec.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
