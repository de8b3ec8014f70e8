package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hyoka/internal/model"
)

// OutboxEntry is a feedback envelope waiting for, or past, delivery.
type OutboxEntry struct {
	RunID       uuid.UUID
	Envelope    model.Envelope
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

func (db *DB) insertOutbox(ctx context.Context, tx execer, runID uuid.UUID, createdAt time.Time, envelopes []model.Envelope) error {
	q := db.rebind(
		`INSERT INTO outbox (run_id, correlation_id, recipient, subject, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	for _, env := range envelopes {
		if _, err := tx.ExecContext(ctx, q,
			runID.String(), env.CorrelationID.String(), env.Recipient, env.Subject, env.Body, formatTime(createdAt),
		); err != nil {
			return fmt.Errorf("insert outbox %s: %w", env.Recipient, err)
		}
	}
	return nil
}

// PendingOutbox returns undelivered envelopes, oldest first.
func (db *DB) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.sql.QueryContext(ctx, db.rebind(
		`SELECT run_id, correlation_id, recipient, subject, body, created_at
		 FROM outbox WHERE delivered_at IS NULL
		 ORDER BY created_at, recipient LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: pending outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutboxEntry
	for rows.Next() {
		var (
			e                    OutboxEntry
			runID, corr, created string
		)
		if err := rows.Scan(&runID, &corr, &e.Envelope.Recipient, &e.Envelope.Subject, &e.Envelope.Body, &created); err != nil {
			return nil, fmt.Errorf("storage: scan outbox: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("storage: parse outbox run id: %w", err)
		}
		if e.Envelope.CorrelationID, err = uuid.Parse(corr); err != nil {
			return nil, fmt.Errorf("storage: parse correlation id: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDelivered records delivery of one envelope. Marking an already
// delivered envelope is a no-op that still succeeds.
func (db *DB) MarkDelivered(ctx context.Context, runID, correlationID uuid.UUID, at time.Time) error {
	res, err := db.sql.ExecContext(ctx, db.rebind(
		`UPDATE outbox SET delivered_at = COALESCE(delivered_at, ?)
		 WHERE run_id = ? AND correlation_id = ?`),
		formatTime(at), runID.String(), correlationID.String())
	if err != nil {
		return fmt.Errorf("storage: mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark delivered: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage: outbox %s/%s: %w", runID, correlationID, ErrNotFound)
	}
	return nil
}

// OutboxEntries returns every envelope stored with a run.
func (db *DB) OutboxEntries(ctx context.Context, runID uuid.UUID) ([]OutboxEntry, error) {
	rows, err := db.sql.QueryContext(ctx, db.rebind(
		`SELECT correlation_id, recipient, subject, body, created_at, delivered_at
		 FROM outbox WHERE run_id = ? ORDER BY recipient`), runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: outbox entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutboxEntry
	for rows.Next() {
		var (
			e             OutboxEntry
			corr, created string
			delivered     sql.NullString
		)
		if err := rows.Scan(&corr, &e.Envelope.Recipient, &e.Envelope.Subject, &e.Envelope.Body, &created, &delivered); err != nil {
			return nil, fmt.Errorf("storage: scan outbox: %w", err)
		}
		e.RunID = runID
		if e.Envelope.CorrelationID, err = uuid.Parse(corr); err != nil {
			return nil, fmt.Errorf("storage: parse correlation id: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if delivered.Valid {
			t, err := parseTime(delivered.String)
			if err != nil {
				return nil, fmt.Errorf("storage: %w", err)
			}
			e.DeliveredAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
