package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hyoka/internal/model"
)

// Run is the stored record of one grading run.
type Run struct {
	ID           uuid.UUID
	ExerciseID   string
	ExerciseName string
	Fingerprint  string
	Participants int
	Correct      int
	Messages     int
	Skipped      int
	GradedAt     time.Time
}

// Participant is one stored report row plus the scoring detail behind it.
type Participant struct {
	Row               model.ReportRow
	Points            int
	MessageCount      int
	LocationSynthetic bool
}

// SaveRun stores a run, its participants and its feedback envelopes in one
// transaction. Envelopes land in the outbox undelivered. A zero run ID is
// replaced by a fresh one; the stored run is returned.
func (db *DB) SaveRun(ctx context.Context, run Run, participants []Participant, envelopes []model.Envelope) (Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.GradedAt.IsZero() {
		run.GradedAt = time.Now()
	}
	run.GradedAt = run.GradedAt.UTC()

	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.saveRun(ctx, run, participants, envelopes)
	})
	if err != nil {
		return Run{}, fmt.Errorf("storage: save run: %w", err)
	}
	db.logger.Info("stored run", "run_id", run.ID, "exercise", run.ExerciseID,
		"participants", len(participants), "outbox", len(envelopes))
	return run, nil
}

func (db *DB) saveRun(ctx context.Context, run Run, participants []Participant, envelopes []model.Envelope) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, db.rebind(
		`INSERT INTO runs (id, exercise_id, exercise_name, fingerprint, participants, correct, messages, skipped, graded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID.String(), run.ExerciseID, run.ExerciseName, run.Fingerprint,
		run.Participants, run.Correct, run.Messages, run.Skipped, formatTime(run.GradedAt),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := db.insertParticipants(ctx, tx, run.ID, participants); err != nil {
		return err
	}
	if err := db.insertOutbox(ctx, tx, run.ID, run.GradedAt, envelopes); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) insertParticipants(ctx context.Context, tx execer, runID uuid.UUID, participants []Participant) error {
	q := db.rebind(
		`INSERT INTO participants (run_id, position, sender, recipient, latitude, longitude, location_synthetic,
		   report_date, report_time, feedback_count, feedback, points, message_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, p := range participants {
		r := p.Row
		if _, err := tx.ExecContext(ctx, q,
			runID.String(), i, r.From, r.To, r.Latitude, r.Longitude, boolInt(p.LocationSynthetic),
			r.Date, r.Time, r.FeedbackCount, r.FeedbackText, p.Points, p.MessageCount,
		); err != nil {
			return fmt.Errorf("insert participant %s: %w", r.From, err)
		}
	}
	return nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := db.sql.QueryRowContext(ctx, db.rebind(
		`SELECT `+runColumns+` FROM runs WHERE id = ?`), id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run of an exercise.
func (db *DB) LatestRun(ctx context.Context, exerciseID string) (Run, error) {
	row := db.sql.QueryRowContext(ctx, db.rebind(
		`SELECT `+runColumns+` FROM runs WHERE exercise_id = ? ORDER BY graded_at DESC, id DESC LIMIT 1`), exerciseID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("storage: latest run of %s: %w", exerciseID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("storage: latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns an exercise's runs, newest first. An empty exerciseID
// lists every exercise.
func (db *DB) ListRuns(ctx context.Context, exerciseID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if exerciseID != "" {
		query += ` WHERE exercise_id = ?`
		args = append(args, exerciseID)
	}
	query += ` ORDER BY graded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.sql.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Participants returns a run's stored participants in report order.
func (db *DB) Participants(ctx context.Context, runID uuid.UUID) ([]Participant, error) {
	rows, err := db.sql.QueryContext(ctx, db.rebind(
		`SELECT sender, recipient, latitude, longitude, location_synthetic, report_date, report_time,
		        feedback_count, feedback, points, message_count
		 FROM participants WHERE run_id = ? ORDER BY position`), runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: list participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Participant
	for rows.Next() {
		var (
			p         Participant
			synthetic int
		)
		r := &p.Row
		if err := rows.Scan(&r.From, &r.To, &r.Latitude, &r.Longitude, &synthetic, &r.Date, &r.Time,
			&r.FeedbackCount, &r.FeedbackText, &p.Points, &p.MessageCount); err != nil {
			return nil, fmt.Errorf("storage: scan participant: %w", err)
		}
		p.LocationSynthetic = synthetic != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

const runColumns = `id, exercise_id, exercise_name, fingerprint, participants, correct, messages, skipped, graded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run      Run
		id       string
		gradedAt string
	)
	if err := s.Scan(&id, &run.ExerciseID, &run.ExerciseName, &run.Fingerprint,
		&run.Participants, &run.Correct, &run.Messages, &run.Skipped, &gradedAt); err != nil {
		return Run{}, err
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	if run.GradedAt, err = parseTime(gradedAt); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Timestamps are stored as fixed-width UTC text so both dialects compare
// them lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
