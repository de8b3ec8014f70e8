package hyoka

import "context"

// MessageSource supplies the messages of one run, already grouped by sender
// and type and in chronological order within each group. When provided via
// WithSource, replaces the file named by HYOKA_INPUT.
type MessageSource interface {
	Messages(ctx context.Context) ([]Message, error)
}

// TableWriter receives the tabular report. Multiple writers may be
// registered via WithTableWriter; each receives every row.
type TableWriter interface {
	WriteRows(ctx context.Context, rows []Row) error
}

// Outbox accepts feedback envelopes for delivery. Multiple outboxes may be
// registered via WithOutbox. Delivery itself happens outside the run.
type Outbox interface {
	Enqueue(ctx context.Context, envelopes []Envelope) error
}

// RunHook is notified after a run's outputs are written. Failures are
// logged but do not fail the run.
type RunHook interface {
	OnRunGraded(ctx context.Context, result Result) error
}
