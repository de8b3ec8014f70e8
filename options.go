package hyoka

import (
	"io"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger       *slog.Logger
	version      string
	exercisePath string
	exerciseYAML []byte
	inputPath    string
	source       MessageSource
	databaseURL  string
	csvPath      string
	textfilePath string
	outboxPath   string
	language     string
	seed         *int64
	reportOut    io.Writer
	tableWriters []TableWriter
	outboxes     []Outbox
	hooks        []RunHook
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExercisePath overrides the exercise file from config (HYOKA_EXERCISE env var).
func WithExercisePath(path string) Option {
	return func(o *resolvedOptions) { o.exercisePath = path }
}

// WithExerciseYAML supplies the exercise definition directly. It takes
// precedence over any exercise path.
func WithExerciseYAML(data []byte) Option {
	return func(o *resolvedOptions) { o.exerciseYAML = data }
}

// WithInputPath overrides the message file from config (HYOKA_INPUT env var).
// "-" reads stdin.
func WithInputPath(path string) Option {
	return func(o *resolvedOptions) { o.inputPath = path }
}

// WithSource replaces the file-based message source.
func WithSource(src MessageSource) Option {
	return func(o *resolvedOptions) { o.source = src }
}

// WithDatabaseURL overrides the run store from config (HYOKA_DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithCSVPath writes the tabular report as CSV to path (HYOKA_REPORT_CSV env var).
func WithCSVPath(path string) Option {
	return func(o *resolvedOptions) { o.csvPath = path }
}

// WithTextfilePath writes counter gauges in Prometheus text format to path
// (HYOKA_PROM_TEXTFILE env var).
func WithTextfilePath(path string) Option {
	return func(o *resolvedOptions) { o.textfilePath = path }
}

// WithOutboxPath writes feedback envelopes as NDJSON to path (HYOKA_OUTBOX env var).
func WithOutboxPath(path string) Option {
	return func(o *resolvedOptions) { o.outboxPath = path }
}

// WithLanguage sets the BCP 47 tag used to format report numbers
// (HYOKA_LANGUAGE env var).
func WithLanguage(tag string) Option {
	return func(o *resolvedOptions) { o.language = tag }
}

// WithSeed fixes the location jitter so reruns place synthetic coordinates
// identically (HYOKA_SEED env var).
func WithSeed(seed int64) Option {
	return func(o *resolvedOptions) { o.seed = &seed }
}

// WithReportWriter sends the text report to w instead of the path from
// config (HYOKA_REPORT_TEXT env var).
func WithReportWriter(w io.Writer) Option {
	return func(o *resolvedOptions) { o.reportOut = w }
}

// WithTableWriter registers an additional receiver of the tabular report.
func WithTableWriter(w TableWriter) Option {
	return func(o *resolvedOptions) { o.tableWriters = append(o.tableWriters, w) }
}

// WithOutbox registers an additional receiver of feedback envelopes.
func WithOutbox(ob Outbox) Option {
	return func(o *resolvedOptions) { o.outboxes = append(o.outboxes, ob) }
}

// WithRunHook registers a hook notified after each run.
func WithRunHook(h RunHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, h) }
}
