// Package hyoka is the public API for embedding the exercise grader.
//
// A run reads parsed exercise-report messages, checks every message against
// the exercise's field expectations, folds the results into one summary per
// sender and writes the outputs: a text report, the participant table,
// feedback envelopes, an optional Prometheus textfile and an optional stored
// run record.
//
//	app, err := hyoka.New(
//	    hyoka.WithLogger(logger),
//	    hyoka.WithExercisePath("eto.yaml"),
//	    hyoka.WithSource(mySource),
//	    hyoka.WithOutbox(myMailer),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: hyoka (root) imports
// internal/*, but internal/* never imports hyoka (root). Public types are
// standalone structs; conversion helpers live here because this is the only
// file that sees both sides of the boundary.
package hyoka

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/ashita-ai/hyoka/internal/config"
	"github.com/ashita-ai/hyoka/internal/exercise"
	"github.com/ashita-ai/hyoka/internal/grader"
	"github.com/ashita-ai/hyoka/internal/integrity"
	"github.com/ashita-ai/hyoka/internal/model"
	"github.com/ashita-ai/hyoka/internal/report"
	"github.com/ashita-ai/hyoka/internal/service/feedback"
	"github.com/ashita-ai/hyoka/internal/source"
	"github.com/ashita-ai/hyoka/internal/storage"
	"github.com/ashita-ai/hyoka/internal/telemetry"
	"github.com/ashita-ai/hyoka/migrations"
)

// ErrInvalidConfig is wrapped by every configuration error: environment,
// options or exercise file. Such errors surface from New before any message
// is read.
var ErrInvalidConfig = exercise.ErrInvalidConfig

// App is one configured grading run. Construct with New(), run with Run(),
// release with Close().
type App struct {
	cfg      config.Config
	ex       *exercise.Exercise
	tag      language.Tag
	composer *feedback.Composer
	load     func(ctx context.Context) ([]model.Message, error)

	db           *storage.DB // nil when no database is configured
	reportOut    io.Writer
	tableWriters []TableWriter
	outboxes     []Outbox
	hooks        []RunHook

	otelShutdown telemetry.Shutdown
	tracer       trace.Tracer
	logger       *slog.Logger
	version      string
}

// New loads configuration and the exercise, connects the optional run store
// and returns a ready-to-run App. It reads no messages; call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	// Load .env file if present (non-fatal; most runs won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	applyOverrides(&cfg, &o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	tag, _ := cfg.Tag()

	var ex *exercise.Exercise
	if o.exerciseYAML != nil {
		ex, err = exercise.Parse(o.exerciseYAML)
	} else {
		ex, err = exercise.Load(cfg.ExercisePath)
	}
	if err != nil {
		if !errors.Is(err, ErrInvalidConfig) {
			err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil, err
	}

	composer, err := feedback.New(feedback.Config{
		ExerciseID:      ex.ID,
		ExerciseName:    ex.DisplayName(),
		SubjectTemplate: ex.Feedback.Subject,
		Preamble:        ex.Feedback.Preamble,
		Postscript:      ex.Feedback.Postscript,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	logger = logger.With("exercise", ex.ID)
	logger.Info("hyoka starting", "version", version, "input", cfg.InputPath)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(ctx)
			return nil, err
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	a := &App{
		cfg:          cfg,
		ex:           ex,
		tag:          tag,
		composer:     composer,
		db:           db,
		reportOut:    o.reportOut,
		tableWriters: o.tableWriters,
		outboxes:     o.outboxes,
		hooks:        o.hooks,
		otelShutdown: otelShutdown,
		tracer:       telemetry.Tracer("hyoka"),
		logger:       logger,
		version:      version,
	}
	if o.source != nil {
		a.load = func(ctx context.Context) ([]model.Message, error) {
			msgs, err := o.source.Messages(ctx)
			if err != nil {
				return nil, fmt.Errorf("source: %w", err)
			}
			return toModelMessages(msgs), nil
		}
	} else {
		a.load = source.File{Path: cfg.InputPath}.Messages
	}
	return a, nil
}

func applyOverrides(cfg *config.Config, o *resolvedOptions) {
	if o.exerciseYAML != nil {
		cfg.ExercisePath = "(inline)"
	}
	if o.exercisePath != "" {
		cfg.ExercisePath = o.exercisePath
	}
	if o.inputPath != "" {
		cfg.InputPath = o.inputPath
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.csvPath != "" {
		cfg.ReportCSVPath = o.csvPath
	}
	if o.textfilePath != "" {
		cfg.TextfilePath = o.textfilePath
	}
	if o.outboxPath != "" {
		cfg.OutboxPath = o.outboxPath
	}
	if o.language != "" {
		cfg.Language = o.language
	}
	if o.seed != nil {
		cfg.Seed = o.seed
	}
}

// Exercise returns the id of the loaded exercise.
func (a *App) Exercise() string { return a.ex.ID }

// gradedRun carries internal results between grading and output.
type gradedRun struct {
	result    Result
	engine    *grader.Result
	reportRow []model.ReportRow
	envelopes []model.Envelope
}

// Grade reads and grades the messages and composes every output in memory.
// It writes nothing.
func (a *App) Grade(ctx context.Context) (Result, error) {
	g, err := a.grade(ctx)
	if err != nil {
		return Result{}, err
	}
	return g.result, nil
}

func (a *App) grade(ctx context.Context) (*gradedRun, error) {
	ctx, span := a.tracer.Start(ctx, "hyoka.grade")
	defer span.End()

	msgs, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("messages loaded", "count", len(msgs))

	var engineOpts []grader.Option
	if a.cfg.Seed != nil {
		engineOpts = append(engineOpts, grader.WithSeed(*a.cfg.Seed))
	}
	engine, err := grader.New(a.ex, a.logger, engineOpts...)
	if err != nil {
		return nil, err
	}
	res, err := engine.Run(ctx, msgs)
	if err != nil {
		return nil, err
	}

	envelopes, err := a.composer.Envelopes(res.Summaries)
	if err != nil {
		return nil, err
	}
	fp := integrity.Fingerprint(res.Summaries)
	rows := report.Rows(res.Summaries)
	emitter := report.New(res.Counters,
		report.WithLanguage(a.tag),
		report.WithFingerprint(fp),
		report.WithTitle(a.ex.DisplayName()),
	)

	span.SetAttributes(attribute.String("fingerprint", fp))
	return &gradedRun{
		result: Result{
			RunID:        uuid.New(),
			ExerciseID:   a.ex.ID,
			ExerciseName: a.ex.DisplayName(),
			Fingerprint:  fp,
			Participants: len(res.Summaries),
			Correct:      res.Correct,
			Messages:     res.Messages,
			Skipped:      res.Skipped,
			GradedAt:     time.Now().UTC(),
			Rows:         toPublicRows(rows),
			Envelopes:    toPublicEnvelopes(envelopes),
			Report:       emitter.Text(res.Summaries),
		},
		engine:    res,
		reportRow: rows,
		envelopes: envelopes,
	}, nil
}

// Run grades the messages and writes every configured output. Outputs are
// written concurrently; the first failure cancels the rest and is returned.
func (a *App) Run(ctx context.Context) error {
	_, err := a.RunResult(ctx)
	return err
}

// RunResult is Run that also returns the result.
func (a *App) RunResult(ctx context.Context) (Result, error) {
	g, err := a.grade(ctx)
	if err != nil {
		return Result{}, err
	}
	ctx, span := a.tracer.Start(ctx, "hyoka.emit")
	defer span.End()

	a.compareWithPrevious(ctx, g.result)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.writeReport(g.result.Report) })
	if a.cfg.ReportCSVPath != "" {
		eg.Go(func() error {
			return writeFile(a.cfg.ReportCSVPath, func(w io.Writer) error {
				return report.NewCSVWriter(w).WriteRows(gctx, g.reportRow)
			})
		})
	}
	for _, tw := range a.tableWriters {
		eg.Go(func() error {
			if err := tw.WriteRows(gctx, g.result.Rows); err != nil {
				return fmt.Errorf("table writer: %w", err)
			}
			return nil
		})
	}
	if a.cfg.OutboxPath != "" {
		eg.Go(func() error {
			return writeFile(a.cfg.OutboxPath, func(w io.Writer) error {
				return writeEnvelopes(w, g.result.Envelopes)
			})
		})
	}
	for _, ob := range a.outboxes {
		eg.Go(func() error {
			if err := ob.Enqueue(gctx, g.result.Envelopes); err != nil {
				return fmt.Errorf("outbox: %w", err)
			}
			return nil
		})
	}
	if a.cfg.TextfilePath != "" {
		eg.Go(func() error {
			exp, err := report.NewTextfileExporter(a.ex.ID, g.engine.Counters, g.engine.Summaries)
			if err != nil {
				return err
			}
			return exp.WriteFile(a.cfg.TextfilePath)
		})
	}
	if a.db != nil {
		eg.Go(func() error { return a.store(gctx, g) })
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	for _, h := range a.hooks {
		if err := h.OnRunGraded(ctx, g.result); err != nil {
			a.logger.Warn("run hook failed", "error", err)
		}
	}
	a.logger.Info("run complete",
		"run_id", g.result.RunID, "participants", g.result.Participants,
		"correct", g.result.Correct, "fingerprint", g.result.Fingerprint)
	return g.result, nil
}

// compareWithPrevious logs whether the stored previous run of the exercise
// produced the same fingerprint.
func (a *App) compareWithPrevious(ctx context.Context, res Result) {
	if a.db == nil {
		return
	}
	prev, err := a.db.LatestRun(ctx, a.ex.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		a.logger.Warn("could not load previous run", "error", err)
	case prev.Fingerprint == res.Fingerprint:
		a.logger.Info("results unchanged since previous run", "previous_run", prev.ID, "graded_at", prev.GradedAt)
	default:
		a.logger.Info("results changed since previous run", "previous_run", prev.ID,
			"previous_correct", prev.Correct, "correct", res.Correct)
	}
}

func (a *App) store(ctx context.Context, g *gradedRun) error {
	participants := make([]storage.Participant, len(g.reportRow))
	for i, row := range g.reportRow {
		s := g.engine.Summaries[i]
		participants[i] = storage.Participant{
			Row:               row,
			Points:            s.Points,
			MessageCount:      s.MessageCount,
			LocationSynthetic: s.LocationSynthetic,
		}
	}
	r := g.result
	_, err := a.db.SaveRun(ctx, storage.Run{
		ID:           r.RunID,
		ExerciseID:   r.ExerciseID,
		ExerciseName: r.ExerciseName,
		Fingerprint:  r.Fingerprint,
		Participants: r.Participants,
		Correct:      r.Correct,
		Messages:     r.Messages,
		Skipped:      r.Skipped,
		GradedAt:     r.GradedAt,
	}, participants, g.envelopes)
	return err
}

func (a *App) writeReport(text string) error {
	if a.reportOut != nil {
		_, err := io.WriteString(a.reportOut, text)
		return err
	}
	switch a.cfg.ReportTextPath {
	case "":
		return nil
	case "-":
		_, err := io.WriteString(os.Stdout, text)
		return err
	}
	return writeFile(a.cfg.ReportTextPath, func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
}

// writeFile creates path and hands a buffered writer to fn.
func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path) //nolint:gosec // operator-supplied output path
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return bw.Flush()
}

func writeEnvelopes(w io.Writer, envelopes []Envelope) error {
	enc := json.NewEncoder(w)
	for _, env := range envelopes {
		if err := enc.Encode(env); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the run store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}

func toModelMessages(in []Message) []model.Message {
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = model.Message{
			ID:     m.ID,
			From:   m.From,
			To:     m.To,
			Type:   m.Type,
			Date:   m.Date,
			Fields: m.Fields,
		}
		if m.Location != nil {
			out[i].Location = &model.LatLon{Lat: m.Location.Lat, Lon: m.Location.Lon}
		}
	}
	return out
}

func toPublicRows(in []model.ReportRow) []Row {
	out := make([]Row, len(in))
	for i, r := range in {
		out[i] = Row{
			From:          r.From,
			To:            r.To,
			Latitude:      r.Latitude,
			Longitude:     r.Longitude,
			Date:          r.Date,
			Time:          r.Time,
			FeedbackCount: r.FeedbackCount,
			Feedback:      r.FeedbackText,
		}
	}
	return out
}

func toPublicEnvelopes(in []model.Envelope) []Envelope {
	out := make([]Envelope, len(in))
	for i, e := range in {
		out[i] = Envelope{
			Recipient:     e.Recipient,
			Subject:       e.Subject,
			Body:          e.Body,
			CorrelationID: e.CorrelationID,
		}
	}
	return out
}
