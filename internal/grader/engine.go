// Package grader runs one exercise over an ordered batch of messages: each
// message is tested against its type's field expectations, scored, and
// folded into its sender's summary. Once the batch is exhausted, invalid
// locations are backfilled with synthetic coordinates.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/exercise"
	"github.com/ashita-ai/hyoka/internal/location"
	"github.com/ashita-ai/hyoka/internal/model"
	"github.com/ashita-ai/hyoka/internal/policy"
	"github.com/ashita-ai/hyoka/internal/service/aggregate"
	"github.com/ashita-ai/hyoka/internal/service/fieldtest"
	"github.com/ashita-ai/hyoka/internal/telemetry"
)

// Counter labels maintained by the engine itself.
const (
	PointsLabel     = "points"
	TypesLabel      = "message types"
	UnexpectedLabel = "unexpected types"
	defaultAutoFail = "automatic fail"
	instrumentScope = "hyoka/grader"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	seed     *int64
	counters *counter.Set
}

// WithSeed fixes the location jitter seed, overriding the exercise file.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = &seed }
}

// WithCounters records tallies into an existing set instead of a fresh one.
func WithCounters(set *counter.Set) Option {
	return func(o *options) { o.counters = set }
}

// Engine grades one run. It is not safe for concurrent use; Run may be
// called once per Engine.
type Engine struct {
	ex     *exercise.Exercise
	logger *slog.Logger

	checker   policy.Checker
	counters  *counter.Set
	tests     *fieldtest.Service
	agg       *aggregate.Aggregator
	sanitizer *location.Sanitizer

	points  map[string]int
	graded  int
	skipped int

	tracer       trace.Tracer
	gradedCount  metric.Int64Counter
	skippedCount metric.Int64Counter
	failedFields metric.Int64Counter
	pointsHist   metric.Int64Histogram
}

// New validates ex and builds an Engine for it. A configuration error is
// returned before any message is looked at.
func New(ex *exercise.Exercise, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if ex == nil {
		return nil, fmt.Errorf("grader: %w: nil exercise", exercise.ErrInvalidConfig)
	}
	if err := ex.Validate(); err != nil {
		return nil, fmt.Errorf("grader: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	counters := o.counters
	if counters == nil {
		counters = counter.NewSet()
	}
	counters.SetOrder(PointsLabel, counter.ByKeyDesc)
	for _, c := range ex.Counters {
		order, _ := counter.ParseOrder(c.Order)
		counters.SetOrder(c.Label, order)
	}

	var aggOpts []aggregate.Option
	if !ex.MarkPerfect() {
		aggOpts = append(aggOpts, aggregate.WithoutPerfectMarker())
	}

	sanOpts := []location.Option{location.WithCenter(ex.Location.Center)}
	if ex.Location.RadiusKm != nil {
		sanOpts = append(sanOpts, location.WithRadiusKm(*ex.Location.RadiusKm))
	}
	switch {
	case o.seed != nil:
		sanOpts = append(sanOpts, location.WithSeed(*o.seed))
	case ex.Location.Seed != nil:
		sanOpts = append(sanOpts, location.WithSeed(*ex.Location.Seed))
	}

	checker := policy.Checker{Placeholders: ex.Placeholders}
	e := &Engine{
		ex:        ex,
		logger:    logger.With("exercise", ex.ID),
		checker:   checker,
		counters:  counters,
		tests:     fieldtest.New(checker, counters),
		agg:       aggregate.New(ex.Merge(), aggOpts...),
		sanitizer: location.New(sanOpts...),
		points:    make(map[string]int),
		tracer:    telemetry.Tracer(instrumentScope),
	}
	e.registerMetrics()
	return e, nil
}

func (e *Engine) registerMetrics() {
	meter := telemetry.Meter(instrumentScope)
	e.gradedCount, _ = meter.Int64Counter("hyoka.messages.graded",
		metric.WithDescription("Messages graded against a known message type"))
	e.skippedCount, _ = meter.Int64Counter("hyoka.messages.skipped",
		metric.WithDescription("Messages skipped because no rules cover their type"))
	e.failedFields, _ = meter.Int64Counter("hyoka.fields.failed",
		metric.WithDescription("Field expectations that failed"))
	e.pointsHist, _ = meter.Int64Histogram("hyoka.message.points",
		metric.WithDescription("Final score per graded message"),
		metric.WithExplicitBucketBoundaries(0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100))
}

// Graded is the outcome of one processed message.
type Graded struct {
	MessageID    string
	Sender       string
	Type         string
	Points       int
	AutoFail     bool
	Perfect      bool
	Explanations []string
	Outcomes     []model.TestOutcome
}

// Process grades one message and folds it into its sender's summary. It
// reports false when the message type has no rules; such messages are
// counted under "unexpected types" and otherwise ignored.
func (e *Engine) Process(ctx context.Context, msg model.Message) (Graded, bool) {
	attrs := metric.WithAttributes(attribute.String("type", msg.Type))
	rules, ok := e.ex.Rules(msg.Type)
	if !ok {
		e.skipped++
		e.counters.Inc(UnexpectedLabel, msg.Type)
		e.skippedCount.Add(ctx, 1, attrs)
		e.logger.Info("skipping message of unexpected type",
			"message_id", msg.ID, "from", msg.From, "type", msg.Type)
		return Graded{}, false
	}

	e.tests.Reset(rules.Prefix)
	outcomes := e.tests.TestMessage(rules.Fields, msg)
	points, autoFail := e.score(rules, msg, outcomes)

	e.counters.Inc(TypesLabel, rules.Type)
	e.counters.Inc(PointsLabel, strconv.Itoa(points))

	explanations := e.tests.Explanations()
	p := e.agg.BeginMessage(msg.From, rules.Prefix)
	p.Fold(msg, explanations, points)
	perfect := p.EndMessage(msg.ID)

	e.graded++
	e.points[msg.ID] = points
	e.gradedCount.Add(ctx, 1, attrs)
	if failed := e.tests.FailCount(); failed > 0 {
		e.failedFields.Add(ctx, int64(failed), attrs)
	}
	e.pointsHist.Record(ctx, int64(points), attrs)

	e.logger.Debug("graded message",
		"message_id", msg.ID, "from", msg.From, "type", rules.Type,
		"points", points, "findings", len(explanations), "perfect", perfect)

	return Graded{
		MessageID:    msg.ID,
		Sender:       msg.From,
		Type:         rules.Type,
		Points:       points,
		AutoFail:     autoFail,
		Perfect:      perfect,
		Explanations: explanations,
		Outcomes:     outcomes,
	}, true
}

// score applies the type's adjustments to the summed weights of the
// current message and returns the final score.
func (e *Engine) score(rules *exercise.TypeRules, msg model.Message, outcomes []model.TestOutcome) (int, bool) {
	base := e.tests.Points()
	bonus := 0
	autoFail := false
	for _, adj := range rules.Adjustments {
		if !e.holds(adj.When, msg, outcomes) {
			continue
		}
		switch adj.Kind {
		case exercise.Bonus:
			bonus += adj.Points
		case exercise.AutoFail:
			autoFail = true
			text := adj.Explanation
			if text == "" {
				text = defaultAutoFail
			}
			e.tests.AddExplanation(text)
		}
	}

	if e.ex.ScoreOrder == exercise.FailThenClamp {
		if autoFail {
			base = 0
		}
		return fieldtest.Clamp(base + bonus), autoFail
	}
	points := fieldtest.Clamp(base + bonus)
	if autoFail {
		points = 0
	}
	return points, autoFail
}

// holds evaluates an adjustment condition without touching counters or
// explanations.
func (e *Engine) holds(c exercise.Condition, msg model.Message, outcomes []model.TestOutcome) bool {
	if c.Failed != "" {
		for _, o := range outcomes {
			if o.Key == c.Failed && !o.OK {
				return true
			}
		}
		return false
	}
	return e.checker.Evaluate(c.Expectation(), msg.Field(c.Field)).OK
}

// Result is the finalized output of a run.
type Result struct {
	Summaries []model.ParticipantSummary
	Counters  *counter.Set
	// Sanitized lists the senders whose location was replaced by a
	// synthetic coordinate, in first-seen order.
	Sanitized []string
	// Points maps message id to final score.
	Points   map[string]int
	Messages int
	Skipped  int
	Correct  int
}

// Run grades msgs in order and finalizes the summaries. The context is
// checked between messages; a cancelled run returns no partial result.
func (e *Engine) Run(ctx context.Context, msgs []model.Message) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "grader.Run",
		trace.WithAttributes(attribute.String("exercise", e.ex.ID), attribute.Int("messages", len(msgs))))
	defer span.End()

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("grader: run: %w", err)
		}
		e.Process(ctx, msg)
	}

	sanitized := e.sanitize(ctx)
	res := &Result{
		Summaries: e.agg.Summaries(),
		Counters:  e.counters,
		Sanitized: sanitized,
		Points:    e.points,
		Messages:  e.graded,
		Skipped:   e.skipped,
		Correct:   e.agg.CorrectCount(),
	}
	span.SetAttributes(
		attribute.Int("participants", len(res.Summaries)),
		attribute.Int("correct", res.Correct),
		attribute.Int("skipped", res.Skipped),
	)
	e.logger.Info("graded exercise",
		"participants", len(res.Summaries), "correct", res.Correct,
		"messages", res.Messages, "skipped", res.Skipped, "sanitized", len(sanitized))
	return res, nil
}

// sanitize backfills every sender without a valid location.
func (e *Engine) sanitize(ctx context.Context) []string {
	_, span := e.tracer.Start(ctx, "grader.sanitize")
	defer span.End()

	var bad []string
	for _, sender := range e.agg.Senders() {
		if p, ok := e.agg.Participant(sender); ok && !p.HasValidLocation() {
			bad = append(bad, sender)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	for sender, loc := range e.sanitizer.Sanitize(bad) {
		p, _ := e.agg.Participant(sender)
		p.SetSyntheticLocation(loc)
	}
	span.SetAttributes(attribute.Int("sanitized", len(bad)))
	return bad
}

// Counters returns the run's counter set.
func (e *Engine) Counters() *counter.Set { return e.counters }

// Aggregator exposes the per-sender state, mainly for tests and reduction
// across engines.
func (e *Engine) Aggregator() *aggregate.Aggregator { return e.agg }
