package grader

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/exercise"
	"github.com/ashita-ai/hyoka/internal/model"
	"github.com/ashita-ai/hyoka/internal/service/feedback"
)

const ics213 = `
id: eto-test
name: ETO Test
merge_policy: first_wins
types:
  - type: ics_213
    prefix: "ICS-213: "
    fields:
      - {key: subject, policy: specified, expected: "ETO Test", label: Subject, weight: 40}
      - {key: agency, policy: required_not, label: Agency, weight: 30}
      - {key: location, policy: required, label: Location, weight: 30}
      - {key: comments, policy: optional, label: Comments}
`

func mustExercise(t *testing.T, yaml string) *exercise.Exercise {
	t.Helper()
	ex, err := exercise.Parse([]byte(yaml))
	require.NoError(t, err)
	return ex
}

func mustEngine(t *testing.T, ex *exercise.Exercise, opts ...Option) *Engine {
	t.Helper()
	e, err := New(ex, nil, opts...)
	require.NoError(t, err)
	return e
}

var day = time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC)

func scenario() []model.Message {
	return []model.Message{
		{
			ID: "A1", From: "KA6AAA", To: "ETO-01", Type: "ics_213", Date: day,
			Location: &model.LatLon{Lat: 38.44, Lon: -122.71},
			Fields: map[string]string{
				"subject": "ETO Test", "agency": "Sonoma ACS", "location": "Santa Rosa",
			},
		},
		{
			ID: "B1", From: "KB6BBB", To: "ETO-01", Type: "ics_213", Date: day.Add(time.Minute),
			Location: &model.LatLon{Lat: 38.29, Lon: -122.46},
			Fields: map[string]string{
				"subject": "ETO Drill", "agency": "REQUIRED", "location": "Sonoma",
			},
		},
		{
			ID: "C1", From: "KC6CCC", To: "ETO-01", Type: "ics_213", Date: day.Add(2 * time.Minute),
			Fields: map[string]string{
				"subject": "ETO Test", "agency": "Petaluma CERT",
			},
		},
	}
}

func byFrom(summaries []model.ParticipantSummary) map[string]model.ParticipantSummary {
	out := make(map[string]model.ParticipantSummary, len(summaries))
	for _, s := range summaries {
		out[s.From] = s
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	e := mustEngine(t, mustExercise(t, ics213), WithSeed(7))

	res, err := e.Run(context.Background(), scenario())
	require.NoError(t, err)

	require.Len(t, res.Summaries, 3)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 3, res.Messages)
	assert.Zero(t, res.Skipped)

	got := byFrom(res.Summaries)

	a := got["KA6AAA"]
	assert.True(t, a.Correct())
	assert.Equal(t, 1, a.PerfectMessageCount)
	assert.Equal(t, []string{model.PerfectMessagePrefix + "A1"}, a.Explanations)
	assert.Equal(t, 100, res.Points["A1"])

	b := got["KB6BBB"]
	assert.False(t, b.Correct())
	require.Len(t, b.Findings(), 2)
	assert.Equal(t, `ICS-213: Subject: "ETO Drill", expected "ETO Test"`, b.Findings()[0])
	assert.True(t, strings.HasPrefix(b.Findings()[1], "ICS-213: Agency: "))
	assert.Equal(t, 30, res.Points["B1"])

	comp, err := feedback.New(feedback.Config{ExerciseID: "eto-test"})
	require.NoError(t, err)
	_, body, err := comp.Compose(b)
	require.NoError(t, err)
	var lines int
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "ICS-213: ") {
			lines++
		}
	}
	assert.Equal(t, 2, lines)

	c := got["KC6CCC"]
	assert.False(t, c.Correct())
	assert.Equal(t, []string{"ICS-213: Location: missing value"}, c.Findings())
	require.NotNil(t, c.Location)
	assert.True(t, c.LocationSynthetic)
	assert.NotEqual(t, model.LatLon{}, *c.Location)
	assert.True(t, c.Location.Valid())
	assert.Equal(t, []string{"KC6CCC"}, res.Sanitized)
}

func TestRun_Counters(t *testing.T) {
	e := mustEngine(t, mustExercise(t, ics213), WithSeed(1))
	msgs := append(scenario(), model.Message{ID: "X1", From: "KA6AAA", Type: "damage_assessment"})

	res, err := e.Run(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Messages)

	subject, ok := res.Counters.Lookup("Subject")
	require.True(t, ok)
	assert.Equal(t, 2, subject.Count("pass"))
	assert.Equal(t, 1, subject.Count("fail"))

	unexpected, ok := res.Counters.Lookup(UnexpectedLabel)
	require.True(t, ok)
	assert.Equal(t, 1, unexpected.Count("damage_assessment"))

	types, ok := res.Counters.Lookup(TypesLabel)
	require.True(t, ok)
	assert.Equal(t, 3, types.Count("ics_213"))

	points, ok := res.Counters.Lookup(PointsLabel)
	require.True(t, ok)
	assert.Equal(t, counter.ByKeyDesc, res.Counters.Order(PointsLabel))
	assert.Equal(t, []counter.Entry{{Key: "100", Count: 1}, {Key: "70", Count: 1}, {Key: "30", Count: 1}},
		points.Entries(counter.ByKeyDesc))

	// The unexpected message must not create or touch a participant
	// beyond what its graded messages did.
	a := byFrom(res.Summaries)["KA6AAA"]
	assert.Equal(t, 1, a.MessageCount)
}

func TestRun_UnexpectedTypeOnlySenderHasNoSummary(t *testing.T) {
	e := mustEngine(t, mustExercise(t, ics213), WithSeed(1))
	res, err := e.Run(context.Background(), []model.Message{{ID: "X1", From: "KZ6ZZZ", Type: "weather"}})
	require.NoError(t, err)
	assert.Empty(t, res.Summaries)
	assert.Zero(t, res.Correct)
	assert.Equal(t, 1, res.Skipped)
}

func TestRun_Idempotent(t *testing.T) {
	ex := mustExercise(t, ics213)

	run := func() *Result {
		res, err := mustEngine(t, ex, WithSeed(42)).Run(context.Background(), scenario())
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()

	if diff := cmp.Diff(first.Summaries, second.Summaries); diff != "" {
		t.Errorf("summaries differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Points, second.Points); diff != "" {
		t.Errorf("points differ between runs (-first +second):\n%s", diff)
	}
	for _, label := range first.Counters.Labels() {
		a, _ := first.Counters.Lookup(label)
		b, ok := second.Counters.Lookup(label)
		require.True(t, ok, label)
		if diff := cmp.Diff(a.Entries(counter.ByCountDesc), b.Entries(counter.ByCountDesc)); diff != "" {
			t.Errorf("counter %q differs (-first +second):\n%s", label, diff)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	e := mustEngine(t, mustExercise(t, ics213))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, scenario())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_MergePolicy(t *testing.T) {
	msgs := []model.Message{
		{ID: "1", From: "KA6AAA", To: "A", Type: "check_in", Date: day},
		{ID: "2", From: "KA6AAA", To: "B", Type: "check_in", Date: day.Add(time.Hour)},
	}
	for _, tt := range []struct {
		policy string
		want   string
	}{
		{"first_wins", "A"},
		{"last_wins", "B"},
	} {
		t.Run(tt.policy, func(t *testing.T) {
			ex := mustExercise(t, `
id: merge
merge_policy: `+tt.policy+`
types:
  - type: check_in
`)
			res, err := mustEngine(t, ex, WithSeed(1)).Run(context.Background(), msgs)
			require.NoError(t, err)
			require.Len(t, res.Summaries, 1)
			s := res.Summaries[0]
			require.NotNil(t, s.To)
			assert.Equal(t, tt.want, *s.To)
			assert.Equal(t, 2, s.MessageCount)
			assert.Equal(t, 2, s.PerfectMessageCount)
		})
	}
}

func TestProcess_ScorePipeline(t *testing.T) {
	const base = `
id: score
merge_policy: first_wins
score_order: %s
types:
  - type: t
    fields:
      - {key: a, policy: required, weight: 50}
      - {key: b, policy: required, weight: 50}
      - {key: c, policy: required, weight: 40}
      - {key: note, policy: optional}
    adjustments:
      - {kind: bonus, when: {field: note, policy: specified, expected: early}, points: 15}
      - {kind: auto_fail, when: {field: note, policy: specified, expected: wrong form}, explanation: "wrong form used"}
`
	full := map[string]string{"a": "x", "b": "x", "c": "x"}
	with := func(note string, fields map[string]string) map[string]string {
		out := map[string]string{"note": note}
		for k, v := range fields {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name     string
		order    string
		fields   map[string]string
		want     int
		autoFail bool
	}{
		{"sum above max is clamped", "clamp_then_fail", full, 100, false},
		{"bonus on partial score", "clamp_then_fail", with("early", map[string]string{"a": "x"}), 65, false},
		{"bonus beyond max is clamped", "clamp_then_fail", with("early", full), 100, false},
		{"auto fail zeroes after clamp", "clamp_then_fail", with("wrong form", full), 0, true},
		{"auto fail before bonus keeps nothing without bonus", "fail_then_clamp", with("wrong form", full), 0, true},
		{"optional never scores", "clamp_then_fail", with("whatever", map[string]string{"a": "x"}), 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := mustExercise(t, strings.Replace(base, "%s", tt.order, 1))
			e := mustEngine(t, ex, WithSeed(1))

			g, ok := e.Process(context.Background(), model.Message{ID: "m", From: "K1", Type: "T", Fields: tt.fields})
			require.True(t, ok)
			assert.Equal(t, tt.want, g.Points)
			assert.Equal(t, tt.autoFail, g.AutoFail)
			if tt.autoFail {
				assert.Contains(t, g.Explanations, "wrong form used")
				assert.False(t, g.Perfect)
			}
		})
	}
}

func TestProcess_FailThenClampKeepsBonus(t *testing.T) {
	ex := mustExercise(t, `
id: score
merge_policy: first_wins
score_order: fail_then_clamp
types:
  - type: t
    fields:
      - {key: subject, policy: specified, expected: ETO, weight: 60}
      - {key: body, policy: required, weight: 40}
    adjustments:
      - {kind: bonus, when: {field: body, policy: required}, points: 10}
      - {kind: auto_fail, when: {failed: subject}}
`)
	e := mustEngine(t, ex, WithSeed(1))
	g, ok := e.Process(context.Background(), model.Message{
		ID: "m", From: "K1", Type: "t",
		Fields: map[string]string{"subject": "nope", "body": "hello"},
	})
	require.True(t, ok)
	assert.Equal(t, 10, g.Points)
	assert.True(t, g.AutoFail)
	assert.Equal(t, []string{`subject: "nope", expected "ETO"`, "automatic fail"}, g.Explanations)

	ex.ScoreOrder = exercise.ClampThenFail
	e = mustEngine(t, ex, WithSeed(1))
	g, _ = e.Process(context.Background(), model.Message{
		ID: "m", From: "K1", Type: "t",
		Fields: map[string]string{"subject": "nope", "body": "hello"},
	})
	assert.Equal(t, 0, g.Points)
}

func TestProcess_PerfectMarkerOptOut(t *testing.T) {
	ex := mustExercise(t, `
id: quiet
merge_policy: first_wins
perfect_marker: false
types:
  - type: t
    fields: [{key: a, policy: required, weight: 100}]
`)
	e := mustEngine(t, ex, WithSeed(1))
	res, err := e.Run(context.Background(), []model.Message{
		{ID: "m", From: "K1", Type: "t", Fields: map[string]string{"a": "x"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Summaries, 1)
	assert.Empty(t, res.Summaries[0].Explanations)
	assert.Equal(t, 1, res.Summaries[0].PerfectMessageCount)
	assert.Equal(t, 1, res.Correct)
}

func TestNew_InvalidExercise(t *testing.T) {
	_, err := New(&exercise.Exercise{ID: "x"}, nil)
	require.ErrorIs(t, err, exercise.ErrInvalidConfig)

	_, err = New(nil, nil)
	require.ErrorIs(t, err, exercise.ErrInvalidConfig)
}
