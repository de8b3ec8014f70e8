package hyoka_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyoka"
	"github.com/ashita-ai/hyoka/internal/storage"
)

const exerciseYAML = `
id: eto-test
name: ETO Test
merge_policy: first_wins
location:
  center: {lat: 38.44, lon: -122.71}
feedback:
  preamble: "Thanks for checking in."
types:
  - type: ics_213
    prefix: "ICS-213: "
    fields:
      - {key: subject, policy: specified, expected: "ETO Test", label: Subject, weight: 40}
      - {key: agency, policy: required_not, label: Agency, weight: 30}
      - {key: location, policy: required, label: Location, weight: 30}
`

type sliceSource []hyoka.Message

func (s sliceSource) Messages(context.Context) ([]hyoka.Message, error) { return s, nil }

type recordingOutbox struct {
	mu   sync.Mutex
	envs []hyoka.Envelope
}

func (r *recordingOutbox) Enqueue(_ context.Context, envs []hyoka.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, envs...)
	return nil
}

type recordingTable struct{ rows []hyoka.Row }

func (r *recordingTable) WriteRows(_ context.Context, rows []hyoka.Row) error {
	r.rows = rows
	return nil
}

type hookFunc func(context.Context, hyoka.Result) error

func (f hookFunc) OnRunGraded(ctx context.Context, r hyoka.Result) error { return f(ctx, r) }

var day = time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC)

func messages() sliceSource {
	return sliceSource{
		{ID: "A1", From: "KA6AAA", To: "ETO-01", Type: "ics_213", Date: day,
			Location: &hyoka.LatLon{Lat: 38.44, Lon: -122.71},
			Fields:   map[string]string{"subject": "ETO Test", "agency": "Sonoma ACS", "location": "Santa Rosa"}},
		{ID: "B1", From: "KB6BBB", To: "ETO-01", Type: "ics_213", Date: day.Add(time.Minute),
			Location: &hyoka.LatLon{Lat: 38.29, Lon: -122.46},
			Fields:   map[string]string{"subject": "ETO Drill", "agency": "REQUIRED", "location": "Sonoma"}},
		{ID: "C1", From: "KC6CCC", To: "ETO-01", Type: "ics_213", Date: day.Add(2 * time.Minute),
			Fields: map[string]string{"subject": "ETO Test", "agency": "Petaluma CERT"}},
	}
}

func TestRun_AllOutputs(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "report.csv")
	outboxPath := filepath.Join(dir, "outbox.ndjson")
	promPath := filepath.Join(dir, "hyoka.prom")
	dbURL := "sqlite://" + filepath.Join(dir, "hyoka.db")

	var reportBuf bytes.Buffer
	outbox := &recordingOutbox{}
	table := &recordingTable{}
	var hooked hyoka.Result

	app, err := hyoka.New(
		hyoka.WithExerciseYAML([]byte(exerciseYAML)),
		hyoka.WithSource(messages()),
		hyoka.WithSeed(3),
		hyoka.WithReportWriter(&reportBuf),
		hyoka.WithCSVPath(csvPath),
		hyoka.WithOutboxPath(outboxPath),
		hyoka.WithTextfilePath(promPath),
		hyoka.WithDatabaseURL(dbURL),
		hyoka.WithOutbox(outbox),
		hyoka.WithTableWriter(table),
		hyoka.WithRunHook(hookFunc(func(_ context.Context, r hyoka.Result) error {
			hooked = r
			return nil
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	assert.Equal(t, "eto-test", app.Exercise())

	res, err := app.RunResult(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Participants)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 3, res.Messages)
	assert.NotEmpty(t, res.Fingerprint)
	assert.Equal(t, res.RunID, hooked.RunID)

	// Text report.
	assert.Contains(t, reportBuf.String(), "ETO Test")
	assert.Contains(t, reportBuf.String(), "Participants: 3")
	assert.Contains(t, reportBuf.String(), "Fingerprint: "+res.Fingerprint)

	// CSV report.
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "from", records[0][0])
	assert.Equal(t, "KB6BBB", records[2][0])
	assert.Equal(t, "2", records[2][6])
	assert.Equal(t, 2, strings.Count(records[2][7], "ICS-213: "))
	assert.NotEmpty(t, records[3][2], "sanitized latitude is written")

	// Table writer and outboxes.
	require.Len(t, table.rows, 3)
	assert.Equal(t, res.Rows, table.rows)
	require.Len(t, outbox.envs, 3)
	assert.Contains(t, outbox.envs[0].Body, "Thanks for checking in.")

	of, err := os.Open(outboxPath)
	require.NoError(t, err)
	defer func() { _ = of.Close() }()
	var lines int
	sc := bufio.NewScanner(of)
	for sc.Scan() {
		var env hyoka.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		assert.Equal(t, outbox.envs[lines].CorrelationID, env.CorrelationID)
		lines++
	}
	assert.Equal(t, 3, lines)

	// Prometheus textfile.
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `hyoka_participants{exercise="eto-test"} 3`)

	// Stored run.
	db, err := storage.Open(context.Background(), dbURL, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	stored, err := db.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, stored.Fingerprint)
	pending, err := db.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestGrade_StableAcrossRuns(t *testing.T) {
	grade := func() hyoka.Result {
		app, err := hyoka.New(
			hyoka.WithExerciseYAML([]byte(exerciseYAML)),
			hyoka.WithSource(messages()),
			hyoka.WithSeed(11),
			hyoka.WithReportWriter(&bytes.Buffer{}),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = app.Close(context.Background()) })
		res, err := app.Grade(context.Background())
		require.NoError(t, err)
		return res
	}
	first, second := grade(), grade()
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.Envelopes, second.Envelopes)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestNew_InvalidExercise(t *testing.T) {
	_, err := hyoka.New(
		hyoka.WithExerciseYAML([]byte("id: broken\ntypes: [{type: t}]\n")),
		hyoka.WithSource(sliceSource{}),
	)
	require.ErrorIs(t, err, hyoka.ErrInvalidConfig)

	_, err = hyoka.New(hyoka.WithExercisePath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.ErrorIs(t, err, hyoka.ErrInvalidConfig)
}

func TestNew_InvalidEnvironment(t *testing.T) {
	t.Setenv("HYOKA_LANGUAGE", "not a tag!")
	_, err := hyoka.New(hyoka.WithExerciseYAML([]byte(exerciseYAML)))
	require.ErrorIs(t, err, hyoka.ErrInvalidConfig)
}
