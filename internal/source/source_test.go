package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyoka/internal/model"
)

func TestRead_Array(t *testing.T) {
	msgs, err := Read(strings.NewReader(`
  [
    {"id": "1", "from": "KA6AAA", "type": "ics_213", "date": "2026-10-15T19:30:00Z",
     "location": {"lat": 38.44, "lon": -122.71}, "fields": {"subject": "ETO"}},
    {"id": "2", "from": "KB6BBB", "type": "check_in", "fields": {}}
  ]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "KA6AAA", msgs[0].From)
	assert.Equal(t, time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC), msgs[0].Date)
	require.NotNil(t, msgs[0].Location)
	assert.Equal(t, 38.44, msgs[0].Location.Lat)
	assert.Equal(t, "ETO", *msgs[0].Field("subject"))
	assert.Nil(t, msgs[1].Location)
}

func TestRead_NDJSON(t *testing.T) {
	msgs, err := Read(strings.NewReader(
		`{"id": "1", "from": "KA6AAA", "type": "t"}` + "\n" +
			`{"id": "2", "from": " KB6BBB ", "type": "t"}` + "\n"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "KB6BBB", msgs[1].From)
}

func TestRead_Empty(t *testing.T) {
	msgs, err := Read(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRead_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id":     `{"from": "KA6AAA"}`,
		"missing from":   `{"id": "1"}`,
		"duplicate id":   `{"id": "1", "from": "A"}` + "\n" + `{"id": "1", "from": "B"}`,
		"unknown field":  `{"id": "1", "from": "A", "subject": "x"}`,
		"malformed json": `[{"id": "1",`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestOrder(t *testing.T) {
	t0 := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "b-late", From: "B", Type: "t", Date: t0.Add(time.Hour)},
		{ID: "a-z", From: "A", Type: "z", Date: t0},
		{ID: "b-early", From: "B", Type: "T", Date: t0},
		{ID: "a-t", From: "A", Type: "t", Date: t0.Add(2 * time.Hour)},
		{ID: "b-tie", From: "B", Type: "t", Date: t0.Add(time.Hour)},
	}
	Order(msgs)

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"a-t", "a-z", "b-early", "b-late", "b-tie"}, ids)
}

func TestFile_Messages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"id": "2", "from": "KB6BBB", "type": "t"}`+"\n"+
			`{"id": "1", "from": "KA6AAA", "type": "t"}`+"\n"), 0o600))

	msgs, err := File{Path: path}.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)

	msgs, err = File{Path: "-", Stdin: strings.NewReader(`[{"id": "9", "from": "K9"}]`)}.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = File{Path: filepath.Join(t.TempDir(), "missing.json")}.Messages(context.Background())
	require.Error(t, err)
}
