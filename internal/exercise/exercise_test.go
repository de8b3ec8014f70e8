package exercise

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyoka/internal/model"
)

func TestLoad(t *testing.T) {
	ex, err := Load("testdata/eto.yaml")
	require.NoError(t, err)

	assert.Equal(t, "eto-2026-10-16", ex.ID)
	assert.Equal(t, "ETO Winlink Thursday", ex.DisplayName())
	assert.Equal(t, model.FirstWins, ex.Merge())
	assert.Equal(t, ClampThenFail, ex.ScoreOrder)
	assert.True(t, ex.MarkPerfect())
	require.NotNil(t, ex.Location.RadiusKm)
	assert.Equal(t, 10.0, *ex.Location.RadiusKm)

	rules, ok := ex.Rules("ICS_213")
	require.True(t, ok)
	assert.Equal(t, "ICS-213: ", rules.Prefix)
	require.Len(t, rules.Fields, 5)
	assert.Equal(t, model.PolicySpecified, rules.Fields[0].Policy, "policy names are normalized")
	assert.Equal(t, model.PolicyRequiredNot, rules.Fields[1].Policy)
	require.Len(t, rules.Adjustments, 2)
	assert.Equal(t, model.PolicyRequired, rules.Adjustments[0].When.Policy)

	_, ok = ex.Rules("damage_assessment")
	assert.False(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/nope.yaml")
	require.Error(t, err)
}

func TestParse_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "specified without expected",
			yaml: `
id: x
merge_policy: first_wins
types:
  - type: t
    fields:
      - {key: subject, policy: SPECIFIED, label: Subject, weight: 10}
`,
			want: "requires an expected value",
		},
		{
			name: "merge policy is explicit",
			yaml: `
id: x
types:
  - type: t
    fields: [{key: a, policy: REQUIRED}]
`,
			want: "merge_policy is required",
		},
		{
			name: "unknown policy",
			yaml: `
id: x
merge_policy: last_wins
types:
  - type: t
    fields: [{key: a, policy: SOMETIMES}]
`,
			want: "unknown policy",
		},
		{
			name: "unknown yaml key",
			yaml: `
id: x
merge_policy: last_wins
colour: blue
types:
  - type: t
`,
			want: "decode yaml",
		},
		{
			name: "duplicate types",
			yaml: `
id: x
merge_policy: last_wins
types:
  - type: t
  - type: T
`,
			want: "duplicate type",
		},
		{
			name: "bad adjustment",
			yaml: `
id: x
merge_policy: last_wins
types:
  - type: t
    fields: [{key: a, policy: REQUIRED}]
    adjustments:
      - {kind: bonus, when: {failed: b}, points: 5}
      - {kind: penalty, when: {field: a, policy: REQUIRED}}
      - {kind: auto_fail, when: {}}
`,
			want: "no field expectation with key",
		},
		{
			name: "bad score order and counter order",
			yaml: `
id: x
merge_policy: last_wins
score_order: whatever
counters: [{label: points, order: sideways}]
types:
  - type: t
`,
			want: "unknown score_order",
		},
		{
			name: "no types",
			yaml: `
id: x
merge_policy: first_wins
`,
			want: "at least one message type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(strings.TrimSpace(tt.yaml)))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_AllErrorsReported(t *testing.T) {
	_, err := Parse([]byte(`
id: x
merge_policy: last_wins
types:
  - type: t
    fields: [{key: a, policy: REQUIRED}]
    adjustments:
      - {kind: penalty, when: {field: a, policy: REQUIRED}}
      - {kind: auto_fail, when: {}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "field or failed is required")
}

func TestPerfectMarkerOptOut(t *testing.T) {
	ex, err := Parse([]byte(`
id: x
merge_policy: last_wins
perfect_marker: false
types:
  - type: t
`))
	require.NoError(t, err)
	assert.False(t, ex.MarkPerfect())
	assert.Equal(t, model.LastWins, ex.Merge())
}
