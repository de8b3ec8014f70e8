package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyoka/internal/model"
)

func ptr(s string) *string { return &s }

func TestParsePolicyKind(t *testing.T) {
	tests := []struct {
		in   string
		want model.PolicyKind
	}{
		{"REQUIRED", model.PolicyRequired},
		{"required_not", model.PolicyRequiredNot},
		{" specified ", model.PolicySpecified},
		{"date-time-not", model.PolicyDateTimeNot},
		{"Optional_Not", model.PolicyOptionalNot},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := model.ParsePolicyKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := model.ParsePolicyKind("MAYBE")
	require.ErrorIs(t, err, model.ErrInvalidExpectation)
}

func TestFieldExpectationValidate(t *testing.T) {
	tests := []struct {
		name    string
		exp     model.FieldExpectation
		wantErr bool
	}{
		{"required ok", model.FieldExpectation{Key: "k", Policy: model.PolicyRequired, Weight: 5}, false},
		{"specified ok", model.FieldExpectation{Key: "k", Policy: model.PolicySpecified, Expected: ptr("x")}, false},
		{"specified missing expected", model.FieldExpectation{Key: "k", Policy: model.PolicySpecified}, true},
		{"specified blank expected", model.FieldExpectation{Key: "k", Policy: model.PolicySpecified, Expected: ptr("  ")}, true},
		{"date time not missing expected", model.FieldExpectation{Key: "k", Policy: model.PolicyDateTimeNot}, true},
		{"required with expected", model.FieldExpectation{Key: "k", Policy: model.PolicyRequired, Expected: ptr("x")}, true},
		{"optional not with expected", model.FieldExpectation{Key: "k", Policy: model.PolicyOptionalNot, Expected: ptr("x")}, false},
		{"negative weight", model.FieldExpectation{Key: "k", Policy: model.PolicyEmpty, Weight: -1}, true},
		{"empty key", model.FieldExpectation{Policy: model.PolicyEmpty}, true},
		{"unknown policy", model.FieldExpectation{Key: "k", Policy: "SOMETIMES"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exp.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrInvalidExpectation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLatLonValid(t *testing.T) {
	tests := []struct {
		name string
		p    model.LatLon
		want bool
	}{
		{"real position", model.LatLon{Lat: 37.7749, Lon: -122.4194}, true},
		{"origin sentinel", model.LatLon{}, false},
		{"lat out of range", model.LatLon{Lat: 91, Lon: 10}, false},
		{"lon out of range", model.LatLon{Lat: 10, Lon: -181}, false},
		{"nan", model.LatLon{Lat: math.NaN(), Lon: 1}, false},
		{"inf", model.LatLon{Lat: 1, Lon: math.Inf(1)}, false},
		{"equator is fine", model.LatLon{Lat: 0, Lon: 12.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Valid())
		})
	}
	assert.False(t, model.ValidLocation(nil))
}

func TestMessageField(t *testing.T) {
	m := model.Message{Fields: map[string]string{"subject": "ETO", "blank": ""}}
	require.NotNil(t, m.Field("subject"))
	assert.Equal(t, "ETO", *m.Field("subject"))
	require.NotNil(t, m.Field("blank"))
	assert.Nil(t, m.Field("missing"))
	assert.Nil(t, model.Message{}.Field("subject"))
}

func TestSummaryFindings(t *testing.T) {
	s := model.ParticipantSummary{
		Explanations: []string{"Subject: wrong", model.PerfectMessagePrefix + "m2"},
		FindingCount: 1,
	}
	assert.Equal(t, []string{"Subject: wrong"}, s.Findings())
	assert.False(t, s.Correct())
	assert.True(t, model.IsPerfectMarker(model.PerfectMessagePrefix+"x"))
}
