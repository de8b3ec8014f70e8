// Package exercise loads the declarative grading rules of one exercise:
// which message types are graded, the field expectations per type, score
// adjustments and the run-level knobs (merge policy, score order, location
// jitter, feedback boilerplate, counter ordering).
package exercise

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/model"
	"github.com/ashita-ai/hyoka/internal/policy"
)

// ErrInvalidConfig is wrapped by every exercise configuration error.
var ErrInvalidConfig = errors.New("exercise: invalid configuration")

// ScoreOrder decides how bonus points, clamping and automatic failure combine.
type ScoreOrder string

const (
	// ClampThenFail adds bonus points, clamps to [0,100], then zeroes the
	// score on automatic fail.
	ClampThenFail ScoreOrder = "clamp_then_fail"
	// FailThenClamp zeroes the base points on automatic fail, adds bonus
	// points, then clamps.
	FailThenClamp ScoreOrder = "fail_then_clamp"
)

// AdjustmentKind names a score adjustment.
type AdjustmentKind string

const (
	Bonus    AdjustmentKind = "bonus"
	AutoFail AdjustmentKind = "auto_fail"
)

// Exercise is one exercise's grading configuration.
type Exercise struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	MergePolicy   string          `yaml:"merge_policy"`
	Placeholders  []string        `yaml:"placeholders"`
	ScoreOrder    ScoreOrder      `yaml:"score_order"`
	PerfectMarker *bool           `yaml:"perfect_marker"`
	Location      LocationConfig  `yaml:"location"`
	Feedback      FeedbackConfig  `yaml:"feedback"`
	Counters      []CounterConfig `yaml:"counters"`
	Types         []TypeRules     `yaml:"types"`
}

// LocationConfig parameterizes the location sanitizer.
type LocationConfig struct {
	Center   model.LatLon `yaml:"center"`
	RadiusKm *float64     `yaml:"radius_km"`
	Seed     *int64       `yaml:"seed"`
}

// FeedbackConfig carries exercise boilerplate for feedback messages.
type FeedbackConfig struct {
	Subject    string `yaml:"subject"`
	Preamble   string `yaml:"preamble"`
	Postscript string `yaml:"postscript"`
}

// CounterConfig fixes the histogram order of a counter label.
type CounterConfig struct {
	Label string `yaml:"label"`
	Order string `yaml:"order"`
}

// TypeRules are the checks for one message type.
type TypeRules struct {
	Type        string                   `yaml:"type"`
	Prefix      string                   `yaml:"prefix"`
	Fields      []model.FieldExpectation `yaml:"fields"`
	Adjustments []Adjustment             `yaml:"adjustments"`
}

// Adjustment is a small data-driven scoring quirk: a bonus added when the
// condition holds, or an automatic fail triggered by it.
type Adjustment struct {
	Kind        AdjustmentKind `yaml:"kind"`
	When        Condition      `yaml:"when"`
	Points      int            `yaml:"points"`
	Explanation string         `yaml:"explanation"`
}

// Condition holds when the field passes the given policy check, or, with
// Failed set, when the expectation for that key failed in this message.
type Condition struct {
	Field    string           `yaml:"field"`
	Policy   model.PolicyKind `yaml:"policy"`
	Expected *string          `yaml:"expected"`
	Failed   string           `yaml:"failed"`
}

// Expectation returns the condition as a field expectation.
func (c Condition) Expectation() model.FieldExpectation {
	return model.FieldExpectation{Key: c.Field, Policy: c.Policy, Expected: c.Expected, Label: c.Field}
}

// Load reads and validates an exercise file.
func Load(path string) (*Exercise, error) {
	f, err := os.Open(path) //nolint:gosec // path is an operator-supplied config file
	if err != nil {
		return nil, fmt.Errorf("exercise: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("exercise: read %s: %w", path, err)
	}
	ex, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ex, nil
}

// Parse decodes YAML, normalizes names and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Exercise, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var ex Exercise
	if err := dec.Decode(&ex); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
	}
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	return &ex, nil
}

// Validate normalizes policy and order names in place and reports every
// configuration problem at once.
func (ex *Exercise) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(ex.ID) == "" {
		add("id is required")
	}
	if ex.MergePolicy == "" {
		add("merge_policy is required (first_wins or last_wins)")
	} else if _, err := model.ParseMergePolicy(ex.MergePolicy); err != nil {
		add("%v", err)
	}
	switch ex.ScoreOrder {
	case "":
		ex.ScoreOrder = ClampThenFail
	case ClampThenFail, FailThenClamp:
	default:
		add("unknown score_order %q", ex.ScoreOrder)
	}
	if ex.Location.RadiusKm != nil && *ex.Location.RadiusKm < 0 {
		add("location.radius_km must be >= 0")
	}
	if ex.Location.Center != (model.LatLon{}) && !ex.Location.Center.Valid() {
		add("location.center %+v is not a valid coordinate", ex.Location.Center)
	}
	for i, c := range ex.Counters {
		if c.Label == "" {
			add("counters[%d]: label is required", i)
		}
		if _, err := counter.ParseOrder(c.Order); err != nil {
			add("counters[%d]: %v", i, err)
		}
	}

	if len(ex.Types) == 0 {
		add("at least one message type is required")
	}
	seen := make(map[string]bool, len(ex.Types))
	for i := range ex.Types {
		tr := &ex.Types[i]
		name := strings.ToLower(strings.TrimSpace(tr.Type))
		if name == "" {
			add("types[%d]: type is required", i)
		} else if seen[name] {
			add("types[%d]: duplicate type %q", i, tr.Type)
		}
		seen[name] = true

		for j := range tr.Fields {
			if k, err := model.ParsePolicyKind(string(tr.Fields[j].Policy)); err == nil {
				tr.Fields[j].Policy = k
			}
		}
		if err := policy.ValidateAll(tr.Fields); err != nil {
			errs = append(errs, fmt.Errorf("%w: types[%d] %s: %w", ErrInvalidConfig, i, tr.Type, err))
		}
		for j := range tr.Adjustments {
			if err := tr.Adjustments[j].validate(tr.Fields); err != nil {
				add("types[%d] %s: adjustments[%d]: %v", i, tr.Type, j, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Adjustment) validate(fields []model.FieldExpectation) error {
	switch a.Kind {
	case Bonus:
		if a.Points <= 0 {
			return fmt.Errorf("bonus points must be > 0")
		}
	case AutoFail:
	default:
		return fmt.Errorf("unknown kind %q", a.Kind)
	}

	c := &a.When
	switch {
	case c.Field != "" && c.Failed != "":
		return fmt.Errorf("when: set either field or failed, not both")
	case c.Failed != "":
		for _, f := range fields {
			if f.Key == c.Failed {
				return nil
			}
		}
		return fmt.Errorf("when.failed: no field expectation with key %q", c.Failed)
	case c.Field != "":
		k, err := model.ParsePolicyKind(string(c.Policy))
		if err != nil {
			return fmt.Errorf("when: %w", err)
		}
		c.Policy = k
		return c.Expectation().Validate()
	}
	return fmt.Errorf("when: field or failed is required")
}

// Merge returns the parsed merge policy. Call after Validate.
func (ex *Exercise) Merge() model.MergePolicy {
	p, _ := model.ParseMergePolicy(ex.MergePolicy)
	return p
}

// Rules returns the rules for a message type, matched case-insensitively.
func (ex *Exercise) Rules(msgType string) (*TypeRules, bool) {
	name := strings.ToLower(strings.TrimSpace(msgType))
	for i := range ex.Types {
		if strings.ToLower(strings.TrimSpace(ex.Types[i].Type)) == name {
			return &ex.Types[i], true
		}
	}
	return nil, false
}

// DisplayName returns Name, falling back to ID.
func (ex *Exercise) DisplayName() string {
	if ex.Name != "" {
		return ex.Name
	}
	return ex.ID
}

// MarkPerfect reports whether perfect messages get a synthesized explanation.
func (ex *Exercise) MarkPerfect() bool {
	return ex.PerfectMarker == nil || *ex.PerfectMarker
}
