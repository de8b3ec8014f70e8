// Package policy provides the pure, stateless field expectation rules.
// Each rule decides pass/fail for one field value; weighting and
// explanation bookkeeping live in the fieldtest service.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/hyoka/internal/model"
)

// DefaultPlaceholder is the template prompt text a participant is expected
// to replace in REQUIRED_NOT fields.
const DefaultPlaceholder = "REQUIRED"

// DateTimeLayouts are the timestamp layouts accepted for DATE_TIME_NOT fields,
// tried in order.
var DateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006/01/02 15:04",
	"01/02/2006 15:04",
	"2006-01-02",
}

// Result is the verdict of a single rule.
type Result struct {
	OK      bool
	Details string // why it failed; empty on pass
	Value   string // trimmed actual value, empty when absent
}

// Checker evaluates expectations. The zero value uses DefaultPlaceholder.
type Checker struct {
	Placeholders []string
}

// Evaluate applies exp to actual. actual == nil means the field is absent,
// which is judged like a blank value rather than treated as an error.
func (c Checker) Evaluate(exp model.FieldExpectation, actual *string) Result {
	value := ""
	if actual != nil {
		value = strings.TrimSpace(*actual)
	}
	res := Result{OK: true, Value: value}

	switch exp.Policy {
	case model.PolicyRequired:
		if value == "" {
			return fail(res, "missing value")
		}

	case model.PolicySpecified:
		want := expected(exp)
		if !strings.EqualFold(value, want) {
			if value == "" {
				return fail(res, fmt.Sprintf("missing value, expected %q", want))
			}
			return fail(res, fmt.Sprintf("%q, expected %q", value, want))
		}

	case model.PolicyEmpty:
		if value != "" {
			return fail(res, fmt.Sprintf("%q, expected empty", value))
		}

	case model.PolicyRequiredNot:
		if value == "" {
			return fail(res, "missing value")
		}
		if c.isPlaceholder(value) {
			return fail(res, fmt.Sprintf("%q is the template placeholder, not a value", value))
		}

	case model.PolicyOptional, model.PolicyOptionalNot:
		// Captured for counting only.

	case model.PolicyDateTimeNot:
		if value == "" {
			return fail(res, "missing date/time")
		}
		got, err := ParseDateTime(value)
		if err != nil {
			return fail(res, fmt.Sprintf("%q is not a date/time", value))
		}
		sentinel, err := ParseDateTime(expected(exp))
		if err == nil && got.Equal(sentinel) {
			return fail(res, fmt.Sprintf("%q is the unset default date/time", value))
		}

	default:
		return fail(res, fmt.Sprintf("unknown policy %q", exp.Policy))
	}
	return res
}

// Differs reports whether an OPTIONAL_NOT value was supplied and differs from
// the expected default. It is informational and never affects the score.
func Differs(exp model.FieldExpectation, actual *string) bool {
	if exp.Policy != model.PolicyOptionalNot || actual == nil {
		return false
	}
	v := strings.TrimSpace(*actual)
	return v != "" && !strings.EqualFold(v, expected(exp))
}

func (c Checker) isPlaceholder(value string) bool {
	placeholders := c.Placeholders
	if len(placeholders) == 0 {
		placeholders = []string{DefaultPlaceholder}
	}
	for _, p := range placeholders {
		if strings.EqualFold(value, strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

// ParseDateTime parses s with the first matching layout in DateTimeLayouts.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("policy: unparseable date/time %q", s)
}

// ValidateAll checks every expectation and reports all problems at once,
// including duplicate keys and unparseable DATE_TIME_NOT sentinels.
func ValidateAll(exps []model.FieldExpectation) error {
	var errs []error
	seen := make(map[string]bool, len(exps))
	for i, exp := range exps {
		if err := exp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("field[%d]: %w", i, err))
			continue
		}
		if seen[exp.Key] {
			errs = append(errs, fmt.Errorf("field[%d]: %w: duplicate key %q", i, model.ErrInvalidExpectation, exp.Key))
		}
		seen[exp.Key] = true
		if exp.Policy == model.PolicyDateTimeNot {
			if _, err := ParseDateTime(*exp.Expected); err != nil {
				errs = append(errs, fmt.Errorf("field[%d]: %w: %s: %v", i, model.ErrInvalidExpectation, exp.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func expected(exp model.FieldExpectation) string {
	if exp.Expected == nil {
		return ""
	}
	return strings.TrimSpace(*exp.Expected)
}

func fail(r Result, details string) Result {
	r.OK = false
	r.Details = details
	return r
}
