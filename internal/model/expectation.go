package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidExpectation is wrapped by every FieldExpectation validation error.
var ErrInvalidExpectation = errors.New("model: invalid field expectation")

// PolicyKind selects how a single field is judged.
type PolicyKind string

const (
	PolicyRequired    PolicyKind = "REQUIRED"
	PolicyRequiredNot PolicyKind = "REQUIRED_NOT"
	PolicySpecified   PolicyKind = "SPECIFIED"
	PolicyEmpty       PolicyKind = "EMPTY"
	PolicyOptional    PolicyKind = "OPTIONAL"
	PolicyOptionalNot PolicyKind = "OPTIONAL_NOT"
	PolicyDateTimeNot PolicyKind = "DATE_TIME_NOT"
)

var policyKinds = map[PolicyKind]bool{
	PolicyRequired:    true,
	PolicyRequiredNot: true,
	PolicySpecified:   true,
	PolicyEmpty:       true,
	PolicyOptional:    true,
	PolicyOptionalNot: true,
	PolicyDateTimeNot: true,
}

// ParsePolicyKind normalizes s (case, surrounding space, dashes) and returns
// the matching PolicyKind.
func ParsePolicyKind(s string) (PolicyKind, error) {
	k := PolicyKind(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !policyKinds[k] {
		return "", fmt.Errorf("%w: unknown policy %q", ErrInvalidExpectation, s)
	}
	return k, nil
}

// Known reports whether k is one of the declared policy kinds.
func (k PolicyKind) Known() bool { return policyKinds[k] }

// NeedsExpected reports whether the policy compares against an expected value.
func (k PolicyKind) NeedsExpected() bool {
	return k == PolicySpecified || k == PolicyDateTimeNot
}

// Scored reports whether the policy can fail. OPTIONAL and OPTIONAL_NOT only
// capture values.
func (k PolicyKind) Scored() bool {
	return k != PolicyOptional && k != PolicyOptionalNot
}

// FieldExpectation is a declared rule for one named field of a message.
type FieldExpectation struct {
	Key      string     `json:"key" yaml:"key"`
	Policy   PolicyKind `json:"policy" yaml:"policy"`
	Expected *string    `json:"expected,omitempty" yaml:"expected,omitempty"`
	Label    string     `json:"label" yaml:"label"`
	Weight   int        `json:"weight" yaml:"weight"`
}

// DisplayLabel returns Label, falling back to Key.
func (e FieldExpectation) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Key
}

// Validate checks the expectation's internal consistency. OPTIONAL_NOT may
// carry an expected value; the other non-comparing policies may not.
func (e FieldExpectation) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidExpectation)
	}
	if !e.Policy.Known() {
		return fmt.Errorf("%w: %s: unknown policy %q", ErrInvalidExpectation, e.Key, e.Policy)
	}
	if e.Weight < 0 {
		return fmt.Errorf("%w: %s: weight must be >= 0, got %d", ErrInvalidExpectation, e.Key, e.Weight)
	}
	hasExpected := e.Expected != nil && strings.TrimSpace(*e.Expected) != ""
	switch {
	case e.Policy.NeedsExpected() && !hasExpected:
		return fmt.Errorf("%w: %s: policy %s requires an expected value", ErrInvalidExpectation, e.Key, e.Policy)
	case !e.Policy.NeedsExpected() && e.Policy != PolicyOptionalNot && e.Expected != nil:
		return fmt.Errorf("%w: %s: policy %s does not take an expected value", ErrInvalidExpectation, e.Key, e.Policy)
	}
	return nil
}

// TestOutcome is the immutable result of one field evaluation.
type TestOutcome struct {
	Key         string  `json:"key"`
	OK          bool    `json:"ok"`
	Explanation *string `json:"explanation,omitempty"`
}
