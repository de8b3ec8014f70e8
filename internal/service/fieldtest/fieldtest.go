// Package fieldtest applies field expectations to one subject at a time,
// keeping the explanations, points and outcomes of the current subject and
// feeding pass/fail tallies into the run's counters.
package fieldtest

import (
	"strings"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/model"
	"github.com/ashita-ai/hyoka/internal/policy"
)

// Counter values recorded per field label.
const (
	Pass = "pass"
	Fail = "fail"
)

// MaxPoints is the upper clamp bound for a message score.
const MaxPoints = 100

// Service is a stateful per-subject accumulator. It is not safe for
// concurrent use.
type Service struct {
	checker  policy.Checker
	counters *counter.Set

	prefix       string
	explanations []string
	outcomes     []model.TestOutcome
	points       int
	passCount    int
}

// New creates a Service that records tallies into counters.
func New(checker policy.Checker, counters *counter.Set) *Service {
	if counters == nil {
		counters = counter.NewSet()
	}
	return &Service{checker: checker, counters: counters}
}

// Reset starts a new subject. prefix is prepended to every explanation so
// findings from different message types of one sender stay distinguishable.
func (s *Service) Reset(prefix string) {
	s.prefix = prefix
	s.explanations = nil
	s.outcomes = nil
	s.points = 0
	s.passCount = 0
}

// Prefix returns the explanation prefix of the current subject.
func (s *Service) Prefix() string { return s.prefix }

// Test evaluates one expectation against actual (nil = field absent).
func (s *Service) Test(exp model.FieldExpectation, actual *string) model.TestOutcome {
	res := s.checker.Evaluate(exp, actual)
	label := exp.DisplayLabel()

	out := model.TestOutcome{Key: exp.Key, OK: res.OK}
	if res.OK {
		if exp.Policy.Scored() {
			s.points += exp.Weight
		}
		s.passCount++
		s.counters.Inc(label, Pass)
	} else {
		explanation := s.prefix + label + ": " + res.Details
		s.explanations = append(s.explanations, explanation)
		out.Explanation = &explanation
		s.counters.Inc(label, Fail)
	}

	if !exp.Policy.Scored() && res.Value != "" {
		s.counters.Inc(label+" values", res.Value)
		if policy.Differs(exp, actual) {
			s.counters.Inc(label, "changed")
		}
	}

	s.outcomes = append(s.outcomes, out)
	return out
}

// TestMessage evaluates every expectation against msg, in order. A field
// absent from the message is tested as nil.
func (s *Service) TestMessage(exps []model.FieldExpectation, msg model.Message) []model.TestOutcome {
	out := make([]model.TestOutcome, 0, len(exps))
	for _, exp := range exps {
		out = append(out, s.Test(exp, msg.Field(exp.Key)))
	}
	return out
}

// AddExplanation records an explanation that does not come from a field
// expectation, such as an automatic-fail rule.
func (s *Service) AddExplanation(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.explanations = append(s.explanations, s.prefix+text)
}

// Points sums the weights of passing expectations since the last Reset.
// OPTIONAL and OPTIONAL_NOT never contribute. The sum is not clamped; use Clamp.
func (s *Service) Points() int { return s.points }

// PassCount returns the passing evaluations since the last Reset.
func (s *Service) PassCount() int { return s.passCount }

// FailCount returns the failing evaluations since the last Reset.
func (s *Service) FailCount() int { return len(s.outcomes) - s.passCount }

// Explanations returns a copy of the current subject's explanations.
func (s *Service) Explanations() []string {
	out := make([]string, len(s.explanations))
	copy(out, s.explanations)
	return out
}

// Outcomes returns a copy of the current subject's outcomes.
func (s *Service) Outcomes() []model.TestOutcome {
	out := make([]model.TestOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Counters returns the counter set tallies are recorded into.
func (s *Service) Counters() *counter.Set { return s.counters }

// Clamp bounds points into [0, MaxPoints].
func Clamp(points int) int {
	switch {
	case points < 0:
		return 0
	case points > MaxPoints:
		return MaxPoints
	}
	return points
}
