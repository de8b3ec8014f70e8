// Package aggregate folds per-message grading results into one summary per
// sender. Each sender gets an explicit Participant that callers pass around;
// there is no shared "current message" state.
package aggregate

import (
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/hyoka/internal/model"
)

// Aggregator owns the Participant of every sender seen in a run, in
// first-seen order. It is not safe for concurrent use.
type Aggregator struct {
	policy      model.MergePolicy
	markPerfect bool

	participants map[string]*Participant
	order        []string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithoutPerfectMarker disables the synthesized "Perfect Message!"
// explanation; PerfectMessageCount is still maintained.
func WithoutPerfectMarker() Option {
	return func(a *Aggregator) { a.markPerfect = false }
}

// New creates an Aggregator with the given merge policy. An empty policy
// means FirstWins.
func New(policy model.MergePolicy, opts ...Option) *Aggregator {
	if policy == "" {
		policy = model.FirstWins
	}
	a := &Aggregator{
		policy:       policy,
		markPerfect:  true,
		participants: make(map[string]*Participant),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the merge policy.
func (a *Aggregator) Policy() model.MergePolicy { return a.policy }

// BeginMessage returns the sender's Participant, creating it on first sight,
// and opens a message scope whose explanations carry prefix.
func (a *Aggregator) BeginMessage(sender, prefix string) *Participant {
	p := a.participant(sender)
	p.open = true
	p.prefix = prefix
	p.start = len(p.summary.Explanations)
	return p
}

func (a *Aggregator) participant(sender string) *Participant {
	p, ok := a.participants[sender]
	if !ok {
		p = &Participant{
			policy:      a.policy,
			markPerfect: a.markPerfect,
			summary:     model.ParticipantSummary{From: sender, Explanations: []string{}},
		}
		a.participants[sender] = p
		a.order = append(a.order, sender)
	}
	return p
}

// Participant returns the sender's Participant if one exists.
func (a *Aggregator) Participant(sender string) (*Participant, bool) {
	p, ok := a.participants[sender]
	return p, ok
}

// Len returns the number of senders.
func (a *Aggregator) Len() int { return len(a.order) }

// Senders returns sender ids in first-seen order.
func (a *Aggregator) Senders() []string { return slices.Clone(a.order) }

// Summaries returns a copy of every summary in first-seen order.
func (a *Aggregator) Summaries() []model.ParticipantSummary {
	out := make([]model.ParticipantSummary, 0, len(a.order))
	for _, sender := range a.order {
		out = append(out, a.participants[sender].Summary())
	}
	return out
}

// CorrectCount returns the number of senders without any finding.
// Synthesized perfect-message markers are not findings.
func (a *Aggregator) CorrectCount() int {
	n := 0
	for _, p := range a.participants {
		if p.summary.Correct() {
			n++
		}
	}
	return n
}

// Merge folds other into a. Senders new to a are appended in other's order;
// senders present in both are combined as if other's messages arrived after
// a's. Used to reduce per-sender partial results.
func (a *Aggregator) Merge(other *Aggregator) {
	for _, sender := range other.order {
		src := other.participants[sender].summary
		dst := a.participant(sender)
		dst.mergeAttributes(src.To, src.Location, src.Timestamp)
		if src.LocationSynthetic && dst.summary.Location == src.Location {
			dst.summary.LocationSynthetic = true
		}
		dst.summary.Explanations = append(dst.summary.Explanations, src.Explanations...)
		dst.summary.PerfectMessageCount += src.PerfectMessageCount
		dst.summary.MessageCount += src.MessageCount
		dst.summary.FindingCount += src.FindingCount
		dst.summary.Points += src.Points
		for _, t := range src.Types {
			dst.addType(t)
		}
	}
}

// Participant is one sender's running summary.
type Participant struct {
	policy      model.MergePolicy
	markPerfect bool
	summary     model.ParticipantSummary

	open   bool
	prefix string
	start  int
}

// Fold merges one message's attributes and explanations into the summary.
// points is the message's final (clamped) score.
func (p *Participant) Fold(msg model.Message, explanations []string, points int) {
	var loc *model.LatLon
	if model.ValidLocation(msg.Location) {
		l := *msg.Location
		loc = &l
	}
	var ts *time.Time
	if !msg.Date.IsZero() {
		d := msg.Date
		ts = &d
	}
	p.mergeAttributes(msg.Recipient(), loc, ts)

	p.summary.Explanations = append(p.summary.Explanations, explanations...)
	p.summary.MessageCount++
	p.summary.Points += points
	if msg.Type != "" {
		p.addType(msg.Type)
	}
}

func (p *Participant) mergeAttributes(to *string, loc *model.LatLon, ts *time.Time) {
	s := &p.summary
	switch p.policy {
	case model.LastWins:
		if to != nil {
			s.To = to
		}
		if loc != nil {
			s.Location = loc
			s.LocationSynthetic = false
		}
		if ts != nil {
			s.Timestamp = ts
		}
	default:
		if s.To == nil {
			s.To = to
		}
		if s.Location == nil {
			s.Location = loc
		}
		if s.Timestamp == nil {
			s.Timestamp = ts
		}
	}
}

func (p *Participant) addType(t string) {
	if !slices.Contains(p.summary.Types, t) {
		p.summary.Types = append(p.summary.Types, t)
	}
}

// EndMessage closes the message scope. When no explanation with the scope's
// prefix was added, a "Perfect Message! id=<messageID>" explanation is
// appended and PerfectMessageCount incremented. It reports whether the
// message was perfect.
func (p *Participant) EndMessage(messageID string) bool {
	if !p.open {
		return false
	}
	p.open = false

	added := p.summary.Explanations[p.start:]
	p.summary.FindingCount += len(added)
	for _, e := range added {
		if strings.HasPrefix(e, p.prefix) {
			return false
		}
	}

	p.summary.PerfectMessageCount++
	if p.markPerfect {
		p.summary.Explanations = append(p.summary.Explanations, model.PerfectMessagePrefix+messageID)
	}
	return true
}

// SetSyntheticLocation installs a sanitizer-made coordinate. It never
// replaces a valid location.
func (p *Participant) SetSyntheticLocation(loc model.LatLon) {
	if model.ValidLocation(p.summary.Location) {
		return
	}
	p.summary.Location = &loc
	p.summary.LocationSynthetic = true
}

// HasValidLocation reports whether the summary holds a usable coordinate.
func (p *Participant) HasValidLocation() bool {
	return model.ValidLocation(p.summary.Location)
}

// Summary returns a copy of the participant's summary.
func (p *Participant) Summary() model.ParticipantSummary {
	s := p.summary
	s.Explanations = slices.Clone(p.summary.Explanations)
	s.Types = slices.Clone(p.summary.Types)
	return s
}
