// Package feedback turns a participant summary into the text of the
// feedback message and the envelope handed to the delivery collaborator.
// It performs no transport.
package feedback

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/ashita-ai/hyoka/internal/model"
)

// PerfectBody is the body used when a summary has no explanations at all.
const PerfectBody = "Perfect messages!"

// DefaultSubject is used when no subject template is configured.
const DefaultSubject = "Feedback on your {{.Exercise}} message"

// Namespace is the default UUID namespace for correlation ids.
var Namespace = uuid.MustParse("6f1c2b8e-3d4a-5e6f-8a9b-0c1d2e3f4a5b")

// Config holds exercise-supplied boilerplate.
type Config struct {
	ExerciseID      string
	ExerciseName    string
	SubjectTemplate string
	Preamble        string
	Postscript      string
	Namespace       uuid.UUID
}

// Composer builds feedback subjects, bodies and envelopes.
type Composer struct {
	cfg     Config
	subject *template.Template
}

// subjectData is exposed to the subject template.
type subjectData struct {
	Exercise   string
	ExerciseID string
	From       string
}

// New parses the subject template. A template error is a configuration error.
func New(cfg Config) (*Composer, error) {
	if cfg.SubjectTemplate == "" {
		cfg.SubjectTemplate = DefaultSubject
	}
	if cfg.ExerciseName == "" {
		cfg.ExerciseName = cfg.ExerciseID
	}
	if cfg.Namespace == uuid.Nil {
		cfg.Namespace = Namespace
	}
	tmpl, err := template.New("subject").Option("missingkey=error").Parse(cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("feedback: parse subject template: %w", err)
	}
	return &Composer{cfg: cfg, subject: tmpl}, nil
}

// CorrelationID returns the stable id for a sender in this exercise, so a
// rerun over the same input yields the same id and replies can be matched.
func (c *Composer) CorrelationID(sender string) uuid.UUID {
	return uuid.NewSHA1(c.cfg.Namespace, []byte(c.cfg.ExerciseID+"/"+sender))
}

// Compose returns the subject and body for summary.
func (c *Composer) Compose(s model.ParticipantSummary) (string, string, error) {
	var subj bytes.Buffer
	if err := c.subject.Execute(&subj, subjectData{
		Exercise:   c.cfg.ExerciseName,
		ExerciseID: c.cfg.ExerciseID,
		From:       s.From,
	}); err != nil {
		return "", "", fmt.Errorf("feedback: render subject for %s: %w", s.From, err)
	}

	var b strings.Builder
	if p := strings.TrimSpace(c.cfg.Preamble); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	if len(s.Explanations) > 0 {
		b.WriteString(strings.Join(s.Explanations, "\n"))
	} else {
		b.WriteString(PerfectBody)
	}
	b.WriteString("\n")
	if p := strings.TrimSpace(c.cfg.Postscript); p != "" {
		b.WriteString("\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nid: %s\n", c.CorrelationID(s.From))

	return strings.TrimSpace(subj.String()), b.String(), nil
}

// Envelope composes the transport-ready message for summary.
func (c *Composer) Envelope(s model.ParticipantSummary) (model.Envelope, error) {
	subject, body, err := c.Compose(s)
	if err != nil {
		return model.Envelope{}, err
	}
	return model.Envelope{
		Recipient:     s.From,
		Subject:       subject,
		Body:          body,
		CorrelationID: c.CorrelationID(s.From),
	}, nil
}

// Envelopes composes one envelope per summary, in order.
func (c *Composer) Envelopes(summaries []model.ParticipantSummary) ([]model.Envelope, error) {
	out := make([]model.Envelope, 0, len(summaries))
	for _, s := range summaries {
		env, err := c.Envelope(s)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}
