// Package report formats the end-of-run aggregate report: participant
// totals, the correct-message rate, counter histograms and the per
// participant table rows handed to a writer collaborator. It holds no
// grading logic.
package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/model"
)

// Date and time layouts of ReportRow.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// TableWriter receives the participant rows of a run.
type TableWriter interface {
	WriteRows(ctx context.Context, rows []model.ReportRow) error
}

// Emitter formats a run's summaries and counters.
type Emitter struct {
	counters    *counter.Set
	printer     *message.Printer
	fingerprint string
	title       string
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLanguage selects number formatting; the default is English.
func WithLanguage(tag language.Tag) Option {
	return func(e *Emitter) { e.printer = message.NewPrinter(tag) }
}

// WithFingerprint adds the run fingerprint line to the summary.
func WithFingerprint(fp string) Option {
	return func(e *Emitter) { e.fingerprint = fp }
}

// WithTitle sets the heading of the summary block.
func WithTitle(title string) Option {
	return func(e *Emitter) { e.title = title }
}

// New creates an Emitter over counters (which may be nil).
func New(counters *counter.Set, opts ...Option) *Emitter {
	if counters == nil {
		counters = counter.NewSet()
	}
	e := &Emitter{counters: counters, printer: message.NewPrinter(language.English)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats are the headline numbers of a run.
type Stats struct {
	Participants    int
	Correct         int
	Messages        int
	PerfectMessages int
}

// CorrectPercent returns Correct as a percentage of Participants.
func (s Stats) CorrectPercent() float64 {
	if s.Participants == 0 {
		return 0
	}
	return 100 * float64(s.Correct) / float64(s.Participants)
}

// Tally computes Stats from summaries.
func Tally(summaries []model.ParticipantSummary) Stats {
	st := Stats{Participants: len(summaries)}
	for _, s := range summaries {
		if s.Correct() {
			st.Correct++
		}
		st.Messages += s.MessageCount
		st.PerfectMessages += s.PerfectMessageCount
	}
	return st
}

// Summary renders the headline block.
func (e *Emitter) Summary(summaries []model.ParticipantSummary) string {
	st := Tally(summaries)
	var b strings.Builder
	if e.title != "" {
		b.WriteString(e.title)
		b.WriteString("\n\n")
	}
	e.printer.Fprintf(&b, "Participants: %d\n", st.Participants)
	e.printer.Fprintf(&b, "Correct Messages: %d (%.2f%%)\n", st.Correct, st.CorrectPercent())
	e.printer.Fprintf(&b, "Messages: %d\n", st.Messages)
	e.printer.Fprintf(&b, "Perfect Messages: %d\n", st.PerfectMessages)
	if e.fingerprint != "" {
		fmt.Fprintf(&b, "Fingerprint: %s\n", e.fingerprint)
	}
	return b.String()
}

// Histograms renders every counter in registration order, each in its
// configured order, with the share of the counter total per value.
func (e *Emitter) Histograms() string {
	var b strings.Builder
	for _, label := range e.counters.Labels() {
		c, _ := e.counters.Lookup(label)
		total := c.Total()
		fmt.Fprintf(&b, "\n%s:\n", label)
		if total == 0 {
			b.WriteString("  (none)\n")
			continue
		}
		for _, entry := range c.Entries(e.counters.Order(label)) {
			pct := 100 * float64(entry.Count) / float64(total)
			e.printer.Fprintf(&b, "  %s: %d (%.2f%%)\n", displayKey(entry.Key), entry.Count, pct)
		}
	}
	return b.String()
}

// Text is Summary followed by Histograms.
func (e *Emitter) Text(summaries []model.ParticipantSummary) string {
	return e.Summary(summaries) + e.Histograms()
}

// Rows converts summaries into table rows, in the given order.
func Rows(summaries []model.ParticipantSummary) []model.ReportRow {
	rows := make([]model.ReportRow, 0, len(summaries))
	for _, s := range summaries {
		row := model.ReportRow{
			From:          s.From,
			FeedbackCount: s.FindingCount,
			FeedbackText:  strings.Join(s.Explanations, "\n"),
		}
		if s.To != nil {
			row.To = *s.To
		}
		if s.Location != nil {
			row.Latitude = strconv.FormatFloat(s.Location.Lat, 'f', 6, 64)
			row.Longitude = strconv.FormatFloat(s.Location.Lon, 'f', 6, 64)
		}
		if s.Timestamp != nil {
			row.Date = s.Timestamp.UTC().Format(DateLayout)
			row.Time = s.Timestamp.UTC().Format(TimeLayout)
		}
		rows = append(rows, row)
	}
	return rows
}

// Emit hands the rows of summaries to w.
func (e *Emitter) Emit(ctx context.Context, summaries []model.ParticipantSummary, w TableWriter) error {
	if err := w.WriteRows(ctx, Rows(summaries)); err != nil {
		return fmt.Errorf("report: write rows: %w", err)
	}
	return nil
}

func displayKey(k string) string {
	if k == "" {
		return "(blank)"
	}
	return k
}
