package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MergePolicy decides how shared attributes (to, location, timestamp) are
// merged when a sender submits more than one message.
type MergePolicy string

const (
	FirstWins MergePolicy = "first_wins"
	LastWins  MergePolicy = "last_wins"
)

// ParseMergePolicy accepts "first_wins"/"last_wins" (and their dashed forms).
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "first_wins", "first-wins", "first":
		return FirstWins, nil
	case "last_wins", "last-wins", "last":
		return LastWins, nil
	}
	return "", fmt.Errorf("model: unknown merge policy %q", s)
}

// PerfectMessagePrefix starts the explanation synthesized for a message with
// no findings.
const PerfectMessagePrefix = "Perfect Message! id="

// ParticipantSummary is the per-sender aggregate of every message the sender
// submitted during a run.
type ParticipantSummary struct {
	From                string     `json:"from"`
	To                  *string    `json:"to,omitempty"`
	Location            *LatLon    `json:"location,omitempty"`
	Timestamp           *time.Time `json:"timestamp,omitempty"`
	Explanations        []string   `json:"explanations"`
	PerfectMessageCount int        `json:"perfect_message_count"`
	MessageCount        int        `json:"message_count"`
	FindingCount        int        `json:"finding_count"`
	Points              int        `json:"points"`
	Types               []string   `json:"types,omitempty"`

	// LocationSynthetic is set when Location was produced by the sanitizer
	// and must not be read as a real position.
	LocationSynthetic bool `json:"location_synthetic,omitempty"`
}

// Correct reports whether the sender has no findings at all.
func (s ParticipantSummary) Correct() bool { return s.FindingCount == 0 }

// Findings returns the explanations without synthesized perfect-message markers.
func (s ParticipantSummary) Findings() []string {
	out := make([]string, 0, s.FindingCount)
	for _, e := range s.Explanations {
		if IsPerfectMarker(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// IsPerfectMarker reports whether explanation was synthesized for a perfect message.
func IsPerfectMarker(explanation string) bool {
	return strings.HasPrefix(explanation, PerfectMessagePrefix)
}

// Envelope is a composed feedback message queued for external delivery.
type Envelope struct {
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}

// ReportRow is one participant line of the tabular report.
type ReportRow struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	FeedbackCount int    `json:"feedback_count"`
	FeedbackText  string `json:"feedback_text"`
}

// ReportColumns are the header names of ReportRow in column order.
var ReportColumns = []string{"from", "to", "latitude", "longitude", "date", "time", "feedbackCount", "feedback"}

// Record returns the row as strings in ReportColumns order.
func (r ReportRow) Record() []string {
	return []string{r.From, r.To, r.Latitude, r.Longitude, r.Date, r.Time, strconv.Itoa(r.FeedbackCount), r.FeedbackText}
}
