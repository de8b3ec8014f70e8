package hyoka

import (
	"time"

	"github.com/google/uuid"
)

// Message is one parsed exercise-report message as supplied by a
// MessageSource. Fields holds the form's named values; a key that is absent
// is treated differently from a key present with an empty value.
type Message struct {
	ID       string            `json:"id"`
	From     string            `json:"from"`
	To       string            `json:"to,omitempty"`
	Type     string            `json:"type"`
	Date     time.Time         `json:"date"`
	Location *LatLon           `json:"location,omitempty"`
	Fields   map[string]string `json:"fields"`
}

// LatLon is a pair of decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Envelope is a composed feedback message ready for delivery to a sender.
// CorrelationID is stable for a sender within an exercise.
type Envelope struct {
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}

// Row is one participant line of the tabular report.
type Row struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	FeedbackCount int    `json:"feedback_count"`
	Feedback      string `json:"feedback"`
}

// Result is the finalized outcome of one grading run.
type Result struct {
	RunID        uuid.UUID
	ExerciseID   string
	ExerciseName string
	// Fingerprint is a hash over every participant summary; equal inputs
	// graded under equal rules produce equal fingerprints.
	Fingerprint  string
	Participants int
	Correct      int
	Messages     int
	Skipped      int
	GradedAt     time.Time
	Rows         []Row
	Envelopes    []Envelope
	// Report is the human-readable summary and counter histograms.
	Report string
}
