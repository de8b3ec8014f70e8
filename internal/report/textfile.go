package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashita-ai/hyoka/internal/counter"
	"github.com/ashita-ai/hyoka/internal/model"
)

// TextfileExporter writes the run's counters in the Prometheus text format,
// for a node_exporter textfile collector to pick up after the batch exits.
type TextfileExporter struct {
	registry *prometheus.Registry
}

// NewTextfileExporter registers the counter values and headline stats of a
// finished run under the given exercise id.
func NewTextfileExporter(exerciseID string, counters *counter.Set, summaries []model.ParticipantSummary) (*TextfileExporter, error) {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"exercise": exerciseID}

	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "hyoka_counter_value",
		Help:        "Occurrences of a value per tracked counter label.",
		ConstLabels: constLabels,
	}, []string{"label", "value"})
	participants := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "hyoka_participants",
		Help:        "Senders that contributed at least one message.",
		ConstLabels: constLabels,
	})
	correct := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "hyoka_participants_correct",
		Help:        "Senders without any finding.",
		ConstLabels: constLabels,
	})
	messages := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "hyoka_messages",
		Help:        "Messages graded.",
		ConstLabels: constLabels,
	})
	for _, c := range []prometheus.Collector{values, participants, correct, messages} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("report: register metric: %w", err)
		}
	}

	if counters != nil {
		for _, label := range counters.Labels() {
			c, _ := counters.Lookup(label)
			for _, e := range c.Entries(counter.ByKeyAsc) {
				values.WithLabelValues(label, e.Key).Set(float64(e.Count))
			}
		}
	}
	st := Tally(summaries)
	participants.Set(float64(st.Participants))
	correct.Set(float64(st.Correct))
	messages.Set(float64(st.Messages))

	return &TextfileExporter{registry: reg}, nil
}

// Gatherer exposes the registry, mainly for tests.
func (t *TextfileExporter) Gatherer() prometheus.Gatherer { return t.registry }

// WriteFile atomically writes the metrics to path.
func (t *TextfileExporter) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, t.registry); err != nil {
		return fmt.Errorf("report: write textfile %s: %w", path, err)
	}
	return nil
}
