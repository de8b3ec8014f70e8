package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ashita-ai/hyoka/internal/model"
)

// CSVWriter writes report rows as CSV with a header line.
type CSVWriter struct {
	w io.Writer
}

// NewCSVWriter wraps w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

// WriteRows writes the header and one record per row.
func (c *CSVWriter) WriteRows(ctx context.Context, rows []model.ReportRow) error {
	cw := csv.NewWriter(c.w)
	if err := cw.Write(model.ReportColumns); err != nil {
		return fmt.Errorf("report: csv header: %w", err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(row.Record()); err != nil {
			return fmt.Errorf("report: csv row %s: %w", row.From, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
