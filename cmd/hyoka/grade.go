package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hyoka"
)

type gradeFlags struct {
	exercise string
	input    string
	csv      string
	report   string
	outbox   string
	textfile string
	db       string
	lang     string
	seed     int64
}

func newGradeCmd(c *cli) *cobra.Command {
	var f gradeFlags

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a batch of messages and write the report and feedback",
		Example: `  hyoka grade --exercise eto.yaml --input messages.ndjson --csv report.csv
  hyoka grade -e eto.yaml --outbox feedback.ndjson --db sqlite://runs.db < messages.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runGrade(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.exercise, "exercise", "e", "", "exercise definition YAML (HYOKA_EXERCISE)")
	fl.StringVarP(&f.input, "input", "i", "", `messages as JSON array or NDJSON, "-" for stdin (HYOKA_INPUT)`)
	fl.StringVar(&f.csv, "csv", "", "write the participant table as CSV (HYOKA_REPORT_CSV)")
	fl.StringVar(&f.report, "report", "", `write the text report to this file, "-" for stdout (HYOKA_REPORT_TEXT)`)
	fl.StringVar(&f.outbox, "outbox", "", "write feedback envelopes as NDJSON (HYOKA_OUTBOX)")
	fl.StringVar(&f.textfile, "textfile", "", "write run metrics for the node_exporter textfile collector (HYOKA_PROM_TEXTFILE)")
	fl.StringVar(&f.db, "db", "", "store the run: sqlite://path or postgres://... (HYOKA_DATABASE_URL)")
	fl.StringVar(&f.lang, "lang", "", "BCP 47 tag for number formatting (HYOKA_LANGUAGE)")
	fl.Int64Var(&f.seed, "seed", 0, "location jitter seed (HYOKA_SEED)")
	return cmd
}

func (c *cli) runGrade(cmd *cobra.Command, f gradeFlags) error {
	opts := []hyoka.Option{
		hyoka.WithLogger(c.logger),
		hyoka.WithVersion(version),
	}
	changed := cmd.Flags().Changed
	if changed("exercise") {
		opts = append(opts, hyoka.WithExercisePath(f.exercise))
	}
	if changed("input") {
		opts = append(opts, hyoka.WithInputPath(f.input))
	}
	if changed("csv") {
		opts = append(opts, hyoka.WithCSVPath(f.csv))
	}
	if changed("outbox") {
		opts = append(opts, hyoka.WithOutboxPath(f.outbox))
	}
	if changed("textfile") {
		opts = append(opts, hyoka.WithTextfilePath(f.textfile))
	}
	if changed("db") {
		opts = append(opts, hyoka.WithDatabaseURL(f.db))
	}
	if changed("lang") {
		opts = append(opts, hyoka.WithLanguage(f.lang))
	}
	if changed("seed") {
		opts = append(opts, hyoka.WithSeed(f.seed))
	}

	// The report goes to the command's stdout unless a file is named, here
	// or in the environment.
	switch {
	case changed("report") && f.report != "-":
		out, err := os.Create(f.report)
		if err != nil {
			return fmt.Errorf("create report %s: %w", f.report, err)
		}
		defer func() { _ = out.Close() }()
		opts = append(opts, hyoka.WithReportWriter(out))
	case changed("report"), os.Getenv("HYOKA_REPORT_TEXT") == "":
		opts = append(opts, hyoka.WithReportWriter(cmd.OutOrStdout()))
	}

	app, err := hyoka.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			c.logger.Error("close", "error", err)
		}
	}()

	return app.Run(cmd.Context())
}
