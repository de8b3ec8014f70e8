package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/hyoka"
	"github.com/ashita-ai/hyoka/internal/config"
	"github.com/ashita-ai/hyoka/internal/storage"
	"github.com/ashita-ai/hyoka/migrations"
)

// openStore connects to the run store named by --db or HYOKA_DATABASE_URL.
func (c *cli) openStore(ctx context.Context, dbURL string) (*storage.DB, error) {
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", hyoka.ErrInvalidConfig, err)
		}
		dbURL = cfg.DatabaseURL
	}
	if dbURL == "" {
		return nil, fmt.Errorf("%w: no database: set --db or HYOKA_DATABASE_URL", hyoka.ErrInvalidConfig)
	}
	db, err := storage.Open(ctx, dbURL, c.logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newRunsCmd(c *cli) *cobra.Command {
	var (
		dbURL      string
		exerciseID string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored grading runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			runs, err := db.ListRuns(cmd.Context(), exerciseID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tEXERCISE\tGRADED\tPARTICIPANTS\tCORRECT\tMESSAGES\tFINGERPRINT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.ExerciseID, r.GradedAt.Format(time.RFC3339), r.Participants, r.Correct, r.Messages, shortFingerprint(r.Fingerprint))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbURL, "db", "", "run store (HYOKA_DATABASE_URL)")
	cmd.Flags().StringVar(&exerciseID, "exercise-id", "", "only runs of this exercise")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func newOutboxCmd(c *cli) *cobra.Command {
	var dbURL string
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and acknowledge stored feedback envelopes",
	}
	cmd.PersistentFlags().StringVar(&dbURL, "db", "", "run store (HYOKA_DATABASE_URL)")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List undelivered feedback envelopes, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			pending, err := db.PendingOutbox(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCORRELATION\tRECIPIENT\tSUBJECT")
			for _, e := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.RunID, e.Envelope.CorrelationID, e.Envelope.Recipient, e.Envelope.Subject)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum envelopes to list")

	ack := &cobra.Command{
		Use:   "ack <run-id> <correlation-id>",
		Short: "Mark a feedback envelope as delivered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: run id: %w", hyoka.ErrInvalidConfig, err)
			}
			corrID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("%w: correlation id: %w", hyoka.ErrInvalidConfig, err)
			}
			db, err := c.openStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := db.MarkDelivered(cmd.Context(), runID, corrID, time.Now()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivered %s/%s\n", runID, corrID)
			return err
		},
	}

	cmd.AddCommand(list, ack)
	return cmd
}
