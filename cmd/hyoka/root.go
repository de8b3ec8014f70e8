package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hyoka"
	"github.com/ashita-ai/hyoka/internal/config"
)

// cli holds state shared by every subcommand.
type cli struct {
	logOut    io.Writer
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	c := &cli{logOut: logOut}

	root := &cobra.Command{
		Use:   "hyoka",
		Short: "Grade exercise-report messages and compose participant feedback",
		Long: `hyoka grades parsed exercise-report messages against an exercise definition.

Each message is checked field by field; results are folded into one summary per
sender, bad locations are replaced by synthetic ones, and the run produces a text
report, a participant table and one feedback message per sender.

Configuration comes from HYOKA_* environment variables (and a .env file);
flags override them.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setupLogging(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", hyoka.ErrInvalidConfig, err)
	})
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error (default HYOKA_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "log format: json or text (default HYOKA_LOG_FORMAT or json)")

	root.AddCommand(
		newGradeCmd(c),
		newValidateCmd(c),
		newRunsCmd(c),
		newOutboxCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) setupLogging(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", hyoka.ErrInvalidConfig, err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	level, err := cfg.Level()
	if err != nil {
		return fmt.Errorf("%w: %w", hyoka.ErrInvalidConfig, err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("%w: log format must be json or text, got %q", hyoka.ErrInvalidConfig, cfg.LogFormat)
	}
	c.logger = newLogger(c.logOut, level, cfg.LogFormat)
	slog.SetDefault(c.logger)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "hyoka %s\n", version)
			return err
		},
	}
}
