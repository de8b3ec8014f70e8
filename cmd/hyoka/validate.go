package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hyoka/internal/exercise"
	"github.com/ashita-ai/hyoka/internal/source"
)

func newValidateCmd(c *cli) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "validate <exercise.yaml>",
		Short: "Check an exercise definition, and optionally a message file against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := exercise.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			describeExercise(out, ex)
			if input == "" {
				return nil
			}

			msgs, err := source.File{Path: input, Stdin: cmd.InOrStdin()}.Messages(cmd.Context())
			if err != nil {
				return err
			}
			unknown := map[string]int{}
			for _, m := range msgs {
				if _, ok := ex.Rules(m.Type); !ok {
					unknown[m.Type]++
				}
			}
			skipped := 0
			for _, n := range unknown {
				skipped += n
			}
			fmt.Fprintf(out, "messages: %d graded, %d of unexpected type\n", len(msgs)-skipped, skipped)
			c.logger.Debug("validated input", "path", input, "messages", len(msgs), "unexpected_types", len(unknown))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", `also decode this message file, "-" for stdin`)
	return cmd
}

func describeExercise(w io.Writer, ex *exercise.Exercise) {
	fields := 0
	for _, t := range ex.Types {
		fields += len(t.Fields)
	}
	fmt.Fprintf(w, "ok: %s (%s), merge policy %s\n", ex.ID, ex.DisplayName(), ex.MergePolicy)
	fmt.Fprintf(w, "  %d message types, %d field checks\n", len(ex.Types), fields)
	for _, t := range ex.Types {
		fmt.Fprintf(w, "  %-16s %d fields, %d adjustments\n", t.Type, len(t.Fields), len(t.Adjustments))
	}
}
