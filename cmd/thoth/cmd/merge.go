package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thothlabs/thoth/internal/ingest"
)

func newMergeCmd() *cobra.Command {
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "merge <collection>",
		Short: "Merge isolated batch tables into the canonical collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEnv()

			result, err := ingest.NewMerger(env).MergeBatches(cmd.Context(), args[0], cleanup)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&cleanup, "cleanup", true, "Remove merged batch tables")
	return cmd
}
