package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect ingestion jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		source string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, cleanup, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			jobs, err := env.Jobs.ListJobs(cmd.Context(), source, status, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, jobs)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Filter by source")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs (default 50)")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	var includeSubJobs bool

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job with its aggregated sub-job view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			detail, err := env.Jobs.GetJobWithSubJobs(cmd.Context(), args[0], includeSubJobs)
			if err != nil {
				return err
			}
			if detail == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			return printJSON(cmd, detail)
		},
	}

	cmd.Flags().BoolVar(&includeSubJobs, "sub-jobs", false, "Include individual sub-job records")
	return cmd
}
