package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thothlabs/thoth/internal/ingest"
	"github.com/thothlabs/thoth/internal/jobstore"
)

func newIngestCmd() *cobra.Command {
	var (
		force bool
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <source>",
		Short: "Ingest a document source",
		Long: `Start an ingestion job for the named source. By default the command
waits for the job to reach a terminal state and prints the result;
--wait=false returns immediately with the job id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := ingest.NewOrchestrator(env).Ingest(cmd.Context(), args[0], force, "")
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd, job)
			}

			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-ticker.C:
				}

				current, err := env.Jobs.GetJob(cmd.Context(), job.JobID)
				if err != nil {
					return err
				}
				if current == nil {
					return fmt.Errorf("job %s disappeared", job.JobID)
				}
				if current.Status == jobstore.StatusCompleted || current.Status == jobstore.StatusFailed {
					if err := printJSON(cmd, current); err != nil {
						return err
					}
					if current.Status == jobstore.StatusFailed {
						return fmt.Errorf("ingestion failed: %s", current.Error)
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess every file, ignoring incremental state")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the job to finish")
	return cmd
}
