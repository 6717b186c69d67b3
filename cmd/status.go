package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			if store.IsNotFound(err) {
				return eris.Errorf("job %s not found", args[0])
			}
			return eris.Wrap(err, "load job")
		}

		out := struct {
			*model.Job
			Progress float64 `json:"progress"`
		}{Job: job, Progress: job.Status.Progress()}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var (
	jobsWorkspace string
	jobsStatus    string
	jobsLimit     int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{
			WorkspaceID: jobsWorkspace,
			Status:      model.JobStatus(jobsStatus),
			Limit:       jobsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsWorkspace, "workspace", "", "filter by workspace id")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum rows")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
}
