package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/store"
)

var (
	enqueueCompany   string
	enqueueContact   string
	enqueueWorkspace string
	enqueueWait      bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a lead for enrichment",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		input := model.LeadInput{Company: enqueueCompany, Contact: enqueueContact}
		if input.Empty() {
			return eris.New("at least one of --company or --contact is required")
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		lead, err := env.Store.EnsureLead(ctx, enqueueWorkspace, input)
		if err != nil {
			return eris.Wrap(err, "ensure lead")
		}

		job, err := env.Store.CreateJob(ctx, lead.ID, enqueueWorkspace)
		if err != nil {
			if store.IsDuplicateActiveJob(err) {
				return eris.New("an active job already exists for this lead")
			}
			return eris.Wrap(err, "create job")
		}

		if enqueueWait {
			// Run to completion in-process instead of publishing.
			if err := newWorker(env).RunInline(ctx, job.ID); err != nil {
				return eris.Wrap(err, "run job")
			}
			job, err = env.Store.GetJob(ctx, job.ID)
			if err != nil {
				return eris.Wrap(err, "reload job")
			}
		} else {
			if err := env.Broker.Enqueue(ctx, job.ID); err != nil {
				return eris.Wrap(err, "publish job")
			}
			zap.L().Info("job queued", zap.String("job_id", job.ID))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueCompany, "company", "", "company name")
	enqueueCmd.Flags().StringVar(&enqueueContact, "contact", "", "contact email or name")
	enqueueCmd.Flags().StringVar(&enqueueWorkspace, "workspace", "default", "workspace id")
	enqueueCmd.Flags().BoolVar(&enqueueWait, "wait", false, "run the job in-process and wait for the result")
	rootCmd.AddCommand(enqueueCmd)
}
