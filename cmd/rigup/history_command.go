package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rigup/internal/journal"
	"rigup/internal/stage"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded provisioning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if runID != "" {
				steps, err := store.RunSteps(cmd.Context(), runID)
				if err != nil {
					return fmt.Errorf("load run steps: %w", err)
				}
				rows := make([][]string, 0, len(steps))
				for _, step := range steps {
					detail := step.Detail
					if step.Error != "" {
						detail = step.Error
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", step.Seq+1),
						stage.Label(step.Name),
						string(step.Policy),
						string(step.Status),
						step.Duration.Round(time.Millisecond).String(),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Step", "Policy", "Status", "Duration", "Detail"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			}

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load run history: %w", err)
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				finished := "-"
				if run.FinishedAt != nil {
					finished = run.FinishedAt.Format(time.RFC3339)
				}
				rows = append(rows, []string{
					run.ID,
					run.StartedAt.Format(time.RFC3339),
					finished,
					run.KernelRelease,
					run.Status,
					run.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Finished", "Kernel", "Status", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the step outcomes of a single run")
	return cmd
}
