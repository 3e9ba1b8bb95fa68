package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rigup/internal/provision"
	"rigup/internal/stage"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the provisioning plan without touching the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			steps := provision.BuildPlan(cfg, "<running-kernel>", provision.Deps{})

			rows := make([][]string, 0, len(steps))
			for i, step := range steps {
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					stage.Label(step.Name),
					string(step.Policy),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Step", "Policy"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintln(out, "Fatal steps abort the run; advisory steps log and continue.")
			return nil
		},
	}
}
