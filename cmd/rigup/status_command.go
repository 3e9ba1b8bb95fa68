package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rigup/internal/inspect"
	"rigup/internal/preflight"
	"rigup/internal/sysexec"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Inspect host readiness without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			run := sysexec.New()
			insp := inspect.New(run)
			out := cmd.OutOrStdout()

			kernel, err := insp.KernelRelease()
			if err != nil {
				kernel = "unknown (" + err.Error() + ")"
			}
			fmt.Fprintf(out, "Kernel release: %s\n", kernel)
			fmt.Fprintf(out, "Group %s present: %s\n", cfg.Principals.Group, yesNo(insp.GroupExists(cmd.Context(), cfg.Principals.Group)))
			fmt.Fprintf(out, "Service account %s present: %s\n", cfg.Principals.ServiceUser, yesNo(insp.UserExists(cmd.Context(), cfg.Principals.ServiceUser)))
			fmt.Fprintf(out, "Module %s loaded: %s\n", cfg.Module.Name, yesNo(insp.ModuleLoaded(cfg.Module.Name)))
			fmt.Fprintln(out)

			results := preflight.RunAll(cmd.Context(), cfg, run, insp)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				status := "ok"
				if !result.Passed {
					status = "missing"
				}
				rows = append(rows, []string{result.Name, status, result.Detail})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Check", "Status", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
