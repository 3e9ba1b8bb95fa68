package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"rigup/internal/journal"
	"rigup/internal/logging"
	"rigup/internal/provision"
	"rigup/internal/stage"
)

func newProvisionCommand(ctx *commandContext) *cobra.Command {
	var noJournal bool

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Bring this host to the target rigio state",
		Long: "Provision executes the full dependency-ordered plan: OS packages, " +
			"principals, privilege artifacts, the DKMS-managed kernel module, the " +
			"control application build, and service activation. Every stage is " +
			"idempotent; re-run after fixing whatever a failed run reported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Geteuid() != 0 {
				return reexecWithSudo()
			}

			cfg := ctx.configValue()
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			deps := provision.DefaultDeps(cfg, logger)
			kernel, err := deps.Inspector.KernelRelease()
			if err != nil {
				return fmt.Errorf("determine running kernel: %w", err)
			}

			var opts []provision.Option
			if cfg.Journal.Enabled && !noJournal {
				store, err := journal.Open(cfg.JournalPath())
				if err != nil {
					logger.Warn("run journal unavailable", logging.Error(err))
				} else {
					defer store.Close()
					opts = append(opts, provision.WithJournal(store))
				}
			}

			orch := provision.New(cfg, logger, kernel, provision.BuildPlan(cfg, kernel, deps), opts...)
			report, runErr := orch.Run(cmd.Context())
			if report != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderOutcomes(report))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Skip recording this run in the journal")
	return cmd
}

// reexecWithSudo replaces the current process with a sudo invocation of the
// same command line so the operator is not required to remember sudo. sudo
// preserves the invoking user in SUDO_USER, which the admin-membership stage
// reads.
func reexecWithSudo() error {
	sudoPath, err := exec.LookPath("sudo")
	if err != nil {
		return errors.New("provisioning requires root; rerun as root or install sudo")
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	argv := append([]string{"sudo", exe}, os.Args[1:]...)
	if err := unix.Exec(sudoPath, argv, os.Environ()); err != nil {
		return fmt.Errorf("re-exec under sudo: %w", err)
	}
	return nil
}

func renderOutcomes(report *provision.Report) string {
	rows := make([][]string, 0, len(report.Outcomes))
	for i, outcome := range report.Outcomes {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			stage.Label(outcome.Step),
			string(outcome.Policy),
			string(outcome.Status),
			outcome.Detail,
		})
	}
	summary := renderTable(
		[]string{"#", "Step", "Policy", "Status", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
	header := fmt.Sprintf("Run %s on kernel %s\n", report.RunID, report.KernelRelease)
	return header + summary
}
