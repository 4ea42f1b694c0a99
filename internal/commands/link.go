package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLinkCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Re-link loan payments against schedules already in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, flags, true)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.runner().Link(e.ctx)
			if err != nil {
				return fmt.Errorf("link: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s\n", rep.RunID)
			printLoans(cmd.OutOrStdout(), rep)
			printFindings(cmd.OutOrStdout(), rep.Findings)
			e.record(cmd, rep, "link")
			return reportErr(rep)
		},
	}
}
