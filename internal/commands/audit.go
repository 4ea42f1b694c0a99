package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the ledger invariants without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, flags, true)
			if err != nil {
				return err
			}
			defer e.close()

			findings, err := e.runner().Audit(e.ctx)
			if err != nil {
				return err
			}
			printFindings(cmd.OutOrStdout(), findings)
			if len(findings) > 0 {
				return fmt.Errorf("%w: %d finding(s)", errFindings, len(findings))
			}
			return nil
		},
	}
}
