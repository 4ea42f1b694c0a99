package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/ingest"
)

func newScheduleCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <loan account>",
		Short: "Parse a loan schedule and print it without touching the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, flags, false)
			if err != nil {
				return err
			}

			var loan *config.Loan
			for i := range e.cfg.Loans {
				if e.cfg.Loans[i].Account == args[0] {
					loan = &e.cfg.Loans[i]
				}
			}
			if loan == nil {
				return fmt.Errorf("no loan named %q in config", args[0])
			}

			res, err := ingest.NewRunner(nil, e.cfg, e.root).ParseSchedule(e.ctx, *loan)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NO\tDUE\tREPAYMENT\tPRINCIPAL\tINTEREST\tBALANCE")
			for _, en := range res.Entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					en.InstallmentNo, en.DueDate.Format("2006-01-02"),
					en.RepaymentAmount.StringFixed(2), en.PrincipalComponent.StringFixed(2),
					en.InterestComponent.StringFixed(2), en.BalanceAfter.StringFixed(2))
			}
			tw.Flush()
			fmt.Fprintf(w, "\naccepted=%d skipped=%d ambiguous=%d\n", res.Accepted, res.Skipped, res.Ambiguous)
			for _, issue := range res.Issues {
				fmt.Fprintf(w, "  %v\n", issue)
			}
			return nil
		},
	}
}
