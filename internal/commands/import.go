package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/reconciler/internal/ingest"
	"github.com/cleared-dev/reconciler/internal/ledger"
)

// errFindings fails a command whose ledger did not pass the audit.
var errFindings = errors.New("ledger audit failed")

func newImportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import statements and schedules, link loan payments and audit the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, flags, true)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.runner().Run(e.ctx)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			printReport(cmd.OutOrStdout(), rep)
			e.record(cmd, rep, "import")
			return reportErr(rep)
		},
	}
}

func reportErr(rep *ingest.Report) error {
	if err := rep.Err(); err != nil {
		return err
	}
	if len(rep.Findings) > 0 {
		return fmt.Errorf("%w: %d finding(s)", errFindings, len(rep.Findings))
	}
	return nil
}

func printReport(w io.Writer, rep *ingest.Report) {
	fmt.Fprintf(w, "Run %s\n", rep.RunID)
	if len(rep.Accounts) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ACCOUNT\tFORMAT\tROWS\tSKIPPED\tEMITTED\tGAP\tBALANCE")
		for _, a := range rep.Accounts {
			if a.Err != nil {
				fmt.Fprintf(tw, "%s\terror: %v\t\t\t\t\t\n", a.Account, a.Err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				a.Account, strings.Join(a.Formats, "+"), a.Records, a.Skipped, a.Emitted,
				a.Gap.StringFixed(2), a.Balance.StringFixed(2))
		}
		tw.Flush()
	}
	printLoans(w, rep)
	if len(rep.Unconfigured) > 0 {
		fmt.Fprintf(w, "\nNot in config: %s\n", strings.Join(rep.Unconfigured, ", "))
	}
	printFindings(w, rep.Findings)
}

func printLoans(w io.Writer, rep *ingest.Report) {
	if len(rep.Loans) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOAN\tACCEPTED\tAMBIGUOUS\tMATCHED\tBACKFILLED\tOVERDUE\tBALANCE")
	for _, l := range rep.Loans {
		if l.Err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\t\t\t\t\t\n", l.Account, l.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			l.Account, l.Accepted, l.Ambiguous, l.Matched, l.Backfilled, l.Overdue, l.Balance.StringFixed(2))
	}
	tw.Flush()
}

func printFindings(w io.Writer, findings []ledger.Finding) {
	fmt.Fprintln(w)
	if len(findings) == 0 {
		fmt.Fprintln(w, "Audit: ok")
		return
	}
	fmt.Fprintf(w, "Audit: %d finding(s)\n", len(findings))
	for _, f := range findings {
		fmt.Fprintf(w, "  %s\n", f.Error())
	}
}
