package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bosonci/internal/ledger"
)

func newLedgerCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the signed step ledger",
	}
	c.AddCommand(newLedgerInspectCmd(a), newLedgerVerifyCmd(a))
	return c
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	if a.cfg.LedgerPath == "" {
		return nil, errors.New("no ledger configured: pass --ledger or set BOSONCI_LEDGER")
	}
	return ledger.Open(a.cfg.LedgerPath)
}

func newLedgerInspectCmd(a *app) *cobra.Command {
	var runID string
	c := &cobra.Command{
		Use:   "inspect",
		Short: "List ledger blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tRUN\tJOB\tSTEP\tEXIT\tCOMMAND\tHASH")
			for _, b := range l.Blocks() {
				if runID != "" && b.RunID != runID {
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n", b.Index, b.RunID, b.Job, b.Step, b.ExitCode, b.Command, shortHash(b.Hash))
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVar(&runID, "run", "", "only show blocks of this run")
	return c
}

func newLedgerVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every block hash, link and signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			if err := l.VerifyChain(); err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("ledger verification failed: %w", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger ok: %d block(s)\n", l.Len())
			return nil
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
