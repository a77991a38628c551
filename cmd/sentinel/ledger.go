package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polisai/sentinel/pkg/audit"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect a persisted audit ledger",
	}
	cmd.PersistentFlags().String("path", "data/audit", "Ledger directory")
	cmd.AddCommand(newLedgerVerifyCmd(), newLedgerTailCmd())
	return cmd
}

func openLedgerFromFlags(cmd *cobra.Command) (*audit.Ledger, error) {
	path, err := cmd.Flags().GetString("path")
	if err != nil {
		return nil, fmt.Errorf("failed to get path flag: %w", err)
	}
	ledger, err := audit.OpenLedger(audit.LedgerConfig{Path: path})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return ledger, nil
}

func newLedgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the ledger and check every hash link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := openLedgerFromFlags(cmd)
			if err != nil {
				return err
			}
			defer ledger.Close()

			count, err := ledger.Verify(cmd.Context())
			if err != nil {
				return fmt.Errorf("ledger verification failed after %d records: %w", count, err)
			}
			last, _, err := ledger.Last()
			if err != nil {
				return err
			}
			head := audit.GenesisHash
			if count > 0 {
				head = last.Hash
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ledger ok: %d records, head %s\n", count, head)
			return err
		},
	}
}

func newLedgerTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _ := cmd.Flags().GetInt("lines")
			ledger, err := openLedgerFromFlags(cmd)
			if err != nil {
				return err
			}
			defer ledger.Close()

			records, err := ledger.Records(cmd.Context())
			if err != nil {
				return err
			}
			if n > 0 && len(records) > n {
				records = records[len(records)-n:]
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				line := fmt.Sprintf("%6d  tick=%-6d mode=%-14s scale=%-4g intent=%-9s hash=%s prev=%s",
					r.Sequence, r.Tick, r.Mode, r.SafetyFactor, r.Intent.Type, r.Hash, r.PrevHash)
				if r.Rejected {
					line += "  rejected"
				}
				if r.Note != "" {
					line += "  note=" + r.Note
				}
				if _, err := fmt.Fprintln(out, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntP("lines", "n", 10, "Number of records to print (0 for all)")
	return cmd
}
