package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"bosonci/internal/security"
)

func newKeysCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "keys",
		Short: "Manage the ledger signing keys",
	}
	c.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Create the ledger key pair in --key-dir unless it already exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, _, created, err := security.EnsureKeyPair(a.cfg.KeyDir)
			if err != nil {
				return err
			}
			state := "existing"
			if created {
				state = "generated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key pair in %s\npublic key: %s\n", state, a.cfg.KeyDir, hex.EncodeToString(pub))
			return nil
		},
	})
	return c
}
