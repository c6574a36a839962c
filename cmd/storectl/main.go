// Command storectl is the storefront operator CLI.
//
// It reads the same environment as the server (see internal/config) and
// talks to the database and document store directly, so it works while the
// server is down:
//
//	storectl migrate                        apply database migrations
//	storectl sync-orders [--order-id ID]    mirror one order, or reconcile all
//	storectl sync-state                     show the last full reconciliation
//	storectl hash-key KEY                   bcrypt a key for SYNC_API_KEY_HASH
//	storectl token SUBJECT [--email ...]    sign a shopper token for testing
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "storectl",
		Short:         "Storefront operator tools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncOrdersCmd())
	rootCmd.AddCommand(syncStateCmd())
	rootCmd.AddCommand(hashKeyCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}
