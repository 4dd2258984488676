package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/mesh-intelligence/larder"

// Version is set at build time with -ldflags "-X ...internal/cli.Version=...".
var Version = "0.1.0-dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the larder version",
		Args:  cobra.NoArgs,
		// Skip config loading so version works anywhere.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "larder v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
