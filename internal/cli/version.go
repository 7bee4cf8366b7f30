package cli

import (
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/podcast-animator/internal/version"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// skip config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			writeLine(cmd.OutOrStdout(), version.Full())
		},
	}
}
