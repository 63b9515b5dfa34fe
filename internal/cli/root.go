package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command. Running it without a subcommand serves
// the API.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erp-wa",
		Short: "ERP WhatsApp messaging service",
		Long: `WhatsApp messaging for the ERP: session management, templated and
logged sends, and phone verification over an HTTP API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewStatusCommand())

	return cmd
}
