package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the auth service. Without a
// subcommand it serves.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Atrium authentication service",
		Long: `Atrium authentication service: sessions, access tokens, password reset
and rate limiting for the Atrium platform. Configuration is read from the
environment (AUTH_*, RATELIMIT_*, LOG_*).`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCreateUserCmd())

	return cmd
}
