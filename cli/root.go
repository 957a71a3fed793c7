package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lipsyncctl",
		Short:         "Operator tooling for the lip-sync job ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.envFile, "env-file", "e", "staging.env", "Environment file to load before connecting")

	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}
