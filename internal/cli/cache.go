package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached responses",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached responses, customer info and the product entitlement mapping",
	RunE:  runners.Config().Wrap(runCacheClear),
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheClear(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.Session.ClearCaches(cmd.Context()); err != nil {
		return err
	}
	PrintSuccess("Caches cleared")
	return nil
}
