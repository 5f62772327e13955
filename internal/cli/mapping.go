package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage the product entitlement mapping used offline",
}

var mappingRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the product entitlement mapping",
	RunE:  runners.Backend().Wrap(runMappingRefresh),
}

var mappingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached product entitlement mapping",
	RunE:  runners.Config().Wrap(runMappingShow),
}

func init() {
	mappingRefreshCmd.Flags().Bool("if-stale", false, "Only refresh when the cached mapping is missing or stale")
	mappingCmd.AddCommand(mappingRefreshCmd, mappingShowCmd)
	rootCmd.AddCommand(mappingCmd)
}

func runMappingRefresh(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	ifStale := flags.Bool("if-stale")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	if ifStale {
		err = a.Coordinator.UpdateProductEntitlementMappingIfStale(cmd.Context())
	} else {
		err = a.Coordinator.RefreshProductEntitlementMapping(cmd.Context())
	}
	if err != nil {
		return err
	}

	if m, ok := a.DeviceCache.ProductEntitlementMapping(cmd.Context()); ok {
		PrintSuccess("Mapping cached (%d products)", m.Len())
	} else {
		PrintWarning("No mapping cached")
	}
	return nil
}

func runMappingShow(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	m, ok := a.DeviceCache.ProductEntitlementMapping(cmd.Context())
	if !ok {
		PrintWarning("No mapping cached - run 'entitlements mapping refresh'")
		return nil
	}
	return PrintJSON(m)
}
