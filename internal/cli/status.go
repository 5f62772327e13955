package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/app"
	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and cache status",
	RunE:  runners.Uninitialized().Use(runner.CloseApp()).Wrap(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	if ctx.ConfigErr != nil {
		return ctx.ConfigErr
	}
	if ctx.Config == nil {
		return showUninitialized()
	}

	c := ctx.Config
	PrintHeader("Entitlements Status")

	PrintInfo("Config:       %s", c.ConfigDir)
	if config.IsAnonymous(c.AppUserID) {
		PrintInfo("App user:     %s (anonymous)", c.AppUserID)
	} else {
		PrintInfo("App user:     %s", c.AppUserID)
	}
	if c.APIKey != "" {
		PrintInfo("API key:      ✅ Configured")
	} else {
		PrintInfo("API key:      ❌ Missing")
	}
	PrintInfo("Verification: %s", valueOr(c.Verification.Mode, "disabled"))
	PrintInfo("Store:        %s", valueOr(c.Store.Backend, "memory"))

	if !c.Offline.Enabled {
		PrintInfo("Offline:      disabled")
	} else {
		PrintInfo("Offline:      enabled (purchases: %s)", app.PurchasesFile(c))
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		PrintWarning("Cache unavailable: %v", err)
		return nil
	}
	fmt.Fprintln(stdout)
	if m, ok := a.DeviceCache.ProductEntitlementMapping(cmd.Context()); ok {
		stale := ""
		if a.DeviceCache.IsProductEntitlementMappingStale(cmd.Context(), c.MappingRefreshPeriod()) {
			stale = " (stale)"
		}
		PrintInfo("Mapping:       %d product(s)%s", m.Len(), stale)
	} else {
		PrintInfo("Mapping:       not cached")
	}
	if a.DeviceCache.HasCustomerInfo(cmd.Context(), c.AppUserID) {
		PrintInfo("Customer info: cached")
	} else {
		PrintInfo("Customer info: not cached")
	}
	return nil
}

func showUninitialized() error {
	PrintInfo("Entitlements Status: Not initialized")
	fmt.Fprintln(stdout)
	PrintInfo("To get started:")
	PrintInfo("  entitlements init --api-key <key> [--verification informational] [--offline]")
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
