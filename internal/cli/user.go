package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/config"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

var loginCmd = &cobra.Command{
	Use:   "login <app-user-id>",
	Short: "Switch the configured app user",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Config().Wrap(runLogin),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Switch to a new anonymous app user",
	Args:  cobra.NoArgs,
	RunE:  runners.Config().Wrap(runLogout),
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	return switchUser(ctx, cmd, args[0])
}

func runLogout(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	return switchUser(ctx, cmd, config.NewAnonymousID())
}

// switchUser persists the new app user and drops the previous user's cached customer info.
func switchUser(ctx *runner.CommandContext, cmd *cobra.Command, appUserID string) error {
	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	prev := a.Session.AppUserID()
	if prev == appUserID {
		PrintInfo("Already using %s", appUserID)
		return nil
	}

	a.Session.SwitchUser(appUserID)
	if err := a.DeviceCache.ClearCustomerInfo(cmd.Context(), prev); err != nil {
		logging.Warn("Failed to clear previous user's customer info", logging.AppUserID(prev), logging.Err(err))
	}

	ctx.Config.AppUserID = appUserID
	if err := ctx.SaveConfig(); err != nil {
		return err
	}
	PrintSuccess("Now using %s", appUserID)
	return nil
}
