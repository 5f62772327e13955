package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/purchases"
)

var customerInfoCmd = &cobra.Command{
	Use:   "customer-info",
	Short: "Fetch customer info and active entitlements",
	Long: `Fetch customer info for the configured app user (or --user).

With the default "cached" policy a fresh cached snapshot is returned without
contacting the backend. When the backend fails with a server error and
offline entitlements are enabled, entitlements are computed from local
purchases instead.`,
	Example: `  entitlements customer-info
  entitlements customer-info --policy current --json
  entitlements customer-info --user user_123 --policy cache-only`,
	RunE: runners.Backend().Wrap(runCustomerInfo),
}

func init() {
	f := customerInfoCmd.Flags()
	f.StringP("user", "u", "", "App user ID (default: configured user)")
	f.String("policy", "cached", "Fetch policy: cached, current, cache-only")
	f.Bool("json", false, "Print the full snapshot as JSON")
	rootCmd.AddCommand(customerInfoCmd)
}

func runCustomerInfo(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	user := flags.String("user")
	policyName := flags.String("policy")
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}
	policy, err := purchases.ParseFetchPolicy(policyName)
	if err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	if user == "" {
		user = a.Session.AppUserID()
	}
	info, err := a.Session.CustomerInfoFor(cmd.Context(), user, policy)
	if err != nil {
		return err
	}

	if asJSON {
		return PrintJSON(info)
	}
	printCustomerInfo(info)
	return nil
}

func printCustomerInfo(info *entitlements.CustomerInfo) {
	PrintHeader("Customer Info")
	PrintInfo("App user:     %s", info.OriginalAppUserID)
	PrintInfo("Source:       %s", info.Origin)
	PrintInfo("Verification: %s", info.Verification)
	PrintInfo("Request date: %s", info.RequestDate.UTC().Format("2006-01-02 15:04:05"))

	if len(info.Entitlements) == 0 {
		PrintInfo("Entitlements: none")
		return
	}
	PrintDivider()
	ids := make([]string, 0, len(info.Entitlements))
	for id := range info.Entitlements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := info.Entitlements[id]
		state := "inactive"
		if e.IsActive {
			state = "active"
		}
		PrintInfo("%-20s %-8s product=%s expires=%s", id, state, e.ProductIdentifier, formatExpiry(e.ExpirationDate))
	}
}
