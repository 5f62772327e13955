package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Compute entitlements from local purchases",
	Long: `Join the purchases in the local purchases file with the cached product
entitlement mapping and print the resulting offline customer info. The
backend is not contacted.`,
	RunE: runners.Offline().Wrap(runResolve),
}

func init() {
	f := resolveCmd.Flags()
	f.StringP("user", "u", "", "App user ID (default: configured user)")
	f.Bool("json", false, "Print the offline customer info as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	user := flags.String("user")
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	if user == "" {
		user = a.Session.AppUserID()
	}

	products, err := a.Resolver.QueryActiveProducts(cmd.Context(), user)
	if err != nil {
		if errors.Is(err, apperrors.ErrProductEntitlementMappingRequired) {
			return fmt.Errorf("%w - run 'entitlements mapping refresh' first", err)
		}
		return err
	}
	info, err := entitlements.BuildOfflineCustomerInfo(user, products, a.Now())
	if err != nil {
		return err
	}

	if asJSON {
		return PrintJSON(info)
	}

	PrintHeader("Purchased Products")
	if len(products) == 0 {
		PrintInfo("No active purchases for %s", user)
	}
	for _, p := range products {
		ents := "-"
		if len(p.Entitlements) > 0 {
			ents = strings.Join(p.Entitlements, ",")
		}
		PrintInfo("%-24s store=%s entitlements=%s expires=%s", p.ProductIdentifier,
			p.SourceTransaction.StoreOrDefault(), ents, formatExpiry(p.ExpiresDate))
	}
	fmt.Fprintln(stdout)
	printCustomerInfo(info)
	return nil
}
