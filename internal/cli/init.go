package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/config"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Create the configuration directory and write a config file with the
backend API key, verification mode, store backend and offline settings.`,
	Example: `  # Minimal setup with signature verification reported but not enforced
  entitlements init --api-key appl_xxx --verification informational

  # Offline entitlements backed by a local purchases file, YAML config
  entitlements init --api-key goog_xxx --offline --purchases-file ./purchases.yaml --format yaml

  # Shared cache in redis
  entitlements init --api-key appl_xxx --store redis --redis-addr localhost:6379`,
	RunE: runners.Uninitialized().Wrap(runInit),
}

func init() {
	f := initCmd.Flags()

	f.String("api-key", "", "Public SDK API key for the backend")
	f.String("app-user-id", "", "App user ID (default: generated anonymous ID)")
	f.String("base-url", "", "Backend base URL")
	f.String("verification", "disabled", "Signature verification mode: disabled, informational, enforced")
	f.String("root-key", "", "Base64 root public key overriding the embedded one")
	f.Bool("offline", false, "Enable offline entitlements")
	f.String("purchases-file", "", "Local purchases file used for offline entitlements")
	f.String("store", "file", "Cache store: memory, file, leveldb, redis")
	f.String("store-path", "", "Path for file and leveldb stores")
	f.String("redis-addr", "", "Redis address for the redis store")
	f.String("format", "json", "Config file format: json or yaml")
	f.Bool("force", false, "Overwrite an existing configuration")

	rootCmd.AddCommand(initCmd)
}

func runInit(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	apiKey := flags.String("api-key")
	appUserID := flags.String("app-user-id")
	baseURL := flags.String("base-url")
	mode := flags.String("verification")
	rootKey := flags.String("root-key")
	offlineEnabled := flags.Bool("offline")
	purchasesFile := flags.String("purchases-file")
	store := flags.String("store")
	storePath := flags.String("store-path")
	redisAddr := flags.String("redis-addr")
	format := flags.String("format")
	force := flags.Bool("force")
	if err := flags.Err(); err != nil {
		return err
	}

	dir := resolvedConfigDir()
	if config.Exists(dir) && !force {
		return fmt.Errorf("already initialized in %s - use --force to overwrite", dir)
	}

	newCfg := config.New(dir)
	newCfg.APIKey = apiKey
	newCfg.BaseURL = baseURL
	if appUserID != "" {
		newCfg.AppUserID = appUserID
	}
	newCfg.Verification.Mode = mode
	newCfg.Verification.RootPublicKey = rootKey
	newCfg.Offline.Enabled = offlineEnabled
	newCfg.Offline.PurchasesFile = purchasesFile
	newCfg.Store.Backend = store
	newCfg.Store.Path = storePath
	newCfg.Store.RedisAddr = redisAddr
	if err := newCfg.SetFormat(format); err != nil {
		return err
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	if err := newCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	logging.Info("Configuration written",
		logging.String("dir", dir),
		logging.String("verification", mode),
		logging.Bool("offline", offlineEnabled))

	PrintSuccess("Initialized in %s", dir)
	PrintInfo("App user ID:  %s", newCfg.AppUserID)
	PrintInfo("Verification: %s", mode)
	PrintInfo("Store:        %s", store)
	return nil
}
