// Package cli implements the entitlements command line.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/config"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// App state
	cfg       *config.Config
	cfgErr    error
	configDir string
	verbose   bool

	runners = runner.NewBuilder(func() (*config.Config, error) { return cfg, cfgErr })
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "entitlements",
	Short: "Verified, cached and offline-capable entitlement checks",
	Long: `entitlements fetches customer info from the subscription backend, verifies
response signatures against a pinned root key, caches responses by ETag and
falls back to entitlements computed from local purchases when the backend
is down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		PrintError("%v", err)
		os.Exit(1)
	}
}

// SetVersion sets the version string
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Version = Version

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configDir, "config-dir", "", "Configuration directory (default: ~/.entitlements or ENTITLEMENTS_CONFIG_DIR)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func initLogging() {
	logging.InitDefault()
	if verbose {
		lc := logging.DefaultConfig()
		lc.Level = "debug"
		_ = logging.Init(lc)
	}
}

func initConfig() {
	dir := configDir
	if dir == "" {
		dir = os.Getenv("ENTITLEMENTS_CONFIG_DIR")
	}
	cfg, cfgErr = config.Load(dir)
	if cfg != nil {
		cfg.ApplyEnv()
		if verbose {
			cfg.Logging.Level = "debug"
		}
	}
	if errors.Is(cfgErr, apperrors.ErrNotInitialized) {
		cfg, cfgErr = nil, nil
	}
}

// resolvedConfigDir is the directory init writes to
func resolvedConfigDir() string {
	if configDir != "" {
		return configDir
	}
	if dir := os.Getenv("ENTITLEMENTS_CONFIG_DIR"); dir != "" {
		return dir
	}
	return config.DefaultConfigDir()
}
