package runner

import (
	"errors"

	"github.com/spf13/cobra"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

// Interceptor is a function that wraps command execution.
// It mirrors the Connect-RPC interceptor pattern for CLI commands.
type Interceptor func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error

// RequireConfig ensures the configuration is loaded before executing the command.
func RequireConfig() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if err := configErr(ctx); err != nil {
			return err
		}
		return next()
	}
}

// RequireAPIKey ensures a backend API key is configured.
// Implicitly requires config to be loaded.
func RequireAPIKey() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if err := configErr(ctx); err != nil {
			return err
		}
		if !ctx.HasAPIKey() {
			return ErrNoAPIKey
		}
		return next()
	}
}

// RequireOffline ensures offline entitlements are enabled.
// Implicitly requires config to be loaded.
func RequireOffline() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if err := configErr(ctx); err != nil {
			return err
		}
		if !ctx.OfflineEnabled() {
			return ErrOfflineDisabled
		}
		return next()
	}
}

// ConfigureLogging applies the loaded logging configuration before the command runs.
func ConfigureLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.Config != nil {
			if err := logging.Init(ctx.Config.Logging); err != nil {
				logging.Warn("Invalid logging config, keeping defaults", logging.Err(err))
			}
		}
		return next()
	}
}

// CloseApp releases components built during the command.
func CloseApp() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		err := next()
		if closeErr := ctx.Close(); closeErr != nil {
			logging.Warn("Failed to close store", logging.Err(closeErr))
		}
		return err
	}
}

// WithLogging logs command execution, mirroring the RPC loggingInterceptor.
func WithLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		logging.Debug("CLI command", logging.String("cmd", cmd.Name()))
		err := next()
		if err != nil {
			logging.Debug("CLI error", logging.String("cmd", cmd.Name()), logging.Err(err))
		}
		return err
	}
}

// AllowUninitialized marks that this command can run without initialization.
// This is a no-op interceptor that documents intent.
func AllowUninitialized() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		return next()
	}
}

func configErr(ctx *CommandContext) error {
	if ctx.ConfigErr != nil {
		if errors.Is(ctx.ConfigErr, apperrors.ErrNotInitialized) {
			return ErrNotInitialized
		}
		return ctx.ConfigErr
	}
	if ctx.Config == nil {
		return ErrNotInitialized
	}
	return nil
}
