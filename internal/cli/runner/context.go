package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/lcrostarosa/entitlements/internal/app"
	"github.com/lcrostarosa/entitlements/internal/config"
)

// AppFactory builds the component graph for a config.
type AppFactory func(ctx context.Context, cfg *config.Config) (*app.App, error)

// DefaultAppFactory builds components with app.New and no overrides.
func DefaultAppFactory(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg, nil)
}

// CommandContext provides shared dependencies to command handlers.
// Dependencies are lazily initialized on first access to avoid unnecessary work.
type CommandContext struct {
	// Config is the loaded configuration (may be nil if not initialized)
	Config *config.Config

	// ConfigErr is the error from loading config, if any
	ConfigErr error

	factory AppFactory
	app     *app.App
	appErr  error
	appOnce sync.Once
}

// NewContext creates a new CommandContext with the given config.
func NewContext(cfg *config.Config, cfgErr error, factory AppFactory) *CommandContext {
	if factory == nil {
		factory = DefaultAppFactory
	}
	return &CommandContext{
		Config:    cfg,
		ConfigErr: cfgErr,
		factory:   factory,
	}
}

// App returns the lazily-built components. The store is opened on first call and closed
// by the runner when the command returns.
func (c *CommandContext) App(ctx context.Context) (*app.App, error) {
	c.appOnce.Do(func() {
		if c.Config == nil {
			c.appErr = ErrNotInitialized
			return
		}
		c.app, c.appErr = c.factory(ctx, c.Config)
	})
	return c.app, c.appErr
}

// Close releases components built by App.
func (c *CommandContext) Close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

// SaveConfig saves the configuration with standardized error wrapping.
func (c *CommandContext) SaveConfig() error {
	if c.Config == nil {
		return ErrNotInitialized
	}
	if err := c.Config.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// HasConfig returns true if config is loaded successfully.
func (c *CommandContext) HasConfig() bool {
	return c.Config != nil && c.ConfigErr == nil
}

// HasAPIKey returns true if a backend API key is configured.
func (c *CommandContext) HasAPIKey() bool {
	return c.Config != nil && c.Config.APIKey != ""
}

// OfflineEnabled returns true if offline entitlements are turned on.
func (c *CommandContext) OfflineEnabled() bool {
	return c.Config != nil && c.Config.Offline.Enabled
}
