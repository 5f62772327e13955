// Package app assembles the entitlement engine's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lcrostarosa/entitlements/internal/backend"
	"github.com/lcrostarosa/entitlements/internal/billing"
	"github.com/lcrostarosa/entitlements/internal/config"
	"github.com/lcrostarosa/entitlements/internal/devicecache"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/offline"
	"github.com/lcrostarosa/entitlements/internal/purchases"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// App holds the wired components. Close releases the store.
type App struct {
	Config      *config.Config
	Store       kvstore.Store
	HTTPCache   *httpcache.ConditionalCache
	DeviceCache *devicecache.Cache
	Engine      *verification.Engine
	Backend     *backend.Client
	Billing     billing.Client
	Resolver    *offline.PurchasedProductsResolver
	Coordinator *offline.Coordinator
	Session     *purchases.Session
	Now         func() time.Time
}

// Options overrides components, mostly for tests.
type Options struct {
	// Store replaces the configured store
	Store kvstore.Store
	// Billing replaces the purchases file client
	Billing billing.Client
	// Now replaces time.Now
	Now func() time.Time
}

// New builds the component graph described by cfg.
func New(ctx context.Context, cfg *config.Config, opts *Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if opts == nil {
		opts = &Options{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mode, err := cfg.Verification.BuildMode(now)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store, err = kvstore.Open(ctx, cfg.Store, cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	httpCache := httpcache.NewConditionalCache(store)
	deviceCache := devicecache.New(store, now)
	engine := verification.NewEngine(mode)
	client := backend.New(backend.Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, httpCache, engine)

	billingClient := opts.Billing
	if billingClient == nil {
		billingClient = billing.NewFileClient(PurchasesFile(cfg))
	}
	resolver := offline.NewPurchasedProductsResolver(billingClient, deviceCache, now)
	coordinator := offline.NewCoordinator(offline.Config{
		Enabled:       cfg.Offline.Enabled,
		Resolver:      resolver,
		CustomerInfo:  deviceCache,
		Mappings:      deviceCache,
		Fetcher:       client,
		RefreshPeriod: cfg.MappingRefreshPeriod(),
		Now:           now,
	})
	session := purchases.NewSession(cfg.AppUserID, client, deviceCache, httpCache, coordinator)

	logging.Debug("Components ready",
		logging.String("verification", mode.String()),
		logging.String("store", cfg.Store.Backend),
		logging.Bool("offline", cfg.Offline.Enabled))

	return &App{
		Config:      cfg,
		Store:       store,
		HTTPCache:   httpCache,
		DeviceCache: deviceCache,
		Engine:      engine,
		Backend:     client,
		Billing:     billingClient,
		Resolver:    resolver,
		Coordinator: coordinator,
		Session:     session,
		Now:         now,
	}, nil
}

// PurchasesFile returns the configured purchases file, defaulting to purchases.json in
// the data directory.
func PurchasesFile(cfg *config.Config) string {
	if cfg.Offline.PurchasesFile != "" {
		return cfg.Offline.PurchasesFile
	}
	return filepath.Join(cfg.DataDir(), "purchases.json")
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
