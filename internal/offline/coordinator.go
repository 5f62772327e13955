package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

// DefaultMappingRefreshPeriod is how long a cached mapping is used before refetching.
const DefaultMappingRefreshPeriod = 25 * time.Hour

// CustomerInfoCache is the durable customer info store the coordinator consults.
type CustomerInfoCache interface {
	HasCustomerInfo(ctx context.Context, appUserID string) bool
	ClearCustomerInfo(ctx context.Context, appUserID string) error
}

// MappingCache stores the product entitlement mapping.
type MappingCache interface {
	MappingSource
	CacheProductEntitlementMapping(ctx context.Context, m *entitlements.ProductEntitlementMapping) error
	IsProductEntitlementMappingStale(ctx context.Context, period time.Duration) bool
}

// MappingFetcher downloads the mapping from the backend.
type MappingFetcher interface {
	GetProductEntitlementMapping(ctx context.Context) (*entitlements.ProductEntitlementMapping, error)
}

// SuccessFunc and ErrorFunc receive the outcome of a computation.
type (
	SuccessFunc func(*entitlements.CustomerInfo)
	ErrorFunc   func(error)
)

type callback struct {
	onSuccess SuccessFunc
	onError   ErrorFunc
}

// Config wires a Coordinator.
type Config struct {
	Enabled       bool
	Resolver      *PurchasedProductsResolver
	CustomerInfo  CustomerInfoCache
	Mappings      MappingCache
	Fetcher       MappingFetcher
	RefreshPeriod time.Duration
	Now           func() time.Time
}

// Coordinator decides when to fall back to offline entitlements and runs at most one
// computation per app user at a time.
type Coordinator struct {
	enabled       bool
	resolver      *PurchasedProductsResolver
	customerInfo  CustomerInfoCache
	mappings      MappingCache
	fetcher       MappingFetcher
	refreshPeriod time.Duration
	now           func() time.Time

	mu       sync.Mutex
	snapshot *entitlements.CustomerInfo
	pending  map[string][]callback

	refreshing atomic.Bool
}

// NewCoordinator creates a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = DefaultMappingRefreshPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		enabled:       cfg.Enabled,
		resolver:      cfg.Resolver,
		customerInfo:  cfg.CustomerInfo,
		mappings:      cfg.Mappings,
		fetcher:       cfg.Fetcher,
		refreshPeriod: cfg.RefreshPeriod,
		now:           cfg.Now,
		pending:       make(map[string][]callback),
	}
}

// Enabled reports whether offline entitlements are turned on.
func (c *Coordinator) Enabled() bool { return c.enabled }

// ShouldCompute reports whether a failed customer info request for appUserID should fall
// back to an offline snapshot.
func (c *Coordinator) ShouldCompute(ctx context.Context, isServerError bool, appUserID string) bool {
	return isServerError && c.enabled && !c.customerInfo.HasCustomerInfo(ctx, appUserID)
}

// ShouldComputeForPostReceipt reports whether a failed receipt post should fall back. A
// cached snapshot does not reflect the purchase just made, so the cache is not consulted.
func (c *Coordinator) ShouldComputeForPostReceipt(isServerError bool) bool {
	return isServerError && c.enabled
}

// OfflineCustomerInfo returns the last computed snapshot, or nil.
func (c *Coordinator) OfflineCustomerInfo() *entitlements.CustomerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// ResetOfflineCustomerInfoCache drops the in-memory snapshot.
func (c *Coordinator) ResetOfflineCustomerInfoCache() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// Compute builds an offline snapshot for appUserID in the background and reports it to
// exactly one of onSuccess or onError. Calls made while a computation for the same user
// is running join it instead of starting another. Compute never blocks.
func (c *Coordinator) Compute(ctx context.Context, appUserID string, onSuccess SuccessFunc, onError ErrorFunc) {
	if !c.enabled {
		onError(apperrors.ErrOfflineEntitlementsNotSupported)
		return
	}

	c.mu.Lock()
	queued, inFlight := c.pending[appUserID]
	c.pending[appUserID] = append(queued, callback{onSuccess: onSuccess, onError: onError})
	c.mu.Unlock()

	if inFlight {
		logging.Debug("Joining offline entitlement computation in progress", logging.AppUserID(appUserID))
		return
	}

	go c.run(context.WithoutCancel(ctx), appUserID)
}

func (c *Coordinator) run(ctx context.Context, appUserID string) {
	logging.Info("Computing offline customer info", logging.AppUserID(appUserID))

	info, err := c.compute(ctx, appUserID)

	c.mu.Lock()
	if err == nil {
		c.snapshot = info
	}
	callbacks := c.pending[appUserID]
	delete(c.pending, appUserID)
	c.mu.Unlock()

	if err != nil {
		logging.Warn("Offline customer info computation failed", logging.AppUserID(appUserID), logging.Err(err))
		for _, cb := range callbacks {
			cb.onError(err)
		}
		return
	}

	if clearErr := c.customerInfo.ClearCustomerInfo(ctx, appUserID); clearErr != nil {
		logging.Warn("Failed to clear cached customer info", logging.AppUserID(appUserID), logging.Err(clearErr))
	}
	logging.Info("Computed offline customer info",
		logging.AppUserID(appUserID), logging.Int("entitlements", len(info.Entitlements)))
	for _, cb := range callbacks {
		cb.onSuccess(info)
	}
}

func (c *Coordinator) compute(ctx context.Context, appUserID string) (*entitlements.CustomerInfo, error) {
	products, err := c.resolver.QueryActiveProducts(ctx, appUserID)
	if err != nil {
		return nil, err
	}
	return entitlements.BuildOfflineCustomerInfo(appUserID, products, c.now())
}

// Resolve runs Compute and waits for its outcome. Cancelling ctx abandons the wait but
// not the computation.
func (c *Coordinator) Resolve(ctx context.Context, appUserID string) (*entitlements.CustomerInfo, error) {
	type outcome struct {
		info *entitlements.CustomerInfo
		err  error
	}
	done := make(chan outcome, 1)
	c.Compute(ctx, appUserID,
		func(info *entitlements.CustomerInfo) { done <- outcome{info: info} },
		func(err error) { done <- outcome{err: err} },
	)

	select {
	case o := <-done:
		return o.info, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateProductEntitlementMappingIfStale refetches the mapping when offline entitlements
// are enabled and the cached copy is missing or older than the refresh period.
func (c *Coordinator) UpdateProductEntitlementMappingIfStale(ctx context.Context) error {
	if !c.enabled || c.fetcher == nil {
		return nil
	}
	if !c.mappings.IsProductEntitlementMappingStale(ctx, c.refreshPeriod) {
		return nil
	}
	return c.RefreshProductEntitlementMapping(ctx)
}

// RefreshProductEntitlementMapping fetches and caches the mapping unconditionally. A
// refresh already in progress makes this a no-op.
func (c *Coordinator) RefreshProductEntitlementMapping(ctx context.Context) error {
	if c.fetcher == nil {
		return apperrors.ErrOfflineEntitlementsNotSupported
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		logging.Debug("Product entitlement mapping refresh already in progress")
		return nil
	}
	defer c.refreshing.Store(false)

	m, err := c.fetcher.GetProductEntitlementMapping(ctx)
	if err != nil {
		logging.Warn("Failed to fetch product entitlement mapping", logging.Err(err))
		return err
	}
	if err := c.mappings.CacheProductEntitlementMapping(ctx, m); err != nil {
		return err
	}
	logging.Info("Updated product entitlement mapping", logging.Int("products", m.Len()))
	return nil
}
