// Package devicecache persists customer info snapshots and the product entitlement
// mapping in the durable key-value store.
package devicecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const (
	customerInfoKeyPrefix     = "customer_info:"
	mappingKey                = "product_entitlement_mapping"
	mappingLastUpdatedKey     = "product_entitlement_mapping_last_updated"
	customerInfoSchemaVersion = 1
)

// Staleness windows for cached customer info.
const (
	CustomerInfoStaleForeground = 5 * time.Minute
	CustomerInfoStaleBackground = 25 * time.Hour
)

// Cache is the device cache. Safe for concurrent use.
type Cache struct {
	store kvstore.Store
	now   func() time.Time

	mu sync.Mutex
}

// New creates a device cache over store. A nil now uses time.Now.
func New(store kvstore.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

type cachedCustomerInfo struct {
	SchemaVersion int                 `json:"schema_version"`
	Payload       string              `json:"payload"`
	Verification  verification.Result `json:"verification_result"`
	CachedAtMs    int64               `json:"cached_at_ms"`
}

// CacheCustomerInfo stores info for appUserID, replacing any previous snapshot. Offline
// snapshots are never persisted.
func (c *Cache) CacheCustomerInfo(ctx context.Context, appUserID string, info *entitlements.CustomerInfo) error {
	if info == nil || info.Origin == entitlements.OriginOffline {
		return nil
	}
	value, err := json.Marshal(cachedCustomerInfo{
		SchemaVersion: customerInfoSchemaVersion,
		Payload:       info.RawJSON,
		Verification:  info.Verification,
		CachedAtMs:    c.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize customer info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(ctx, customerInfoKeyPrefix+appUserID, string(value)); err != nil {
		return fmt.Errorf("failed to cache customer info: %w", err)
	}
	logging.Debug("Cached customer info", logging.AppUserID(appUserID))
	return nil
}

// CachedCustomerInfo returns the stored snapshot for appUserID.
func (c *Cache) CachedCustomerInfo(ctx context.Context, appUserID string) (*entitlements.CustomerInfo, bool) {
	cached, ok := c.cachedCustomerInfo(ctx, appUserID)
	if !ok {
		return nil, false
	}
	info, err := entitlements.ParseCustomerInfo([]byte(cached.Payload), entitlements.OriginCache, cached.Verification)
	if err != nil {
		logging.Warn("Discarding unreadable cached customer info", logging.AppUserID(appUserID), logging.Err(err))
		return nil, false
	}
	return info, true
}

// HasCustomerInfo reports whether a snapshot is stored for appUserID.
func (c *Cache) HasCustomerInfo(ctx context.Context, appUserID string) bool {
	_, ok := c.cachedCustomerInfo(ctx, appUserID)
	return ok
}

// IsCustomerInfoStale reports whether the stored snapshot is missing or older than the
// window for the app's state.
func (c *Cache) IsCustomerInfoStale(ctx context.Context, appUserID string, appInBackground bool) bool {
	cached, ok := c.cachedCustomerInfo(ctx, appUserID)
	if !ok {
		return true
	}
	window := CustomerInfoStaleForeground
	if appInBackground {
		window = CustomerInfoStaleBackground
	}
	return c.now().Sub(time.UnixMilli(cached.CachedAtMs)) >= window
}

// ClearCustomerInfo removes the stored snapshot for appUserID.
func (c *Cache) ClearCustomerInfo(ctx context.Context, appUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, customerInfoKeyPrefix+appUserID)
}

func (c *Cache) cachedCustomerInfo(ctx context.Context, appUserID string) (*cachedCustomerInfo, bool) {
	c.mu.Lock()
	value, err := c.store.Get(ctx, customerInfoKeyPrefix+appUserID)
	c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logging.Warn("Failed to read cached customer info", logging.AppUserID(appUserID), logging.Err(err))
		}
		return nil, false
	}

	var cached cachedCustomerInfo
	if err := json.Unmarshal([]byte(value), &cached); err != nil || cached.SchemaVersion != customerInfoSchemaVersion {
		logging.Warn("Ignoring cached customer info with unknown format", logging.AppUserID(appUserID))
		return nil, false
	}
	return &cached, true
}

// CacheProductEntitlementMapping replaces the stored mapping document and stamps it.
func (c *Cache) CacheProductEntitlementMapping(ctx context.Context, m *entitlements.ProductEntitlementMapping) error {
	doc, err := m.JSON()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(ctx, mappingKey, string(doc)); err != nil {
		return fmt.Errorf("failed to cache product entitlement mapping: %w", err)
	}
	stamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	if err := c.store.Put(ctx, mappingLastUpdatedKey, stamp); err != nil {
		return fmt.Errorf("failed to stamp product entitlement mapping: %w", err)
	}
	logging.Debug("Cached product entitlement mapping", logging.Int("products", m.Len()))
	return nil
}

// ProductEntitlementMapping returns the stored mapping document.
func (c *Cache) ProductEntitlementMapping(ctx context.Context) (*entitlements.ProductEntitlementMapping, bool) {
	c.mu.Lock()
	value, err := c.store.Get(ctx, mappingKey)
	c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logging.Warn("Failed to read product entitlement mapping", logging.Err(err))
		}
		return nil, false
	}
	m, err := entitlements.ParseMapping([]byte(value))
	if err != nil {
		logging.Warn("Discarding unreadable product entitlement mapping", logging.Err(err))
		return nil, false
	}
	return m, true
}

// IsProductEntitlementMappingStale reports whether the mapping is missing or older than period.
func (c *Cache) IsProductEntitlementMappingStale(ctx context.Context, period time.Duration) bool {
	c.mu.Lock()
	value, err := c.store.Get(ctx, mappingLastUpdatedKey)
	c.mu.Unlock()
	if err != nil {
		return true
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return true
	}
	return c.now().Sub(time.UnixMilli(ms)) >= period
}

// Clear removes every customer info snapshot and the mapping.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, customerInfoKeyPrefix)
	if err != nil {
		return err
	}
	keys = append(keys, mappingKey, mappingLastUpdatedKey)
	var errs []error
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
