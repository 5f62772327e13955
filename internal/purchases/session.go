// Package purchases ties the backend, the device cache and the offline coordinator into
// one customer info entry point.
package purchases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lcrostarosa/entitlements/internal/backend"
	"github.com/lcrostarosa/entitlements/internal/devicecache"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/offline"
)

// FetchPolicy selects where GetCustomerInfo may read from.
type FetchPolicy int

const (
	// CachedOrFetched returns a fresh cached snapshot when available, else fetches.
	CachedOrFetched FetchPolicy = iota
	// FetchCurrent always asks the backend.
	FetchCurrent
	// FromCacheOnly never contacts the backend.
	FromCacheOnly
)

// ErrNoCachedCustomerInfo is returned by FromCacheOnly when nothing is cached.
var ErrNoCachedCustomerInfo = errors.New("no cached customer info")

// CustomerInfoBackend is the subset of backend.Client the session needs.
type CustomerInfoBackend interface {
	GetCustomerInfo(ctx context.Context, appUserID string, forceRefresh bool) (*entitlements.CustomerInfo, error)
}

// Session serves customer info for the current app user.
type Session struct {
	backend     CustomerInfoBackend
	deviceCache *devicecache.Cache
	httpCache   *httpcache.ConditionalCache
	coordinator *offline.Coordinator

	mu        sync.RWMutex
	appUserID string

	inBackground atomic.Bool
}

// NewSession creates a session for appUserID.
func NewSession(appUserID string, b CustomerInfoBackend, deviceCache *devicecache.Cache, httpCache *httpcache.ConditionalCache, coordinator *offline.Coordinator) *Session {
	return &Session{
		backend:     b,
		deviceCache: deviceCache,
		httpCache:   httpCache,
		coordinator: coordinator,
		appUserID:   appUserID,
	}
}

// AppUserID returns the current app user ID.
func (s *Session) AppUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appUserID
}

// SwitchUser changes the current app user and drops state belonging to the previous one.
func (s *Session) SwitchUser(appUserID string) {
	s.mu.Lock()
	prev := s.appUserID
	s.appUserID = appUserID
	s.mu.Unlock()
	if prev != appUserID {
		s.coordinator.ResetOfflineCustomerInfoCache()
	}
}

// GetCustomerInfo returns customer info for the current user according to policy. When
// the backend fails with a server error and nothing is cached, it falls back to an
// offline snapshot computed from local purchases.
func (s *Session) GetCustomerInfo(ctx context.Context, policy FetchPolicy) (*entitlements.CustomerInfo, error) {
	return s.CustomerInfoFor(ctx, s.AppUserID(), policy)
}

// CustomerInfoFor is GetCustomerInfo for an explicit app user.
func (s *Session) CustomerInfoFor(ctx context.Context, appUserID string, policy FetchPolicy) (*entitlements.CustomerInfo, error) {
	if policy != FetchCurrent {
		if snap := s.offlineSnapshot(appUserID); snap != nil {
			return snap, nil
		}
		if info, ok := s.deviceCache.CachedCustomerInfo(ctx, appUserID); ok {
			if policy == FromCacheOnly || !s.deviceCache.IsCustomerInfoStale(ctx, appUserID, s.inBackground.Load()) {
				logging.Debug("Serving cached customer info", logging.AppUserID(appUserID))
				return info, nil
			}
		}
		if policy == FromCacheOnly {
			return nil, ErrNoCachedCustomerInfo
		}
	}

	info, err := s.backend.GetCustomerInfo(ctx, appUserID, policy == FetchCurrent)
	if err != nil {
		if s.coordinator.ShouldCompute(ctx, backend.IsServerError(err), appUserID) {
			logging.Warn("Backend failed, falling back to offline entitlements", logging.AppUserID(appUserID), logging.Err(err))
			offlineInfo, offErr := s.coordinator.Resolve(ctx, appUserID)
			if offErr == nil {
				return offlineInfo, nil
			}
			logging.Warn("Offline entitlements unavailable", logging.AppUserID(appUserID), logging.Err(offErr))
		}
		return nil, err
	}

	s.coordinator.ResetOfflineCustomerInfoCache()
	if err := s.deviceCache.CacheCustomerInfo(ctx, appUserID, info); err != nil {
		logging.Warn("Failed to cache customer info", logging.AppUserID(appUserID), logging.Err(err))
	}
	return info, nil
}

func (s *Session) offlineSnapshot(appUserID string) *entitlements.CustomerInfo {
	snap := s.coordinator.OfflineCustomerInfo()
	if snap == nil || snap.OriginalAppUserID != appUserID {
		return nil
	}
	return snap
}

// OnAppForegrounded resets the offline snapshot and refreshes the mapping if stale.
func (s *Session) OnAppForegrounded(ctx context.Context) {
	s.inBackground.Store(false)
	s.coordinator.ResetOfflineCustomerInfoCache()
	if err := s.coordinator.UpdateProductEntitlementMappingIfStale(ctx); err != nil {
		logging.Debug("Product entitlement mapping refresh failed", logging.Err(err))
	}
}

// OnAppBackgrounded resets the offline snapshot.
func (s *Session) OnAppBackgrounded() {
	s.inBackground.Store(true)
	s.coordinator.ResetOfflineCustomerInfoCache()
}

// ClearCaches drops every cached response, snapshot and mapping.
func (s *Session) ClearCaches(ctx context.Context) error {
	s.coordinator.ResetOfflineCustomerInfoCache()
	return errors.Join(s.httpCache.ClearAll(ctx), s.deviceCache.Clear(ctx))
}

// ParseFetchPolicy parses "cached", "current" or "cache-only".
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch s {
	case "", "cached":
		return CachedOrFetched, nil
	case "current":
		return FetchCurrent, nil
	case "cache-only":
		return FromCacheOnly, nil
	default:
		return CachedOrFetched, fmt.Errorf("unknown fetch policy %q", s)
	}
}
