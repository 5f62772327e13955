package purchases

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/entitlements/internal/backend"
	"github.com/lcrostarosa/entitlements/internal/billing"
	"github.com/lcrostarosa/entitlements/internal/devicecache"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/offline"
	"github.com/lcrostarosa/entitlements/internal/testutil"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const onlineBody = `{"request_date":"2024-05-01T12:00:00Z","subscriber":{"original_app_user_id":"abc","entitlements":{"online":{"expires_date":null,"product_identifier":"lifetime"}}}}`

type fakeBackend struct {
	calls atomic.Int32
	err   error
}

func (f *fakeBackend) GetCustomerInfo(_ context.Context, appUserID string, _ bool) (*entitlements.CustomerInfo, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return entitlements.ParseCustomerInfo([]byte(onlineBody), entitlements.OriginBackend, verification.ResultVerified)
}

func newSession(t *testing.T, b CustomerInfoBackend, offlineEnabled bool) (*Session, *devicecache.Cache) {
	t.Helper()
	store := testutil.MemoryStore(t)
	dc := devicecache.New(store, nil)
	m, err := entitlements.ParseMapping([]byte(`{"product_entitlement_mapping":{"monthly":{"product_identifier":"monthly","entitlements":["pro"]}}}`))
	require.NoError(t, err)
	require.NoError(t, dc.CacheProductEntitlementMapping(context.Background(), m))

	purchases := &billing.StaticClient{Transactions: map[string][]billing.Transaction{
		"abc": {{PurchaseToken: "tok", ProductIDs: []string{"monthly"}, Type: billing.ProductTypeSubscription, PurchaseTime: time.Now()}},
	}}
	coord := offline.NewCoordinator(offline.Config{
		Enabled:      offlineEnabled,
		Resolver:     offline.NewPurchasedProductsResolver(purchases, dc, nil),
		CustomerInfo: dc,
		Mappings:     dc,
	})
	return NewSession("abc", b, dc, httpcache.NewConditionalCache(store), coord), dc
}

func TestGetCustomerInfoOnline(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	s, dc := newSession(t, fb, true)

	info, err := s.GetCustomerInfo(ctx, CachedOrFetched)
	require.NoError(t, err)
	assert.True(t, info.HasEntitlement("online"))
	assert.True(t, dc.HasCustomerInfo(ctx, "abc"))

	cached, err := s.GetCustomerInfo(ctx, CachedOrFetched)
	require.NoError(t, err)
	assert.Equal(t, entitlements.OriginCache, cached.Origin)
	assert.Equal(t, int32(1), fb.calls.Load(), "fresh cache avoids the backend")

	_, err = s.GetCustomerInfo(ctx, FetchCurrent)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.calls.Load())
}

func TestGetCustomerInfoFromCacheOnly(t *testing.T) {
	s, _ := newSession(t, &fakeBackend{}, true)
	_, err := s.GetCustomerInfo(context.Background(), FromCacheOnly)
	assert.ErrorIs(t, err, ErrNoCachedCustomerInfo)
}

func TestGetCustomerInfoOfflineFallback(t *testing.T) {
	ctx := context.Background()
	serverErr := &backend.Error{StatusCode: http.StatusBadGateway}

	t.Run("server error computes offline snapshot", func(t *testing.T) {
		fb := &fakeBackend{err: serverErr}
		s, _ := newSession(t, fb, true)
		info, err := s.GetCustomerInfo(ctx, CachedOrFetched)
		require.NoError(t, err)
		assert.Equal(t, entitlements.OriginOffline, info.Origin)
		assert.Equal(t, []string{"pro"}, info.ActiveEntitlements())

		again, err := s.GetCustomerInfo(ctx, CachedOrFetched)
		require.NoError(t, err)
		assert.Same(t, info, again, "offline snapshot is reused")
		assert.Equal(t, int32(1), fb.calls.Load())

		s.OnAppBackgrounded()
		_, err = s.GetCustomerInfo(ctx, CachedOrFetched)
		require.NoError(t, err)
		assert.Equal(t, int32(2), fb.calls.Load(), "lifecycle transitions drop the snapshot")
	})

	t.Run("client error is returned", func(t *testing.T) {
		clientErr := &backend.Error{StatusCode: http.StatusForbidden}
		s, _ := newSession(t, &fakeBackend{err: clientErr}, true)
		_, err := s.GetCustomerInfo(ctx, CachedOrFetched)
		assert.ErrorIs(t, err, clientErr)
	})

	t.Run("disabled offline mode returns the backend error", func(t *testing.T) {
		s, _ := newSession(t, &fakeBackend{err: serverErr}, false)
		_, err := s.GetCustomerInfo(ctx, CachedOrFetched)
		assert.ErrorIs(t, err, serverErr)
	})

	t.Run("online success replaces the offline snapshot", func(t *testing.T) {
		fb := &fakeBackend{err: serverErr}
		s, _ := newSession(t, fb, true)
		_, err := s.GetCustomerInfo(ctx, CachedOrFetched)
		require.NoError(t, err)

		fb.err = nil
		info, err := s.GetCustomerInfo(ctx, FetchCurrent)
		require.NoError(t, err)
		assert.Equal(t, entitlements.OriginBackend, info.Origin)
		assert.Nil(t, s.coordinator.OfflineCustomerInfo())
	})
}

func TestEnforcedModeFallsBackOnUnsignedServerError(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	t.Cleanup(srv.Close)

	auth := testutil.NewSigningAuthority()
	engine := verification.NewEngine(auth.Mode(verification.ModeEnforced, nil))
	client := backend.New(backend.Config{BaseURL: srv.URL, APIKey: "appl_test_key"},
		httpcache.NewConditionalCache(testutil.MemoryStore(t)), engine)

	_, err := client.GetCustomerInfo(ctx, "abc", false)
	require.True(t, backend.IsServerError(err))

	s, _ := newSession(t, client, true)
	info, err := s.GetCustomerInfo(ctx, CachedOrFetched)
	require.NoError(t, err)
	assert.Equal(t, entitlements.OriginOffline, info.Origin)
	assert.Equal(t, []string{"pro"}, info.ActiveEntitlements())
}

func TestSwitchUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, &fakeBackend{err: &backend.Error{StatusCode: 500}}, true)
	_, err := s.GetCustomerInfo(ctx, CachedOrFetched)
	require.NoError(t, err)

	s.SwitchUser("other")
	assert.Equal(t, "other", s.AppUserID())
	assert.Nil(t, s.coordinator.OfflineCustomerInfo())
}

func TestClearCaches(t *testing.T) {
	ctx := context.Background()
	s, dc := newSession(t, &fakeBackend{}, true)
	_, err := s.GetCustomerInfo(ctx, CachedOrFetched)
	require.NoError(t, err)

	require.NoError(t, s.ClearCaches(ctx))
	assert.False(t, dc.HasCustomerInfo(ctx, "abc"))
	_, ok := dc.ProductEntitlementMapping(ctx)
	assert.False(t, ok)
}
