package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/entitlements/internal/billing"
	"github.com/lcrostarosa/entitlements/internal/config"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/purchases"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

func TestNewWiresComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New(dir)
	cfg.APIKey = "appl_test"
	cfg.Store.Backend = kvstore.BackendMemory

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, verification.ModeDisabled, a.Engine.Mode().Kind())
	assert.Same(t, a.Engine, a.Backend.Engine())
	assert.Same(t, a.HTTPCache, a.Backend.Cache())
	assert.Equal(t, cfg.AppUserID, a.Session.AppUserID())
	assert.False(t, a.Coordinator.Enabled())
	assert.Equal(t, filepath.Join(dir, "data", "purchases.json"), PurchasesFile(cfg))
}

func TestNewRejectsBadVerificationMode(t *testing.T) {
	cfg := config.New(t.TempDir())
	cfg.Verification.Mode = "paranoid"
	_, err := New(context.Background(), cfg, &Options{Store: kvstore.NewMemory()})
	assert.Error(t, err)
}

func TestOfflineFallbackEndToEnd(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/v1/product_entitlement_mapping" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"product_entitlement_mapping":{"monthly":{"product_identifier":"monthly","entitlements":["pro"]}}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.New(t.TempDir())
	cfg.APIKey = "appl_test"
	cfg.BaseURL = srv.URL
	cfg.AppUserID = "abc"
	cfg.Offline.Enabled = true

	a, err := New(context.Background(), cfg, &Options{
		Store: kvstore.NewMemory(),
		Billing: &billing.StaticClient{Transactions: map[string][]billing.Transaction{
			"abc": {{PurchaseToken: "tok", ProductIDs: []string{"monthly"}, Type: billing.ProductTypeSubscription, PurchaseTime: now}},
		}},
		Now: func() time.Time { return now },
	})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Coordinator.UpdateProductEntitlementMappingIfStale(ctx))

	info, err := a.Session.GetCustomerInfo(ctx, purchases.CachedOrFetched)
	require.NoError(t, err)
	assert.Equal(t, entitlements.OriginOffline, info.Origin)
	assert.True(t, info.HasEntitlement("pro"))
	assert.Positive(t, calls)
}
