// Package e2e exercises the engine end to end: a signing fake backend, a persistent
// store, the offline fallback and the RPC surface.
package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcrostarosa/entitlements/internal/app"
	"github.com/lcrostarosa/entitlements/internal/billing"
	"github.com/lcrostarosa/entitlements/internal/config"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/purchases"
	"github.com/lcrostarosa/entitlements/internal/rpc"
	"github.com/lcrostarosa/entitlements/internal/testutil"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const (
	customerBody = `{"request_date":"2024-05-01T12:00:00Z","subscriber":{"original_app_user_id":"abc","entitlements":{"pro":{"expires_date":null,"product_identifier":"lifetime"}}}}`
	mappingBody  = `{"product_entitlement_mapping":{"monthly":{"product_identifier":"monthly","entitlements":["pro"]}}}`
	customerETag = "cust-v1"
)

// signingBackend serves signed customer info and mapping documents.
type signingBackend struct {
	auth     *testutil.SigningAuthority
	down     atomic.Bool
	unsigned atomic.Bool
	requests atomic.Int32
	notMod   atomic.Int32
}

func (b *signingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.requests.Add(1)
	if b.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var body, eTag string
	switch r.URL.Path {
	case "/v1/subscribers/abc":
		body, eTag = customerBody, customerETag
	case "/v1/product_entitlement_mapping":
		body = mappingBody
	default:
		http.NotFound(w, r)
		return
	}

	requestTime := "1714564800000"
	parts := testutil.SignedParts{RequestTime: &requestTime}
	if n := r.Header.Get(verification.HeaderNonce); n != "" {
		parts.Nonce = &n
	}
	w.Header().Set(verification.HeaderRequestTime, requestTime)
	if eTag != "" {
		w.Header().Set(httpcache.HeaderETag, eTag)
		parts.ETag = &eTag
	}

	status := http.StatusOK
	if eTag != "" && r.Header.Get(httpcache.HeaderIfNoneMatch) == eTag {
		status = http.StatusNotModified
		b.notMod.Add(1)
	} else {
		parts.Body = &body
	}
	if !b.unsigned.Load() {
		w.Header().Set(verification.HeaderSignature, b.auth.SignatureHeader(parts))
	}

	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = w.Write([]byte(body))
	}
}

type env struct {
	backend *signingBackend
	cfg     *config.Config
	now     time.Time
}

func newEnv(t *testing.T, mode string) *env {
	t.Helper()
	auth := testutil.NewSigningAuthority()
	b := &signingBackend{auth: auth}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	cfg := config.New(t.TempDir())
	cfg.APIKey = "appl_e2e"
	cfg.BaseURL = srv.URL
	cfg.AppUserID = "abc"
	cfg.Verification.Mode = mode
	cfg.Verification.RootPublicKey = auth.Root.PubB64
	cfg.Offline.Enabled = true
	cfg.Store.Backend = kvstore.BackendLevelDB
	require.NoError(t, cfg.Validate())

	return &env{backend: b, cfg: cfg, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// open builds the component graph over the env's persistent store.
func (e *env) open(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), e.cfg, &app.Options{
		Billing: &billing.StaticClient{Transactions: map[string][]billing.Transaction{
			"abc": {{PurchaseToken: "tok", ProductIDs: []string{"monthly"}, Type: billing.ProductTypeSubscription, PurchaseTime: e.now}},
		}},
	})
	require.NoError(t, err)
	return a
}

func TestE2E_VerifiedFetchThenConditionalRevalidation(t *testing.T) {
	e := newEnv(t, "enforced")
	a := e.open(t)
	defer a.Close()
	ctx := context.Background()

	info, err := a.Session.GetCustomerInfo(ctx, purchases.FetchCurrent)
	require.NoError(t, err)
	assert.Equal(t, verification.ResultVerified, info.Verification)
	assert.True(t, info.HasEntitlement("pro"))

	eTag, ok := a.HTTPCache.StoredETag(ctx, "/subscribers/abc")
	require.True(t, ok)
	assert.Equal(t, customerETag, eTag)

	// The cached ETag is sent; the signed 304 is served from the cache
	info, err = a.Session.CustomerInfoFor(ctx, "abc", purchases.CachedOrFetched)
	require.NoError(t, err)
	assert.True(t, info.HasEntitlement("pro"))

	require.NoError(t, a.DeviceCache.ClearCustomerInfo(ctx, "abc"))
	info, err = a.Session.GetCustomerInfo(ctx, purchases.CachedOrFetched)
	require.NoError(t, err)
	assert.Equal(t, int32(1), e.backend.notMod.Load())
	assert.Equal(t, verification.ResultVerified, info.Verification)
}

func TestE2E_EnforcedRejectsUnsignedResponse(t *testing.T) {
	e := newEnv(t, "enforced")
	e.backend.unsigned.Store(true)
	a := e.open(t)
	defer a.Close()
	ctx := context.Background()

	_, err := a.Session.GetCustomerInfo(ctx, purchases.FetchCurrent)
	assert.ErrorIs(t, err, apperrors.ErrSignatureVerificationFailed)
	_, ok := a.HTTPCache.StoredETag(ctx, "/subscribers/abc")
	assert.False(t, ok, "failed responses are never cached")
}

func TestE2E_InformationalPassesUnsignedResponse(t *testing.T) {
	e := newEnv(t, "informational")
	e.backend.unsigned.Store(true)
	a := e.open(t)
	defer a.Close()

	info, err := a.Session.GetCustomerInfo(context.Background(), purchases.FetchCurrent)
	require.NoError(t, err)
	assert.Equal(t, verification.ResultFailed, info.Verification)
}

func TestE2E_OfflineFallbackAndPersistence(t *testing.T) {
	e := newEnv(t, "informational")
	ctx := context.Background()

	a := e.open(t)
	require.NoError(t, a.Coordinator.UpdateProductEntitlementMappingIfStale(ctx))
	require.NoError(t, a.Close())

	// The mapping survives a restart; the backend is now down
	e.backend.down.Store(true)
	a = e.open(t)
	defer a.Close()

	_, ok := a.DeviceCache.ProductEntitlementMapping(ctx)
	require.True(t, ok)

	info, err := a.Session.GetCustomerInfo(ctx, purchases.CachedOrFetched)
	require.NoError(t, err)
	assert.Equal(t, entitlements.OriginOffline, info.Origin)
	assert.True(t, info.HasEntitlement("pro"))

	// Offline snapshots are served from memory and never persisted
	assert.False(t, a.DeviceCache.HasCustomerInfo(ctx, "abc"))
	again, err := a.Session.GetCustomerInfo(ctx, purchases.CachedOrFetched)
	require.NoError(t, err)
	assert.Same(t, info, again)

	// Recovery replaces the snapshot with the backend's view
	e.backend.down.Store(false)
	info, err = a.Session.GetCustomerInfo(ctx, purchases.FetchCurrent)
	require.NoError(t, err)
	assert.Equal(t, entitlements.OriginBackend, info.Origin)
	assert.True(t, a.DeviceCache.HasCustomerInfo(ctx, "abc"))
}

func TestE2E_RPC(t *testing.T) {
	e := newEnv(t, "informational")
	a := e.open(t)
	defer a.Close()
	require.NoError(t, a.Coordinator.RefreshProductEntitlementMapping(context.Background()))

	mux := http.NewServeMux()
	rpc.NewServer(rpc.ServerOptions{
		Engine:      a.Engine,
		Resolver:    a.Resolver,
		Coordinator: a.Coordinator,
		Session:     a.Session,
	}).RegisterHandlers(mux, &rpc.AuthConfig{APIKey: "server-key"})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	call := func(procedure string, fields map[string]any) (*structpb.Struct, error) {
		msg, err := structpb.NewStruct(fields)
		require.NoError(t, err)
		req := connect.NewRequest(msg)
		req.Header().Set("X-API-Key", "server-key")
		resp, err := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+procedure).CallUnary(context.Background(), req)
		if err != nil {
			return nil, err
		}
		return resp.Msg, nil
	}

	out, err := call(rpc.GetCustomerInfoProcedure, map[string]any{"fetch_policy": "current"})
	require.NoError(t, err)
	assert.Equal(t, string(verification.ResultVerified), out.Fields["verification"].GetStringValue())

	out, err = call(rpc.ResolveEntitlementsProcedure, map[string]any{"app_user_id": "abc"})
	require.NoError(t, err)
	assert.Len(t, out.Fields["products"].GetListValue().GetValues(), 1)

	// A cached snapshot blocks the offline fallback, so a forced fetch fails
	e.backend.down.Store(true)
	_, err = call(rpc.GetCustomerInfoProcedure, map[string]any{"fetch_policy": "current"})
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	out, err = call(rpc.GetCustomerInfoProcedure, map[string]any{"fetch_policy": "cache-only"})
	require.NoError(t, err)
	assert.Equal(t, "abc", out.Fields["original_app_user_id"].GetStringValue())
}
