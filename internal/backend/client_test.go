package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/testutil"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const customerInfoBody = `{"request_date":"2024-05-01T12:00:00Z","subscriber":{"original_app_user_id":"abc","subscriptions":{},"non_subscriptions":{},"entitlements":{"pro":{"expires_date":null,"product_identifier":"lifetime"}}}}`

// fakeBackend serves canned responses and signs them with auth.
type fakeBackend struct {
	auth *testutil.SigningAuthority

	mu          sync.Mutex
	status      int
	body        string
	eTag        string
	tamper      bool
	unsigned    bool
	always304   bool
	requests    atomic.Int32
	lastHeaders http.Header
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeaders = r.Header.Clone()

	requestTime := "1714564800000"
	parts := testutil.SignedParts{RequestTime: &requestTime}
	if n := r.Header.Get(verification.HeaderNonce); n != "" {
		parts.Nonce = &n
	}

	status := f.status
	if f.always304 || (f.eTag != "" && r.Header.Get(httpcache.HeaderIfNoneMatch) == f.eTag) {
		status = http.StatusNotModified
	}

	w.Header().Set(verification.HeaderRequestTime, requestTime)
	if f.eTag != "" {
		w.Header().Set(httpcache.HeaderETag, f.eTag)
		eTag := f.eTag
		parts.ETag = &eTag
	}
	body := f.body
	if status != http.StatusNotModified {
		parts.Body = &body
	}
	if !f.unsigned {
		w.Header().Set(verification.HeaderSignature, f.auth.SignatureHeader(parts))
	}

	w.WriteHeader(status)
	if status != http.StatusNotModified {
		if f.tamper {
			body = body + " "
		}
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeBackend) header(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHeaders.Get(key)
}

func setup(t *testing.T, kind verification.ModeKind) (*Client, *fakeBackend) {
	t.Helper()
	auth := testutil.NewSigningAuthority()
	fb := &fakeBackend{auth: auth, status: http.StatusOK, body: customerInfoBody, eTag: "E1"}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	cache := httpcache.NewConditionalCache(kvstore.NewMemory())
	engine := verification.NewEngine(auth.Mode(kind, nil))
	return New(Config{BaseURL: srv.URL, APIKey: "appl_test_key"}, cache, engine), fb
}

func TestGetCustomerInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("verified response is cached", func(t *testing.T) {
		c, fb := setup(t, verification.ModeInformational)
		info, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)
		assert.Equal(t, verification.ResultVerified, info.Verification)
		assert.Equal(t, entitlements.OriginBackend, info.Origin)
		assert.True(t, info.HasEntitlement("pro"))

		assert.Equal(t, "Bearer appl_test_key", fb.header(HeaderAuthorization))
		assert.NotEmpty(t, fb.header(HeaderRequestID))
		assert.NotEmpty(t, fb.header(verification.HeaderNonce))
		assert.Equal(t, "", fb.header(httpcache.HeaderIfNoneMatch))

		eTag, ok := c.Cache().StoredETag(ctx, "/subscribers/abc")
		require.True(t, ok)
		assert.Equal(t, "E1", eTag)
	})

	t.Run("304 serves the cached copy", func(t *testing.T) {
		c, fb := setup(t, verification.ModeInformational)
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)

		info, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)
		assert.Equal(t, "E1", fb.header(httpcache.HeaderIfNoneMatch))
		assert.Equal(t, entitlements.OriginCache, info.Origin)
		assert.Equal(t, verification.ResultVerified, info.Verification)
		assert.Equal(t, int32(2), fb.requests.Load())
	})

	t.Run("force refresh bypasses etag", func(t *testing.T) {
		c, fb := setup(t, verification.ModeInformational)
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)
		info, err := c.GetCustomerInfo(ctx, "abc", true)
		require.NoError(t, err)
		assert.Equal(t, "", fb.header(httpcache.HeaderIfNoneMatch))
		assert.Equal(t, entitlements.OriginBackend, info.Origin)
	})

	t.Run("304 without cache retries unconditionally", func(t *testing.T) {
		c, fb := setup(t, verification.ModeDisabled)
		fb.always304 = true
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		var be *Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, http.StatusNotModified, be.StatusCode)
		assert.Equal(t, int32(2), fb.requests.Load())
	})

	t.Run("informational mode returns failed data uncached", func(t *testing.T) {
		c, fb := setup(t, verification.ModeInformational)
		fb.tamper = true
		info, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)
		assert.Equal(t, verification.ResultFailed, info.Verification)

		_, ok := c.Cache().StoredResult(ctx, "/subscribers/abc")
		assert.False(t, ok)
	})

	t.Run("enforced mode rejects failed data", func(t *testing.T) {
		c, fb := setup(t, verification.ModeEnforced)
		fb.unsigned = true
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		assert.ErrorIs(t, err, apperrors.ErrSignatureVerificationFailed)
	})

	t.Run("disabled mode sends no nonce", func(t *testing.T) {
		c, fb := setup(t, verification.ModeDisabled)
		info, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)
		assert.Equal(t, verification.ResultNotRequested, info.Verification)
		assert.Empty(t, fb.header(verification.HeaderNonce))
	})

	t.Run("server errors keep the cache and are classified", func(t *testing.T) {
		c, fb := setup(t, verification.ModeDisabled)
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		require.NoError(t, err)

		fb.mu.Lock()
		fb.status = http.StatusServiceUnavailable
		fb.body = `{"code":7110,"message":"maintenance"}`
		fb.eTag = "E2"
		fb.mu.Unlock()

		_, err = c.GetCustomerInfo(ctx, "abc", true)
		var be *Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, 7110, be.Code)
		assert.Equal(t, "maintenance", be.Message)
		assert.True(t, IsServerError(err))

		eTag, _ := c.Cache().StoredETag(ctx, "/subscribers/abc")
		assert.Equal(t, "E1", eTag)
	})

	t.Run("unsigned server errors stay server errors in enforced mode", func(t *testing.T) {
		c, fb := setup(t, verification.ModeEnforced)
		fb.status = http.StatusServiceUnavailable
		fb.eTag = ""
		fb.body = "upstream unavailable"
		fb.unsigned = true

		_, err := c.GetCustomerInfo(ctx, "abc", false)
		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrSignatureVerificationFailed)
		assert.True(t, IsServerError(err))

		fb.status = http.StatusForbidden
		_, err = c.GetCustomerInfo(ctx, "abc", false)
		var be *Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, http.StatusForbidden, be.StatusCode)
	})

	t.Run("client errors are not server errors", func(t *testing.T) {
		c, fb := setup(t, verification.ModeDisabled)
		fb.status = http.StatusNotFound
		fb.eTag = ""
		fb.body = `{"code":7259,"message":"not found"}`
		_, err := c.GetCustomerInfo(ctx, "abc", false)
		require.Error(t, err)
		assert.False(t, IsServerError(err))
	})
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url}, httpcache.NewConditionalCache(kvstore.NewMemory()), verification.NewEngine(verification.Disabled()))
	_, err := c.GetCustomerInfo(context.Background(), "abc", false)
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.True(t, IsServerError(err))
	assert.False(t, IsServerError(errors.New("other")))
}

func TestGetOfferingsScenario(t *testing.T) {
	ctx := context.Background()
	c, fb := setup(t, verification.ModeInformational)
	fb.body = `{"current_offering_id":"default","offerings":[]}`

	resp, body, err := c.GetOfferings(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "default", body["current_offering_id"])
	assert.Equal(t, httpcache.OriginBackend, resp.Origin)
	assert.Empty(t, fb.header(verification.HeaderNonce), "offerings are signed without a nonce")

	resp, _, err = c.GetOfferings(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "E1", fb.header(httpcache.HeaderIfNoneMatch))
	assert.Equal(t, httpcache.OriginCache, resp.Origin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetProductEntitlementMapping(t *testing.T) {
	c, fb := setup(t, verification.ModeEnforced)
	fb.body = `{"product_entitlement_mapping":{"monthly":{"product_identifier":"monthly","entitlements":["pro"]}}}`

	m, err := c.GetProductEntitlementMapping(context.Background())
	require.NoError(t, err)
	mapping, ok := m.Lookup("monthly")
	require.True(t, ok)
	assert.Equal(t, []string{"pro"}, mapping.Entitlements)
}

func TestRateLimit(t *testing.T) {
	auth := testutil.NewSigningAuthority()
	fb := &fakeBackend{auth: auth, status: http.StatusOK, body: customerInfoBody}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1},
		httpcache.NewConditionalCache(kvstore.NewMemory()), verification.NewEngine(verification.Disabled()))

	_, err := c.GetCustomerInfo(context.Background(), "abc", false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetCustomerInfo(ctx, "abc", false)
	assert.Error(t, err)
	assert.Equal(t, int32(1), fb.requests.Load())
}
