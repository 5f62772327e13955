package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/entitlements/internal/billing"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const mappingJSON = `{
	"product_entitlement_mapping": {
		"monthly:p1m": {"product_identifier": "monthly", "base_plan_id": "p1m", "entitlements": ["pro"]},
		"lifetime": {"product_identifier": "lifetime", "entitlements": ["pro", "lifetime"]},
		"coins": {"product_identifier": "coins", "entitlements": []}
	}
}`

func TestParseMapping(t *testing.T) {
	t.Run("parses backend document", func(t *testing.T) {
		m, err := ParseMapping([]byte(mappingJSON))
		require.NoError(t, err)
		assert.Equal(t, 3, m.Len())

		monthly, ok := m.Lookup("monthly")
		require.True(t, ok, "lookup falls back to product identifier")
		require.NotNil(t, monthly.BasePlanID)
		assert.Equal(t, "p1m", *monthly.BasePlanID)
		assert.Equal(t, []string{"pro"}, monthly.Entitlements)

		lifetime, ok := m.Lookup("lifetime")
		require.True(t, ok)
		assert.Nil(t, lifetime.BasePlanID)

		_, ok = m.Lookup("unknown")
		assert.False(t, ok)
	})

	t.Run("round trips", func(t *testing.T) {
		m, err := ParseMapping([]byte(mappingJSON))
		require.NoError(t, err)
		b, err := m.JSON()
		require.NoError(t, err)
		again, err := ParseMapping(b)
		require.NoError(t, err)
		assert.Equal(t, m, again)
	})

	t.Run("rejects malformed documents", func(t *testing.T) {
		_, err := ParseMapping([]byte("{"))
		assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
		_, err = ParseMapping([]byte(`{"other": {}}`))
		assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
	})

	t.Run("nil mapping has nothing", func(t *testing.T) {
		var m *ProductEntitlementMapping
		_, ok := m.Lookup("x")
		assert.False(t, ok)
		assert.Zero(t, m.Len())
	})
}

func TestLookupPlan(t *testing.T) {
	m, err := ParseMapping([]byte(`{"product_entitlement_mapping": {
		"annual:p1y": {"product_identifier": "annual", "base_plan_id": "p1y", "entitlements": ["pro", "archive"]},
		"annual:p1m": {"product_identifier": "annual", "base_plan_id": "p1m", "entitlements": ["pro"]},
		"weekly": {"product_identifier": "weekly", "base_plan_id": "p1w", "entitlements": ["lite"]},
		"coins": {"product_identifier": "coins", "entitlements": ["coins"]}
	}}`))
	require.NoError(t, err)

	tests := []struct {
		name      string
		productID string
		basePlan  string
		want      []string
		found     bool
	}{
		{"exact plan key", "annual", "p1m", []string{"pro"}, true},
		{"other plan key", "annual", "p1y", []string{"pro", "archive"}, true},
		{"unknown plan is not borrowed", "annual", "p6m", nil, false},
		{"several plans without a base plan are ambiguous", "annual", "", nil, false},
		{"bare key on its own plan", "weekly", "p1w", []string{"lite"}, true},
		{"bare key on another plan", "weekly", "p2w", nil, false},
		{"bare key without a base plan", "weekly", "", []string{"lite"}, true},
		{"planless mapping serves any plan", "coins", "p1", []string{"coins"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.LookupPlan(tt.productID, tt.basePlan)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.Entitlements)
			}
		})
	}
}

const customerInfoJSON = `{
	"request_date": "2024-05-01T12:00:00Z",
	"subscriber": {
		"original_app_user_id": "abc",
		"first_seen": "2024-01-01T00:00:00Z",
		"management_url": "https://play.google.com/store/account/subscriptions",
		"subscriptions": {
			"monthly": {"expires_date": "2024-06-01T00:00:00Z", "purchase_date": "2024-05-01T00:00:00Z", "original_purchase_date": "2024-01-01T00:00:00Z", "period_type": "normal", "store": "play_store", "is_sandbox": false, "unsubscribe_detected_at": null, "billing_issues_detected_at": null},
			"old": {"expires_date": "2024-02-01T00:00:00Z", "store": "play_store", "is_sandbox": true, "unsubscribe_detected_at": "2024-01-15T00:00:00Z", "billing_issues_detected_at": null}
		},
		"non_subscriptions": {
			"lifetime": [{"id": "t1", "purchase_date": "2023-01-01T00:00:00Z", "store": "app_store", "is_sandbox": false}]
		},
		"entitlements": {
			"pro": {"expires_date": "2024-06-01T00:00:00Z", "product_identifier": "monthly", "purchase_date": "2024-05-01T00:00:00Z"},
			"legacy": {"expires_date": "2024-02-01T00:00:00Z", "product_identifier": "old"},
			"forever": {"expires_date": null, "product_identifier": "lifetime"}
		}
	}
}`

func TestParseCustomerInfo(t *testing.T) {
	info, err := ParseCustomerInfo([]byte(customerInfoJSON), OriginBackend, verification.ResultVerified)
	require.NoError(t, err)

	assert.Equal(t, "abc", info.OriginalAppUserID)
	assert.Equal(t, []string{"monthly"}, info.ActiveSubscriptions)
	assert.Equal(t, []string{"lifetime", "monthly", "old"}, info.AllPurchasedProductIDs)
	assert.Equal(t, []string{"forever", "pro"}, info.ActiveEntitlements())
	assert.True(t, info.HasEntitlement("pro"))
	assert.False(t, info.HasEntitlement("legacy"))
	assert.False(t, info.HasEntitlement("missing"))
	require.NotNil(t, info.LatestExpirationDate)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), info.LatestExpirationDate.UTC())
	assert.Equal(t, verification.ResultVerified, info.Verification)
	assert.Equal(t, OriginBackend, info.Origin)

	pro := info.Entitlements["pro"]
	assert.True(t, pro.WillRenew)
	assert.Equal(t, "play_store", pro.Store)
	assert.False(t, info.Entitlements["legacy"].WillRenew)
	assert.Equal(t, "app_store", info.Entitlements["forever"].Store)

	t.Run("rejects documents without a subscriber", func(t *testing.T) {
		_, err := ParseCustomerInfo([]byte(`{"request_date": "2024-05-01T12:00:00Z"}`), OriginBackend, verification.ResultNotRequested)
		assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
		_, err = ParseCustomerInfo([]byte(`not json`), OriginBackend, verification.ResultNotRequested)
		assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
	})
}

func ptr[T any](v T) *T { return &v }

func TestBuildOfflineCustomerInfo(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tomorrow := now.Add(24 * time.Hour)
	sub := billing.Transaction{PurchaseToken: "tok-sub", ProductIDs: []string{"monthly"}, Type: billing.ProductTypeSubscription, Store: billing.StorePlayStore, PurchaseTime: now.Add(-time.Hour)}
	inapp := billing.Transaction{PurchaseToken: "tok-life", ProductIDs: []string{"lifetime"}, Type: billing.ProductTypeInApp, PurchaseTime: now.Add(-48 * time.Hour)}

	products := []PurchasedProduct{
		{ProductIdentifier: "monthly", BasePlanID: ptr("p1m"), HashedToken: billing.HashToken("tok-sub"), SourceTransaction: sub, Entitlements: []string{"pro"}, ExpiresDate: &tomorrow},
		{ProductIdentifier: "lifetime", HashedToken: billing.HashToken("tok-life"), SourceTransaction: inapp, Entitlements: []string{"pro", "lifetime"}},
		{ProductIdentifier: "coins", HashedToken: billing.HashToken("tok-coins"), SourceTransaction: inapp, Entitlements: []string{}},
	}

	info, err := BuildOfflineCustomerInfo("abc", products, now)
	require.NoError(t, err)

	assert.Equal(t, OriginOffline, info.Origin)
	assert.Equal(t, verification.ResultNotRequested, info.Verification)
	assert.Equal(t, "abc", info.OriginalAppUserID)
	assert.Equal(t, []string{"monthly"}, info.ActiveSubscriptions)
	assert.Equal(t, []string{"coins", "lifetime", "monthly"}, info.AllPurchasedProductIDs)
	assert.Equal(t, []string{"lifetime", "pro"}, info.ActiveEntitlements())

	t.Run("lifetime product wins the expiry", func(t *testing.T) {
		pro := info.Entitlements["pro"]
		assert.Nil(t, pro.ExpirationDate)
		assert.Equal(t, "lifetime", pro.ProductIdentifier)
	})

	t.Run("no fabricated entitlements", func(t *testing.T) {
		assert.Len(t, info.Entitlements, 2)
	})

	t.Run("subscription only expires tomorrow", func(t *testing.T) {
		only, err := BuildOfflineCustomerInfo("abc", products[:1], now)
		require.NoError(t, err)
		pro := only.Entitlements["pro"]
		require.NotNil(t, pro.ExpirationDate)
		assert.True(t, pro.ExpirationDate.Equal(tomorrow))
		require.NotNil(t, pro.BasePlanID)
		assert.Equal(t, "p1m", *pro.BasePlanID)
		assert.True(t, pro.IsActive)
	})

	t.Run("no purchases yields empty snapshot", func(t *testing.T) {
		empty, err := BuildOfflineCustomerInfo("abc", nil, now)
		require.NoError(t, err)
		assert.Empty(t, empty.Entitlements)
		assert.Empty(t, empty.ActiveSubscriptions)
	})
}

func TestLaterExpiry(t *testing.T) {
	a := time.Now()
	b := a.Add(time.Hour)
	assert.True(t, laterExpiry(&b, &a))
	assert.False(t, laterExpiry(&a, &b))
	assert.True(t, laterExpiry(nil, &a))
	assert.False(t, laterExpiry(&a, nil))
	assert.False(t, laterExpiry(nil, nil))
}
