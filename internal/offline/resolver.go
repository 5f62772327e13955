// Package offline computes an entitlement snapshot from local purchase evidence when the
// backend is unreachable.
package offline

import (
	"context"
	"sort"
	"time"

	"github.com/lcrostarosa/entitlements/internal/billing"
	"github.com/lcrostarosa/entitlements/internal/entitlements"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

// OfflineSubscriptionExpiry is how long an offline-resolved subscription stays active,
// counted from resolution time.
const OfflineSubscriptionExpiry = 24 * time.Hour

// MappingSource provides the cached product entitlement mapping.
type MappingSource interface {
	ProductEntitlementMapping(ctx context.Context) (*entitlements.ProductEntitlementMapping, bool)
}

// PurchasedProductsResolver joins active purchases with the mapping.
type PurchasedProductsResolver struct {
	billing  billing.Client
	mappings MappingSource
	now      func() time.Time
}

// NewPurchasedProductsResolver creates a resolver. A nil now uses time.Now.
func NewPurchasedProductsResolver(client billing.Client, mappings MappingSource, now func() time.Time) *PurchasedProductsResolver {
	if now == nil {
		now = time.Now
	}
	return &PurchasedProductsResolver{billing: client, mappings: mappings, now: now}
}

// QueryActiveProducts returns one PurchasedProduct per product per active transaction,
// sorted by product identifier then hashed token. Products missing from the mapping are
// kept with no entitlements.
func (r *PurchasedProductsResolver) QueryActiveProducts(ctx context.Context, appUserID string) ([]entitlements.PurchasedProduct, error) {
	mapping, ok := r.mappings.ProductEntitlementMapping(ctx)
	if !ok {
		return nil, apperrors.ErrProductEntitlementMappingRequired
	}

	purchases, err := r.billing.QueryActivePurchases(ctx, appUserID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	products := make([]entitlements.PurchasedProduct, 0, len(purchases))
	for hashedToken, tx := range purchases {
		var expires *time.Time
		if tx.IsSubscription() {
			exp := now.Add(OfflineSubscriptionExpiry)
			expires = &exp
		}

		for _, productID := range tx.ProductIDs {
			p := entitlements.PurchasedProduct{
				ProductIdentifier: productID,
				HashedToken:       hashedToken,
				SourceTransaction: tx,
				Entitlements:      []string{},
				ExpiresDate:       expires,
			}
			if tx.BasePlanID != "" {
				plan := tx.BasePlanID
				p.BasePlanID = &plan
			}
			if m, found := mapping.LookupPlan(productID, tx.BasePlanID); found {
				if p.BasePlanID == nil {
					p.BasePlanID = m.BasePlanID
				}
				p.Entitlements = append(p.Entitlements, m.Entitlements...)
			} else {
				logging.Debug("Purchased product has no entitlement mapping",
					logging.String("product_id", productID), logging.AppUserID(appUserID))
			}
			products = append(products, p)
		}
	}

	sort.Slice(products, func(i, j int) bool {
		if products[i].ProductIdentifier != products[j].ProductIdentifier {
			return products[i].ProductIdentifier < products[j].ProductIdentifier
		}
		return products[i].HashedToken < products[j].HashedToken
	})
	return products, nil
}
