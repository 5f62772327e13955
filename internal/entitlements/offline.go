package entitlements

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lcrostarosa/entitlements/internal/verification"
)

const offlinePeriodType = "normal"

// BuildOfflineCustomerInfo synthesizes a snapshot from locally resolved purchases. It
// builds the same document the backend would return and parses it with ParseCustomerInfo,
// so offline and online snapshots share one shape. Only entitlements granted by products
// present in products appear.
func BuildOfflineCustomerInfo(appUserID string, products []PurchasedProduct, now time.Time) (*CustomerInfo, error) {
	now = now.UTC()
	sub := subscriberDocument{
		OriginalAppUserID: appUserID,
		FirstSeen:         &now,
		Subscriptions:     map[string]subscriptionDocument{},
		NonSubscriptions:  map[string][]transactionDocument{},
		Entitlements:      map[string]entitlementDocument{},
	}

	for _, p := range products {
		purchaseDate := p.SourceTransaction.PurchaseTime.UTC()
		store := string(p.SourceTransaction.StoreOrDefault())

		if p.IsSubscription() {
			sub.Subscriptions[p.ProductIdentifier] = subscriptionDocument{
				ExpiresDate:           p.ExpiresDate,
				PurchaseDate:          &purchaseDate,
				OriginalPurchaseDate:  &purchaseDate,
				PeriodType:            offlinePeriodType,
				Store:                 store,
				IsSandbox:             p.SourceTransaction.IsSandbox,
				ProductPlanIdentifier: p.BasePlanID,
			}
		} else {
			sub.NonSubscriptions[p.ProductIdentifier] = append(sub.NonSubscriptions[p.ProductIdentifier], transactionDocument{
				ID:           p.HashedToken,
				PurchaseDate: &purchaseDate,
				Store:        store,
				IsSandbox:    p.SourceTransaction.IsSandbox,
			})
		}

		for _, id := range p.Entitlements {
			current, seen := sub.Entitlements[id]
			if seen && !laterExpiry(p.ExpiresDate, current.ExpiresDate) {
				continue
			}
			sub.Entitlements[id] = entitlementDocument{
				ExpiresDate:           p.ExpiresDate,
				ProductIdentifier:     p.ProductIdentifier,
				ProductPlanIdentifier: p.BasePlanID,
				PurchaseDate:          &purchaseDate,
			}
		}
	}

	payload, err := json.Marshal(customerInfoDocument{RequestDate: now, Subscriber: sub})
	if err != nil {
		return nil, fmt.Errorf("failed to build offline customer info: %w", err)
	}
	return ParseCustomerInfo(payload, OriginOffline, verification.ResultNotRequested)
}

// laterExpiry reports whether a outlives b. nil never expires.
func laterExpiry(a, b *time.Time) bool {
	switch {
	case b == nil:
		return false
	case a == nil:
		return true
	default:
		return a.After(*b)
	}
}
