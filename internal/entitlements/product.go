package entitlements

import (
	"time"

	"github.com/lcrostarosa/entitlements/internal/billing"
)

// PurchasedProduct is one product from one active transaction, with the entitlements it
// grants. A nil ExpiresDate means the product does not expire.
type PurchasedProduct struct {
	ProductIdentifier string
	BasePlanID        *string
	HashedToken       string
	SourceTransaction billing.Transaction
	Entitlements      []string
	ExpiresDate       *time.Time
}

// IsSubscription reports whether the product came from a subscription purchase.
func (p PurchasedProduct) IsSubscription() bool {
	return p.SourceTransaction.IsSubscription()
}
