// Package billing describes the local store purchase evidence consumed by offline
// entitlement resolution.
package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ProductType distinguishes auto-renewing subscriptions from one-time purchases.
type ProductType string

const (
	ProductTypeSubscription ProductType = "SUBS"
	ProductTypeInApp        ProductType = "INAPP"
	ProductTypeUnknown      ProductType = "UNKNOWN"
)

// Store identifies the marketplace a purchase was made in.
type Store string

const (
	StorePlayStore Store = "play_store"
	StoreAppStore  Store = "app_store"
	StoreAmazon    Store = "amazon"
	StoreUnknown   Store = "unknown_store"
)

// Transaction is one active store purchase. A purchase may cover several products.
type Transaction struct {
	PurchaseToken string      `json:"purchase_token"`
	OrderID       string      `json:"order_id,omitempty"`
	ProductIDs    []string    `json:"product_ids"`
	BasePlanID    string      `json:"base_plan_id,omitempty"`
	Type          ProductType `json:"type"`
	Store         Store       `json:"store,omitempty"`
	PurchaseTime  time.Time   `json:"purchase_time"`
	IsAutoRenew   bool        `json:"is_auto_renewing,omitempty"`
	IsSandbox     bool        `json:"is_sandbox,omitempty"`
}

// IsSubscription reports whether the transaction is for a subscription.
func (t Transaction) IsSubscription() bool {
	return t.Type == ProductTypeSubscription
}

// StoreOrDefault returns the transaction's store, or StoreUnknown.
func (t Transaction) StoreOrDefault() Store {
	if t.Store == "" {
		return StoreUnknown
	}
	return t.Store
}

// Client queries the billing system for a user's active purchases.
type Client interface {
	// QueryActivePurchases returns active purchases keyed by HashToken(purchaseToken).
	QueryActivePurchases(ctx context.Context, appUserID string) (map[string]Transaction, error)
}

// HashToken returns the hex SHA-256 of a purchase token. Raw tokens never leave this package's
// callers as map keys or log fields.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Index keys transactions by their hashed purchase token.
func Index(txs []Transaction) map[string]Transaction {
	out := make(map[string]Transaction, len(txs))
	for _, tx := range txs {
		out[HashToken(tx.PurchaseToken)] = tx
	}
	return out
}
