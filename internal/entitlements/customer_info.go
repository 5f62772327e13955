package entitlements

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// Origin tells how a CustomerInfo snapshot was obtained.
type Origin string

const (
	OriginBackend Origin = "BACKEND"
	OriginCache   Origin = "CACHE"
	OriginOffline Origin = "OFFLINE"
)

// EntitlementInfo describes one entitlement a customer holds.
type EntitlementInfo struct {
	Identifier           string     `json:"identifier"`
	ProductIdentifier    string     `json:"product_identifier"`
	BasePlanID           *string    `json:"base_plan_id,omitempty"`
	IsActive             bool       `json:"is_active"`
	WillRenew            bool       `json:"will_renew"`
	PeriodType           string     `json:"period_type"`
	Store                string     `json:"store"`
	IsSandbox            bool       `json:"is_sandbox"`
	LatestPurchaseDate   *time.Time `json:"latest_purchase_date,omitempty"`
	OriginalPurchaseDate *time.Time `json:"original_purchase_date,omitempty"`
	ExpirationDate       *time.Time `json:"expiration_date,omitempty"`
}

// CustomerInfo is a point-in-time snapshot of a customer's purchases and entitlements.
type CustomerInfo struct {
	OriginalAppUserID      string                     `json:"original_app_user_id"`
	RequestDate            time.Time                  `json:"request_date"`
	FirstSeen              *time.Time                 `json:"first_seen,omitempty"`
	ManagementURL          *string                    `json:"management_url,omitempty"`
	Entitlements           map[string]EntitlementInfo `json:"entitlements"`
	ActiveSubscriptions    []string                   `json:"active_subscriptions"`
	AllPurchasedProductIDs []string                   `json:"all_purchased_product_ids"`
	LatestExpirationDate   *time.Time                 `json:"latest_expiration_date,omitempty"`
	Origin                 Origin                     `json:"origin"`
	Verification           verification.Result        `json:"verification"`

	// RawJSON is the backend document the snapshot was parsed from.
	RawJSON string `json:"-"`
}

// ActiveEntitlements returns the identifiers of active entitlements, sorted.
func (c *CustomerInfo) ActiveEntitlements() []string {
	var out []string
	for id, e := range c.Entitlements {
		if e.IsActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// HasEntitlement reports whether id is active.
func (c *CustomerInfo) HasEntitlement(id string) bool {
	e, ok := c.Entitlements[id]
	return ok && e.IsActive
}

// Backend subscriber document. Only the fields this engine reads are modeled.
type customerInfoDocument struct {
	RequestDate time.Time          `json:"request_date"`
	Subscriber  subscriberDocument `json:"subscriber"`
}

type subscriberDocument struct {
	OriginalAppUserID string                           `json:"original_app_user_id"`
	FirstSeen         *time.Time                       `json:"first_seen,omitempty"`
	ManagementURL     *string                          `json:"management_url"`
	Subscriptions     map[string]subscriptionDocument  `json:"subscriptions"`
	NonSubscriptions  map[string][]transactionDocument `json:"non_subscriptions"`
	Entitlements      map[string]entitlementDocument   `json:"entitlements"`
}

type subscriptionDocument struct {
	ExpiresDate             *time.Time `json:"expires_date"`
	PurchaseDate            *time.Time `json:"purchase_date,omitempty"`
	OriginalPurchaseDate    *time.Time `json:"original_purchase_date,omitempty"`
	PeriodType              string     `json:"period_type,omitempty"`
	Store                   string     `json:"store,omitempty"`
	IsSandbox               bool       `json:"is_sandbox"`
	UnsubscribeDetectedAt   *time.Time `json:"unsubscribe_detected_at"`
	BillingIssuesDetectedAt *time.Time `json:"billing_issues_detected_at"`
	ProductPlanIdentifier   *string    `json:"product_plan_identifier,omitempty"`
}

type transactionDocument struct {
	ID           string     `json:"id,omitempty"`
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	Store        string     `json:"store,omitempty"`
	IsSandbox    bool       `json:"is_sandbox"`
}

type entitlementDocument struct {
	ExpiresDate           *time.Time `json:"expires_date"`
	ProductIdentifier     string     `json:"product_identifier"`
	ProductPlanIdentifier *string    `json:"product_plan_identifier,omitempty"`
	PurchaseDate          *time.Time `json:"purchase_date,omitempty"`
}

// ParseCustomerInfo parses a backend subscriber document.
func ParseCustomerInfo(payload []byte, origin Origin, result verification.Result) (*CustomerInfo, error) {
	var doc customerInfoDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: customer info: %v", apperrors.ErrInvalidJSON, err)
	}
	sub := doc.Subscriber
	if sub.OriginalAppUserID == "" {
		return nil, fmt.Errorf("%w: customer info: missing subscriber.original_app_user_id", apperrors.ErrInvalidJSON)
	}

	info := &CustomerInfo{
		OriginalAppUserID:      sub.OriginalAppUserID,
		RequestDate:            doc.RequestDate,
		FirstSeen:              sub.FirstSeen,
		ManagementURL:          sub.ManagementURL,
		Entitlements:           make(map[string]EntitlementInfo, len(sub.Entitlements)),
		ActiveSubscriptions:    []string{},
		AllPurchasedProductIDs: []string{},
		Origin:                 origin,
		Verification:           result,
		RawJSON:                string(payload),
	}

	purchased := map[string]struct{}{}
	for productID, s := range sub.Subscriptions {
		purchased[productID] = struct{}{}
		if isActive(s.ExpiresDate, doc.RequestDate) {
			info.ActiveSubscriptions = append(info.ActiveSubscriptions, productID)
		}
		if s.ExpiresDate != nil && (info.LatestExpirationDate == nil || s.ExpiresDate.After(*info.LatestExpirationDate)) {
			exp := *s.ExpiresDate
			info.LatestExpirationDate = &exp
		}
	}
	for productID := range sub.NonSubscriptions {
		purchased[productID] = struct{}{}
	}
	for productID := range purchased {
		info.AllPurchasedProductIDs = append(info.AllPurchasedProductIDs, productID)
	}
	sort.Strings(info.ActiveSubscriptions)
	sort.Strings(info.AllPurchasedProductIDs)

	for id, e := range sub.Entitlements {
		ent := EntitlementInfo{
			Identifier:         id,
			ProductIdentifier:  e.ProductIdentifier,
			BasePlanID:         e.ProductPlanIdentifier,
			IsActive:           isActive(e.ExpiresDate, doc.RequestDate),
			LatestPurchaseDate: e.PurchaseDate,
			ExpirationDate:     e.ExpiresDate,
			PeriodType:         "normal",
		}
		if s, ok := sub.Subscriptions[e.ProductIdentifier]; ok {
			ent.Store = s.Store
			ent.IsSandbox = s.IsSandbox
			ent.OriginalPurchaseDate = s.OriginalPurchaseDate
			if s.PeriodType != "" {
				ent.PeriodType = s.PeriodType
			}
			ent.WillRenew = s.ExpiresDate != nil && s.UnsubscribeDetectedAt == nil && s.BillingIssuesDetectedAt == nil
		} else if txs := sub.NonSubscriptions[e.ProductIdentifier]; len(txs) > 0 {
			last := txs[len(txs)-1]
			ent.Store = last.Store
			ent.IsSandbox = last.IsSandbox
			ent.OriginalPurchaseDate = txs[0].PurchaseDate
		}
		info.Entitlements[id] = ent
	}

	return info, nil
}

// isActive treats a missing expiry as lifetime.
func isActive(expires *time.Time, at time.Time) bool {
	return expires == nil || expires.After(at)
}
