// Package entitlements models what a user is entitled to: the product to entitlement
// mapping, purchased products, and the customer info snapshot built from either.
package entitlements

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// Mapping lists the entitlements a store product unlocks.
type Mapping struct {
	ProductIdentifier string   `json:"product_identifier"`
	BasePlanID        *string  `json:"base_plan_id,omitempty"`
	Entitlements      []string `json:"entitlements"`
}

// ProductEntitlementMapping is the whole mapping document, keyed by product lookup key.
// It is always replaced as a whole, never merged.
type ProductEntitlementMapping struct {
	Mappings map[string]Mapping
}

type mappingDocument struct {
	ProductEntitlementMapping map[string]Mapping `json:"product_entitlement_mapping"`
}

// ParseMapping parses the backend document {"product_entitlement_mapping": {...}}.
func ParseMapping(data []byte) (*ProductEntitlementMapping, error) {
	var doc mappingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: product entitlement mapping: %v", apperrors.ErrInvalidJSON, err)
	}
	if doc.ProductEntitlementMapping == nil {
		return nil, fmt.Errorf("%w: product entitlement mapping: missing product_entitlement_mapping", apperrors.ErrInvalidJSON)
	}
	m := &ProductEntitlementMapping{Mappings: make(map[string]Mapping, len(doc.ProductEntitlementMapping))}
	for key, v := range doc.ProductEntitlementMapping {
		if v.ProductIdentifier == "" {
			v.ProductIdentifier = key
		}
		if v.Entitlements == nil {
			v.Entitlements = []string{}
		}
		m.Mappings[key] = v
	}
	return m, nil
}

// JSON serializes the mapping in the backend document format.
func (m *ProductEntitlementMapping) JSON() ([]byte, error) {
	b, err := json.Marshal(mappingDocument{ProductEntitlementMapping: m.Mappings})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize product entitlement mapping: %w", err)
	}
	return b, nil
}

// Lookup finds the mapping for productID when no base plan is known.
func (m *ProductEntitlementMapping) Lookup(productID string) (Mapping, bool) {
	return m.LookupPlan(productID, "")
}

// LookupPlan finds the mapping for productID purchased on basePlanID, which may be empty.
// The "<product>:<base plan>" key wins, then the bare product key when its plan is unset or
// agrees. Otherwise an entry for the product on the same plan is used. Without a base plan
// a product mapped on several plans is ambiguous and has no mapping, so a purchase never
// inherits another plan's entitlements.
func (m *ProductEntitlementMapping) LookupPlan(productID, basePlanID string) (Mapping, bool) {
	if m == nil {
		return Mapping{}, false
	}
	if basePlanID != "" {
		if v, ok := m.Mappings[productID+":"+basePlanID]; ok {
			return v, true
		}
	}
	if v, ok := m.Mappings[productID]; ok {
		if plan := v.basePlan(); basePlanID == "" || plan == "" || plan == basePlanID {
			return v, true
		}
	}

	keys := make([]string, 0, len(m.Mappings))
	for k, v := range m.Mappings {
		if v.ProductIdentifier != productID {
			continue
		}
		if basePlanID == "" || v.basePlan() == basePlanID {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 || (basePlanID == "" && len(keys) > 1) {
		return Mapping{}, false
	}
	sort.Strings(keys)
	return m.Mappings[keys[0]], true
}

func (v Mapping) basePlan() string {
	if v.BasePlanID == nil {
		return ""
	}
	return *v.BasePlanID
}

// Len returns the number of mapped products.
func (m *ProductEntitlementMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Mappings)
}
