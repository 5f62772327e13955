package backend

import (
	"context"
	"net/url"

	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
)

// Paths of the endpoints this client calls, relative to the API version root.
func customerInfoPath(appUserID string) string {
	return "/subscribers/" + url.PathEscape(appUserID)
}

func offeringsPath(appUserID string) string {
	return customerInfoPath(appUserID) + "/offerings"
}

const productEntitlementMappingPath = "/product_entitlement_mapping"

// GetCustomerInfo fetches the customer info snapshot for appUserID.
func (c *Client) GetCustomerInfo(ctx context.Context, appUserID string, forceRefresh bool) (*entitlements.CustomerInfo, error) {
	resp, err := c.PerformRequest(ctx, Request{
		Path:         customerInfoPath(appUserID),
		Nonce:        true,
		ForceRefresh: forceRefresh,
	})
	if err != nil {
		return nil, err
	}
	if err := errorFromResponse(resp); err != nil {
		return nil, err
	}

	origin := entitlements.OriginBackend
	if resp.Origin == httpcache.OriginCache {
		origin = entitlements.OriginCache
	}
	return entitlements.ParseCustomerInfo([]byte(resp.Payload), origin, resp.Verification)
}

// GetOfferings fetches the offerings document for appUserID.
func (c *Client) GetOfferings(ctx context.Context, appUserID string) (*httpcache.Response, map[string]any, error) {
	resp, err := c.PerformRequest(ctx, Request{Path: offeringsPath(appUserID)})
	if err != nil {
		return nil, nil, err
	}
	if err := errorFromResponse(resp); err != nil {
		return nil, nil, err
	}
	body, err := resp.Body()
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// GetProductEntitlementMapping fetches the product entitlement mapping document.
func (c *Client) GetProductEntitlementMapping(ctx context.Context) (*entitlements.ProductEntitlementMapping, error) {
	resp, err := c.PerformRequest(ctx, Request{Path: productEntitlementMappingPath})
	if err != nil {
		return nil, err
	}
	if err := errorFromResponse(resp); err != nil {
		return nil, err
	}
	return entitlements.ParseMapping([]byte(resp.Payload))
}
