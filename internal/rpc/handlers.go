package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcrostarosa/entitlements/internal/entitlements"
	"github.com/lcrostarosa/entitlements/internal/purchases"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// VerifyResponse checks a captured backend response. Request fields: path, signature,
// nonce, body, request_time, etag. Absent fields are treated as absent headers.
func (s *Server) VerifyResponse(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.engine == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("verification engine not configured"))
	}
	msg := req.Msg
	result := s.engine.Verify(verification.VerifyInput{
		Path:        stringField(msg, "path"),
		Signature:   optionalString(msg, "signature"),
		Nonce:       optionalString(msg, "nonce"),
		Body:        optionalString(msg, "body"),
		RequestTime: optionalString(msg, "request_time"),
		ETag:        optionalString(msg, "etag"),
	})

	out, err := structpb.NewStruct(map[string]any{
		"result": result.String(),
		"mode":   s.engine.Mode().String(),
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(out), nil
}

// ResolveEntitlements computes the offline view of a user's purchases: the active
// products with their entitlements and the customer info built from them.
func (s *Server) ResolveEntitlements(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.resolver == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("offline resolver not configured"))
	}
	appUserID, err := requiredString(req.Msg, "app_user_id")
	if err != nil {
		return nil, err
	}

	products, err := s.resolver.QueryActiveProducts(ctx, appUserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	info, err := entitlements.BuildOfflineCustomerInfo(appUserID, products, s.now())
	if err != nil {
		return nil, toConnectError(err)
	}
	infoValue, err := jsonValue(info)
	if err != nil {
		return nil, toConnectError(err)
	}

	list := make([]any, 0, len(products))
	for _, p := range products {
		list = append(list, productValue(p))
	}
	out, err := structpb.NewStruct(map[string]any{
		"app_user_id":   appUserID,
		"products":      list,
		"customer_info": infoValue,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(out), nil
}

// GetCustomerInfo serves customer info through the session. Request fields: app_user_id
// (defaults to the session user) and fetch_policy (cached, current, cache-only).
func (s *Server) GetCustomerInfo(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.session == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("session not configured"))
	}
	appUserID := stringField(req.Msg, "app_user_id")
	if appUserID == "" {
		appUserID = s.session.AppUserID()
	}
	policy, err := purchases.ParseFetchPolicy(stringField(req.Msg, "fetch_policy"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	info, err := s.session.CustomerInfoFor(ctx, appUserID, policy)
	if err != nil {
		return nil, toConnectError(err)
	}
	out := &structpb.Struct{}
	if err := marshalInto(info, out); err != nil {
		return nil, toConnectError(err)
	}
	if out.Fields == nil {
		out.Fields = map[string]*structpb.Value{}
	}
	out.Fields["active_entitlements"] = stringList(info.ActiveEntitlements())
	return connect.NewResponse(out), nil
}

// RefreshProductEntitlementMapping fetches the product entitlement mapping from the
// backend and caches it.
func (s *Server) RefreshProductEntitlementMapping(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.coordinator == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("offline coordinator not configured"))
	}
	if err := s.coordinator.RefreshProductEntitlementMapping(ctx); err != nil {
		return nil, toConnectError(err)
	}
	out, _ := structpb.NewStruct(map[string]any{"status": "ok"})
	return connect.NewResponse(out), nil
}

// Check is the health probe.
func (s *Server) Check(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	out, _ := structpb.NewStruct(map[string]any{"status": "ok"})
	return connect.NewResponse(out), nil
}

func productValue(p entitlements.PurchasedProduct) map[string]any {
	ents := make([]any, 0, len(p.Entitlements))
	for _, e := range p.Entitlements {
		ents = append(ents, e)
	}
	v := map[string]any{
		"product_identifier": p.ProductIdentifier,
		"hashed_token":       p.HashedToken,
		"entitlements":       ents,
		"store":              string(p.SourceTransaction.StoreOrDefault()),
		"is_subscription":    p.IsSubscription(),
	}
	if p.BasePlanID != nil {
		v["base_plan_id"] = *p.BasePlanID
	}
	if p.ExpiresDate != nil {
		v["expires_date"] = p.ExpiresDate.UTC().Format(time.RFC3339)
	}
	return v
}

func stringList(items []string) *structpb.Value {
	values := make([]*structpb.Value, 0, len(items))
	for _, s := range items {
		values = append(values, structpb.NewStringValue(s))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// marshalInto converts v to a Struct through its JSON form.
func marshalInto(v any, out *structpb.Struct) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return protojson.Unmarshal(data, out)
}

func jsonValue(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringField(msg *structpb.Struct, key string) string {
	if s := optionalString(msg, key); s != nil {
		return *s
	}
	return ""
}

func optionalString(msg *structpb.Struct, key string) *string {
	if msg == nil {
		return nil
	}
	v, ok := msg.GetFields()[key]
	if !ok {
		return nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil
	}
	s := sv.StringValue
	return &s
}

func requiredString(msg *structpb.Struct, key string) (string, error) {
	s := stringField(msg, key)
	if s == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, errors.New(key+" is required"))
	}
	return s, nil
}
