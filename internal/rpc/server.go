// Package rpc exposes the entitlement engine over Connect-RPC.
// Messages are google.protobuf.Struct documents, so any Connect, gRPC or gRPC-Web client
// can call the procedures without generated stubs.
package rpc

import (
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/lcrostarosa/entitlements/internal/offline"
	"github.com/lcrostarosa/entitlements/internal/purchases"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// Procedure paths.
const (
	EntitlementServiceName = "entitlements.v1.EntitlementService"
	HealthServiceName      = "entitlements.v1.HealthService"

	VerifyResponseProcedure      = "/" + EntitlementServiceName + "/VerifyResponse"
	ResolveEntitlementsProcedure = "/" + EntitlementServiceName + "/ResolveEntitlements"
	GetCustomerInfoProcedure     = "/" + EntitlementServiceName + "/GetCustomerInfo"
	RefreshMappingProcedure      = "/" + EntitlementServiceName + "/RefreshProductEntitlementMapping"
	HealthCheckProcedure         = "/" + HealthServiceName + "/Check"
)

// Server wraps the Connect-RPC handlers
type Server struct {
	engine      *verification.Engine
	resolver    *offline.PurchasedProductsResolver
	coordinator *offline.Coordinator
	session     *purchases.Session
	now         func() time.Time
}

// ServerOptions contains the components the handlers serve. Nil components make their
// procedures answer Unimplemented.
type ServerOptions struct {
	Engine      *verification.Engine
	Resolver    *offline.PurchasedProductsResolver
	Coordinator *offline.Coordinator
	Session     *purchases.Session
}

// NewServer creates a Connect-RPC server
func NewServer(opts ServerOptions) *Server {
	return &Server{
		engine:      opts.Engine,
		resolver:    opts.Resolver,
		coordinator: opts.Coordinator,
		session:     opts.Session,
		now:         time.Now,
	}
}

// RegisterHandlers registers all procedures with mux, behind logging and auth interceptors
func (s *Server) RegisterHandlers(mux *http.ServeMux, authConfig *AuthConfig) {
	if authConfig == nil {
		authConfig = &AuthConfig{}
	}
	interceptors := connect.WithInterceptors(
		newLoggingInterceptor(),
		newAuthInterceptor(authConfig),
	)

	mux.Handle(VerifyResponseProcedure, connect.NewUnaryHandler(VerifyResponseProcedure, s.VerifyResponse, interceptors))
	mux.Handle(ResolveEntitlementsProcedure, connect.NewUnaryHandler(ResolveEntitlementsProcedure, s.ResolveEntitlements, interceptors))
	mux.Handle(GetCustomerInfoProcedure, connect.NewUnaryHandler(GetCustomerInfoProcedure, s.GetCustomerInfo, interceptors))
	mux.Handle(RefreshMappingProcedure, connect.NewUnaryHandler(RefreshMappingProcedure, s.RefreshProductEntitlementMapping, interceptors))
	mux.Handle(HealthCheckProcedure, connect.NewUnaryHandler(HealthCheckProcedure, s.Check, interceptors))
}
