package rpc

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKey is the required API key for authentication
	APIKey string
	// DevMode disables authentication when true (for development only)
	DevMode bool
}

// authInterceptor validates API key authentication
type authInterceptor struct {
	config *AuthConfig
}

func newAuthInterceptor(config *AuthConfig) connect.Interceptor {
	return &authInterceptor{config: config}
}

// healthCheckProcedures are exempt from authentication
var healthCheckProcedures = map[string]bool{
	HealthCheckProcedure: true,
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if i.config.DevMode || healthCheckProcedures[req.Spec().Procedure] {
			return next(ctx, req)
		}
		if !i.authorized(req.Header()) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if i.config.DevMode {
			return next(ctx, conn)
		}
		if !i.authorized(conn.RequestHeader()) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}

// authorized checks X-API-Key, then a Bearer token. No configured key denies everything.
func (i *authInterceptor) authorized(h http.Header) bool {
	if i.config.APIKey == "" {
		return false
	}
	apiKey := h.Get("X-API-Key")
	if apiKey == "" {
		if auth := h.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			apiKey = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(i.config.APIKey)) == 1
}
