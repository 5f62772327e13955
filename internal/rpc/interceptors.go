package rpc

import (
	"context"
	"time"

	"connectrpc.com/connect"

	"github.com/lcrostarosa/entitlements/internal/logging"
)

// loggingInterceptor logs RPC calls
type loggingInterceptor struct{}

func newLoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{}
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []logging.Field{
			logging.String("procedure", req.Spec().Procedure),
			logging.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logging.Debug("RPC error", append(fields, logging.String("code", connect.CodeOf(err).String()), logging.Err(err))...)
			return resp, err
		}
		logging.Debug("RPC call", fields...)
		return resp, nil
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // No streaming RPCs in our API
}
