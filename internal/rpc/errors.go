package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/lcrostarosa/entitlements/internal/backend"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/purchases"
)

// toConnectError maps domain errors to Connect codes. Messages are sanitized; the
// original error is logged.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, apperrors.ErrProductEntitlementMappingRequired),
		errors.Is(err, apperrors.ErrOfflineEntitlementsNotSupported):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, purchases.ErrNoCachedCustomerInfo), errors.Is(err, apperrors.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, apperrors.ErrInvalidJSON),
		errors.Is(err, apperrors.ErrSignatureSizeMismatch),
		errors.Is(err, apperrors.ErrInvalidSignatureEncoding):
		code = connect.CodeInvalidArgument
	case errors.Is(err, apperrors.ErrSignatureVerificationFailed):
		code = connect.CodePermissionDenied
	case backend.IsServerError(err):
		code = connect.CodeUnavailable
	}

	if code == connect.CodeInternal {
		logging.Error("RPC failed", logging.Err(err))
	}
	return connect.NewError(code, errors.New(apperrors.SanitizeError(err)))
}
