package verification

import (
	"encoding/base64"
	"errors"
	"sync/atomic"

	"github.com/lcrostarosa/entitlements/internal/logging"
)

// Result is the outcome of verifying one response.
type Result string

const (
	ResultVerified     Result = "VERIFIED"
	ResultFailed       Result = "FAILED"
	ResultNotRequested Result = "NOT_REQUESTED"
)

func (r Result) String() string { return string(r) }

// Response headers consumed by the engine.
const (
	HeaderSignature   = "X-Signature"
	HeaderNonce       = "X-Nonce"
	HeaderRequestTime = "X-Request-Time"
)

// VerifyInput carries the material of a single response. Nil fields are absent.
type VerifyInput struct {
	Path        string
	Signature   *string
	Nonce       *string
	Body        *string
	RequestTime *string
	ETag        *string
}

// Engine verifies backend responses under a fixed Mode.
type Engine struct {
	mode         Mode
	forceFailure atomic.Bool
}

// NewEngine creates an engine for mode.
func NewEngine(mode Mode) *Engine {
	return &Engine{mode: mode}
}

// Mode returns the engine's verification mode.
func (e *Engine) Mode() Mode { return e.mode }

// SetForceFailure makes every subsequent Verify return ResultFailed. Testing only.
func (e *Engine) SetForceFailure(force bool) {
	e.forceFailure.Store(force)
}

// Verify checks in against the signature it carries.
func (e *Engine) Verify(in VerifyInput) Result {
	if e.forceFailure.Load() {
		logging.Warn("Forcing signature verification failure", logging.Path(in.Path))
		return ResultFailed
	}
	if !e.mode.ShouldVerify() {
		return ResultNotRequested
	}

	if in.Signature == nil {
		logging.Warn("Response is missing signature header", logging.Path(in.Path))
		return ResultFailed
	}
	if in.RequestTime == nil {
		logging.Warn("Response is missing request time header", logging.Path(in.Path))
		return ResultFailed
	}
	if in.Body == nil && in.ETag == nil {
		logging.Warn("Response has neither body nor etag", logging.Path(in.Path))
		return ResultFailed
	}

	sig, err := ParseSignature(*in.Signature)
	if err != nil {
		logging.Warn("Failed to parse response signature", logging.Path(in.Path), logging.Err(err))
		return ResultFailed
	}

	verifier, err := e.mode.Resolver().Resolve(sig)
	if err != nil {
		logging.Warn("Failed to resolve intermediate key", logging.Path(in.Path), logging.Err(err))
		return ResultFailed
	}

	message, err := signedMessage(sig.Salt, in)
	if err != nil {
		logging.Warn("Failed to build signed message", logging.Path(in.Path), logging.Err(err))
		return ResultFailed
	}

	if !verifier.Verify(sig.Payload, message) {
		logging.Warn("Signature failed verification", logging.Path(in.Path))
		return ResultFailed
	}
	logging.Debug("Signature verified", logging.Path(in.Path))
	return ResultVerified
}

var errInvalidNonce = errors.New("nonce is not valid base64")

// signedMessage lays out salt, nonce, request time, etag and body in that order.
// Absent parts contribute no bytes.
func signedMessage(salt []byte, in VerifyInput) ([]byte, error) {
	var nonce []byte
	if in.Nonce != nil {
		decoded, err := base64.StdEncoding.DecodeString(*in.Nonce)
		if err != nil {
			return nil, errInvalidNonce
		}
		nonce = decoded
	}

	msg := make([]byte, 0, len(salt)+len(nonce)+len(deref(in.RequestTime))+len(deref(in.ETag))+len(deref(in.Body)))
	msg = append(msg, salt...)
	msg = append(msg, nonce...)
	msg = append(msg, deref(in.RequestTime)...)
	msg = append(msg, deref(in.ETag)...)
	msg = append(msg, deref(in.Body)...)
	return msg, nil
}

// SignedMessage exposes the message layout so servers and fixtures sign the same bytes.
func SignedMessage(salt []byte, nonce, requestTime, eTag, body *string) ([]byte, error) {
	return signedMessage(salt, VerifyInput{Nonce: nonce, RequestTime: requestTime, ETag: eTag, Body: body})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
