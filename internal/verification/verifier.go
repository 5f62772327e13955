package verification

import (
	"fmt"
	"time"

	"github.com/lcrostarosa/entitlements/internal/crypto"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// DefaultRootPublicKey is the embedded base64 root key used unless configuration overrides it.
const DefaultRootPublicKey = "8jfqjB5LT7HuUqRgn22e4oVRJciF3FX4R5Y9+VtZMUI="

// Verifier checks Ed25519 signatures for one public key. It holds no mutable state.
type Verifier struct {
	publicKey []byte
}

// NewVerifier wraps a raw 32-byte public key.
func NewVerifier(publicKey []byte) *Verifier {
	return &Verifier{publicKey: append([]byte(nil), publicKey...)}
}

// NewVerifierFromBase64 decodes a base64 public key.
func NewVerifierFromBase64(encoded string) (*Verifier, error) {
	pub, err := crypto.DecodePublicKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewVerifier(pub), nil
}

// DefaultRootVerifier returns a verifier for DefaultRootPublicKey.
func DefaultRootVerifier() *Verifier {
	v, err := NewVerifierFromBase64(DefaultRootPublicKey)
	if err != nil {
		panic(fmt.Sprintf("embedded root key is invalid: %v", err))
	}
	return v
}

// Verify reports whether signature is valid for message. Never panics.
func (v *Verifier) Verify(signature, message []byte) bool {
	return crypto.Verify(v.publicKey, message, signature)
}

// IntermediateKeyResolver turns the intermediate key carried by a signature into a
// verifier, after checking the root key vouches for it and it has not expired.
type IntermediateKeyResolver struct {
	root *Verifier
	now  func() time.Time
}

// NewIntermediateKeyResolver creates a resolver trusting root. A nil root uses the embedded
// key and a nil now uses time.Now.
func NewIntermediateKeyResolver(root *Verifier, now func() time.Time) *IntermediateKeyResolver {
	if root == nil {
		root = DefaultRootVerifier()
	}
	if now == nil {
		now = time.Now
	}
	return &IntermediateKeyResolver{root: root, now: now}
}

// Resolve returns a verifier for the signature's intermediate key. The verifier is meant
// for this single response; each response may carry a different intermediate key.
func (r *IntermediateKeyResolver) Resolve(sig *Signature) (*Verifier, error) {
	message := make([]byte, 0, IntermediateKeyExpirationSize+IntermediateKeySize)
	message = append(message, sig.IntermediateKeyExpiration...)
	message = append(message, sig.IntermediateKey...)

	if !r.root.Verify(sig.IntermediateKeySignature, message) {
		return nil, apperrors.ErrIntermediateKeyVerificationFailed
	}

	if sig.ExpirationDate().Before(r.now()) {
		return nil, fmt.Errorf("%w: expired on %s", apperrors.ErrIntermediateKeyExpired,
			sig.ExpirationDate().Format(time.DateOnly))
	}

	return NewVerifier(sig.IntermediateKey), nil
}
