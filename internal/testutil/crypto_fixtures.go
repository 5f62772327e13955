package testutil

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lcrostarosa/entitlements/internal/crypto"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// CryptoKeyFixture represents a test Ed25519 key pair
type CryptoKeyFixture struct {
	PublicKey  []byte
	PrivateKey []byte
	// PubB64 is the base64 public key, as configuration carries it
	PubB64 string
	Name   string
}

// NewCryptoKeyFixture generates a new Ed25519 key pair fixture
func NewCryptoKeyFixture(name string) (*CryptoKeyFixture, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &CryptoKeyFixture{
		PublicKey:  pub,
		PrivateKey: priv,
		PubB64:     crypto.EncodePublicKey(pub),
		Name:       name,
	}, nil
}

// MustNewCryptoKeyFixture generates a key fixture or panics
func MustNewCryptoKeyFixture(name string) *CryptoKeyFixture {
	f, err := NewCryptoKeyFixture(name)
	if err != nil {
		panic(fmt.Sprintf("failed to create crypto key fixture: %v", err))
	}
	return f
}

// Sign signs data with this fixture's private key
func (k *CryptoKeyFixture) Sign(data []byte) []byte {
	sig, err := crypto.Sign(k.PrivateKey, data)
	if err != nil {
		panic(fmt.Sprintf("fixture %s failed to sign: %v", k.Name, err))
	}
	return sig
}

// Verifier returns a verification.Verifier for this key
func (k *CryptoKeyFixture) Verifier() *verification.Verifier {
	return verification.NewVerifier(k.PublicKey)
}

// SigningAuthority plays the backend side: a root key vouching for an intermediate key
// that signs responses.
type SigningAuthority struct {
	Root         *CryptoKeyFixture
	Intermediate *CryptoKeyFixture
	// Expiration is the intermediate key's expiration date
	Expiration time.Time
}

// NewSigningAuthority creates an authority whose intermediate key expires in 30 days.
func NewSigningAuthority() *SigningAuthority {
	return &SigningAuthority{
		Root:         MustNewCryptoKeyFixture("root"),
		Intermediate: MustNewCryptoKeyFixture("intermediate"),
		Expiration:   time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

// WithExpiration returns a copy of a whose intermediate key expires at exp.
func (a *SigningAuthority) WithExpiration(exp time.Time) *SigningAuthority {
	cp := *a
	cp.Expiration = exp
	return &cp
}

// Mode returns a verification mode of kind trusting a's root key.
func (a *SigningAuthority) Mode(kind verification.ModeKind, now func() time.Time) verification.Mode {
	return verification.NewMode(kind, a.Root.Verifier(), now)
}

// SignedParts are the optional inputs a response signature covers.
type SignedParts struct {
	Nonce       *string
	RequestTime *string
	ETag        *string
	Body        *string
}

// SignatureHeader builds the base64 X-Signature value for parts.
func (a *SigningAuthority) SignatureHeader(parts SignedParts) string {
	sig := a.Signature(parts)
	return sig.Encode()
}

// Signature builds a full signature over parts with a fresh salt.
func (a *SigningAuthority) Signature(parts SignedParts) *verification.Signature {
	salt, err := crypto.RandomBytes(verification.SaltSize)
	if err != nil {
		panic(err)
	}
	expiration := verification.EncodeExpiration(a.Expiration)

	attestation := append(append([]byte{}, expiration...), a.Intermediate.PublicKey...)
	message, err := verification.SignedMessage(salt, parts.Nonce, parts.RequestTime, parts.ETag, parts.Body)
	if err != nil {
		panic(err)
	}

	raw := make([]byte, 0, verification.SignatureSize)
	raw = append(raw, salt...)
	raw = append(raw, a.Root.Sign(attestation)...)
	raw = append(raw, expiration...)
	raw = append(raw, a.Intermediate.PublicKey...)
	raw = append(raw, a.Intermediate.Sign(message)...)

	sig, err := verification.NewSignature(raw)
	if err != nil {
		panic(err)
	}
	return sig
}

// NewNonce returns a random base64 nonce of the size clients send.
func NewNonce() string {
	b, err := crypto.RandomBytes(12)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// Ptr returns a pointer to s.
func Ptr(s string) *string { return &s }
