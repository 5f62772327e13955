// Package verification checks that backend responses were signed by a trusted key.
//
// Responses carry a signature blob made of a salt, an intermediate public key signed by
// the long-lived root key together with its expiration, and the payload signature made
// with the intermediate key. The intermediate key rotates without shipping a new root key.
package verification

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// Field sizes of the signature blob, in order.
const (
	SaltSize                      = 16
	IntermediateKeySignatureSize  = 64
	IntermediateKeyExpirationSize = 4
	IntermediateKeySize           = 32
	PayloadSize                   = 64

	SignatureSize = SaltSize + IntermediateKeySignatureSize + IntermediateKeyExpirationSize +
		IntermediateKeySize + PayloadSize
)

// Signature is a parsed signature blob. Byte slices alias a private copy of the blob.
type Signature struct {
	Salt                      []byte
	IntermediateKeySignature  []byte
	IntermediateKeyExpiration []byte
	IntermediateKey           []byte
	Payload                   []byte
}

// ParseSignature decodes a base64 signature header.
func ParseSignature(header string) (*Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSignatureEncoding, err)
	}
	return NewSignature(raw)
}

// NewSignature splits raw into its fields. raw must be exactly SignatureSize bytes.
func NewSignature(raw []byte) (*Signature, error) {
	if len(raw) != SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", apperrors.ErrSignatureSizeMismatch, SignatureSize, len(raw))
	}
	b := append([]byte(nil), raw...)

	off := 0
	take := func(n int) []byte {
		field := b[off : off+n : off+n]
		off += n
		return field
	}
	return &Signature{
		Salt:                      take(SaltSize),
		IntermediateKeySignature:  take(IntermediateKeySignatureSize),
		IntermediateKeyExpiration: take(IntermediateKeyExpirationSize),
		IntermediateKey:           take(IntermediateKeySize),
		Payload:                   take(PayloadSize),
	}, nil
}

// Bytes re-assembles the blob.
func (s *Signature) Bytes() []byte {
	out := make([]byte, 0, SignatureSize)
	out = append(out, s.Salt...)
	out = append(out, s.IntermediateKeySignature...)
	out = append(out, s.IntermediateKeyExpiration...)
	out = append(out, s.IntermediateKey...)
	out = append(out, s.Payload...)
	return out
}

// Encode returns the base64 header form.
func (s *Signature) Encode() string {
	return base64.StdEncoding.EncodeToString(s.Bytes())
}

// ExpirationDays decodes the little-endian day count since the Unix epoch.
func (s *Signature) ExpirationDays() uint32 {
	return binary.LittleEndian.Uint32(s.IntermediateKeyExpiration)
}

// ExpirationDate is the UTC midnight the intermediate key expires on.
func (s *Signature) ExpirationDate() time.Time {
	return time.Unix(int64(s.ExpirationDays())*secondsPerDay, 0).UTC()
}

// EncodeExpiration converts a date to the 4-byte wire form.
func EncodeExpiration(t time.Time) []byte {
	out := make([]byte, IntermediateKeyExpirationSize)
	binary.LittleEndian.PutUint32(out, uint32(daysSinceEpoch(t)))
	return out
}

const secondsPerDay = 24 * 60 * 60

func daysSinceEpoch(t time.Time) int64 {
	return t.UTC().Unix() / secondsPerDay
}
