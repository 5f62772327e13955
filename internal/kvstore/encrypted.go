package kvstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/lcrostarosa/entitlements/internal/crypto"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// saltKey holds the Argon2 salt in the wrapped store. It is hidden from Keys.
const saltKey = "__kvstore_salt"

// Encrypted seals every value with AES-256-GCM before handing it to the wrapped store.
// Keys stay in plaintext so prefix listing keeps working.
type Encrypted struct {
	inner  Store
	sealer *crypto.Sealer
}

// NewEncrypted wraps inner, creating and persisting a salt on first use.
func NewEncrypted(ctx context.Context, inner Store, passphrase string) (*Encrypted, error) {
	salt, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return &Encrypted{inner: inner, sealer: sealer}, nil
}

func loadOrCreateSalt(ctx context.Context, inner Store) ([]byte, error) {
	encoded, err := inner.Get(ctx, saltKey)
	if err == nil {
		salt, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decode store salt: %w", decErr)
		}
		return salt, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	if err := inner.Put(ctx, saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("failed to persist store salt: %w", err)
	}
	return salt, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, error) {
	encoded, err := e.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	plain, err := e.sealer.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (e *Encrypted) Put(ctx context.Context, key, value string) error {
	sealed, err := e.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return e.inner.Put(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := e.inner.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if k != saltKey {
			out = append(out, k)
		}
	}
	return out, nil
}

func (e *Encrypted) Close() error {
	return e.inner.Close()
}
