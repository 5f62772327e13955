package verification

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// Config selects the verification mode and the root key it trusts.
type Config struct {
	Mode          string `json:"mode" yaml:"mode"`
	RootPublicKey string `json:"root_public_key,omitempty" yaml:"root_public_key,omitempty"`
}

// DefaultConfig verifies nothing.
func DefaultConfig() Config {
	return Config{Mode: ModeDisabled.String()}
}

// Validate checks the mode spelling and the root key encoding.
func (c Config) Validate() error {
	if _, err := ParseModeKind(c.Mode); err != nil {
		return err
	}
	if strings.TrimSpace(c.RootPublicKey) != "" {
		if _, err := NewVerifierFromBase64(c.RootPublicKey); err != nil {
			return fmt.Errorf("%w: root_public_key: %v", apperrors.ErrInvalidConfig, err)
		}
	}
	return nil
}

// BuildMode constructs the Mode described by c. now may be nil.
func (c Config) BuildMode(now func() time.Time) (Mode, error) {
	kind, err := ParseModeKind(c.Mode)
	if err != nil {
		return Mode{}, err
	}
	var root *Verifier
	if strings.TrimSpace(c.RootPublicKey) != "" {
		root, err = NewVerifierFromBase64(c.RootPublicKey)
		if err != nil {
			return Mode{}, fmt.Errorf("%w: root_public_key: %v", apperrors.ErrInvalidConfig, err)
		}
	}
	return NewMode(kind, root, now), nil
}
