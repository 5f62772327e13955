package verification

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// ModeKind enumerates the verification modes.
type ModeKind int

const (
	ModeDisabled ModeKind = iota
	ModeInformational
	ModeEnforced
)

func (k ModeKind) String() string {
	switch k {
	case ModeDisabled:
		return "disabled"
	case ModeInformational:
		return "informational"
	case ModeEnforced:
		return "enforced"
	default:
		return fmt.Sprintf("ModeKind(%d)", int(k))
	}
}

// ParseModeKind parses the configuration spelling of a mode. Empty means disabled.
func ParseModeKind(s string) (ModeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return ModeDisabled, nil
	case "informational":
		return ModeInformational, nil
	case "enforced":
		return ModeEnforced, nil
	default:
		return ModeDisabled, fmt.Errorf("%w: unknown verification mode %q", apperrors.ErrInvalidConfig, s)
	}
}

// Mode is fixed at construction. Disabled modes have no resolver; the other two always do.
type Mode struct {
	kind     ModeKind
	resolver *IntermediateKeyResolver
}

// Disabled returns the mode that skips verification entirely.
func Disabled() Mode {
	return Mode{kind: ModeDisabled}
}

// Informational verifies responses but still hands failed ones to the caller. A nil
// resolver trusts the embedded root key.
func Informational(resolver *IntermediateKeyResolver) Mode {
	return Mode{kind: ModeInformational, resolver: orDefault(resolver)}
}

// Enforced verifies responses and rejects failed ones. A nil resolver trusts the
// embedded root key.
func Enforced(resolver *IntermediateKeyResolver) Mode {
	return Mode{kind: ModeEnforced, resolver: orDefault(resolver)}
}

func orDefault(resolver *IntermediateKeyResolver) *IntermediateKeyResolver {
	if resolver == nil {
		return NewIntermediateKeyResolver(nil, nil)
	}
	return resolver
}

// NewMode builds a mode of kind trusting root. A nil root uses the embedded key.
func NewMode(kind ModeKind, root *Verifier, now func() time.Time) Mode {
	if kind == ModeDisabled {
		return Disabled()
	}
	if root == nil {
		root = DefaultRootVerifier()
	}
	resolver := NewIntermediateKeyResolver(root, now)
	if kind == ModeEnforced {
		return Enforced(resolver)
	}
	return Informational(resolver)
}

func (m Mode) Kind() ModeKind { return m.kind }

// ShouldVerify is true for informational and enforced modes.
func (m Mode) ShouldVerify() bool {
	return m.kind == ModeInformational || m.kind == ModeEnforced
}

// IsEnforced is true when failed verification must block the response.
func (m Mode) IsEnforced() bool { return m.kind == ModeEnforced }

// Resolver returns the mode's intermediate key resolver, nil when disabled.
func (m Mode) Resolver() *IntermediateKeyResolver { return m.resolver }

func (m Mode) String() string { return m.kind.String() }
