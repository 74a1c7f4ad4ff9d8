package auth

import (
	"context"
	"strings"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
)

// PortValidator adapts *Validator to ports.TokenValidator, mapping JWT
// claims onto the identity shape the rest of the module expects.
type PortValidator struct {
	inner *Validator
}

// NewPortValidator wraps v for use as a ports.TokenValidator.
func NewPortValidator(v *Validator) *PortValidator {
	return &PortValidator{inner: v}
}

// ValidateToken implements ports.TokenValidator.
func (p *PortValidator) ValidateToken(ctx context.Context, token string) (ports.PlayerIdentity, error) {
	claims, err := p.inner.ValidateToken(token)
	if err != nil {
		return ports.PlayerIdentity{}, err
	}
	return ports.PlayerIdentity{
		PlayerID:    domain.PlayerID(claims.Subject),
		DisplayName: claims.Name,
		IsAdmin:     strings.Contains(claims.Scope, "admin"),
	}, nil
}

// MockPortValidator adapts *MockValidator to ports.TokenValidator for
// SKIP_AUTH development mode, mirroring PortValidator's claim mapping.
type MockPortValidator struct {
	inner *MockValidator
}

// NewMockPortValidator wraps a MockValidator for use as a ports.TokenValidator.
func NewMockPortValidator() *MockPortValidator {
	return &MockPortValidator{inner: &MockValidator{}}
}

// ValidateToken implements ports.TokenValidator.
func (p *MockPortValidator) ValidateToken(ctx context.Context, token string) (ports.PlayerIdentity, error) {
	claims, err := p.inner.ValidateToken(token)
	if err != nil {
		return ports.PlayerIdentity{}, err
	}
	return ports.PlayerIdentity{
		PlayerID:    domain.PlayerID(claims.Subject),
		DisplayName: claims.Name,
		IsAdmin:     strings.Contains(claims.Scope, "admin"),
	}, nil
}
