package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles recognised by the procurement API. Admins may act as buyers; buyers never act as admins.
const (
	RoleBuyer = "buyer"
	RoleAdmin = "admin"
)

// Identity is the authenticated caller derived from a verified bearer token.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	Locale   string
	Provider string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	if i == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(granted string) bool {
		return normaliseRole(granted) == role
	})
}

// PrimaryRole is the role recorded on the user profile: admin when granted, otherwise buyer.
func (i *Identity) PrimaryRole() string {
	if i.HasRole(RoleAdmin) {
		return RoleAdmin
	}
	return RoleBuyer
}

type identityKey struct{}

// WithIdentity attaches the caller to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
