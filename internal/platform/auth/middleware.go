package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided bearer token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// VerifiedToken is what a verifier vouches for: the subject plus the raw claims.
type VerifiedToken struct {
	Subject  string
	Claims   map[string]any
	Provider string
}

// TokenVerifier verifies bearer tokens issued by the configured identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*VerifiedToken, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(context.Context, string) (*VerifiedToken, error)

// Verify implements TokenVerifier.
func (f TokenVerifierFunc) Verify(ctx context.Context, rawToken string) (*VerifiedToken, error) {
	return f(ctx, rawToken)
}

// claimNames says where the identity fields live inside a token's claims.
type claimNames struct {
	role   string
	email  string
	locale string
}

// Authenticator turns bearer tokens into identities for the buyer and admin route groups.
type Authenticator struct {
	verifier    TokenVerifier
	claims      claimNames
	defaultRole string
	timeout     time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim reads roles from a custom claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.claims.role = claim
		}
	}
}

// WithFallbackRole sets the role granted to tokens that carry none. Defaults to buyer.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.defaultRole = role
		}
	}
}

// WithVerificationTimeout bounds each call to the verifier.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:    verifier,
		claims:      claimNames{role: "role", email: "email", locale: "locale"},
		defaultRole: RoleBuyer,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth admits requests whose bearer token verifies and grants one of roles.
// An empty roles list admits any authenticated caller.
// Missing or invalid tokens yield 401; a valid identity lacking the role yields 403.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	var allowed []string
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, rejection, ok := a.authenticate(ctx, r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, rejection)
				return
			}
			if len(allowed) > 0 && !slices.ContainsFunc(allowed, identity.HasRole) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (*Identity, httpx.Error, bool) {
	raw, ok := extractBearerToken(header)
	if !ok {
		return nil, unauthorized("unauthenticated", "authorization header missing or invalid"), false
	}
	if a == nil || a.verifier == nil {
		return nil, unauthorized("unauthenticated", "authorization service unavailable"), false
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	token, err := a.verifier.Verify(verifyCtx, raw)
	cancel()

	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, unauthorized("token_expired", "bearer token expired"), false
	case err != nil, token == nil, strings.TrimSpace(token.Subject) == "":
		return nil, unauthorized("invalid_token", "bearer token verification failed"), false
	}

	identity := &Identity{
		UID:      strings.TrimSpace(token.Subject),
		Email:    stringClaim(token.Claims, a.claims.email),
		Locale:   stringClaim(token.Claims, a.claims.locale),
		Roles:    rolesFromClaims(token.Claims, a.claims.role),
		Provider: token.Provider,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{a.defaultRole}
	}
	return identity, httpx.Error{}, true
}

func unauthorized(code, message string) httpx.Error {
	return httpx.NewError(code, message, http.StatusUnauthorized)
}

// rolesFromClaims accepts a single string, a list, or a map of role name to enabled flag.
func rolesFromClaims(claims map[string]any, key string) []string {
	var names []string
	switch v := claims[key].(type) {
	case string:
		names = []string{v}
	case []string:
		names = v
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				names = append(names, name)
			}
		}
	}

	roles := make([]string, 0, len(names))
	for _, name := range names {
		if role := normaliseRole(name); role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return nil
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
