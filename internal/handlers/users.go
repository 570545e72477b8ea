package handlers

import (
	"net/http"
	"strings"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/observability"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

// EnsureBuyer resolves the authenticated identity to its local user record, creating it on first
// sight, and stores the resulting actor on the request context. It must run after RequireAuth.
func EnsureBuyer(users services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := auth.IdentityFromContext(ctx)
			if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
				httpx.WriteError(ctx, w, httpx.Unauthenticated())
				return
			}
			if users == nil {
				httpx.WriteError(ctx, w, httpx.Unavailable("user"))
				return
			}

			user, err := users.GetOrCreate(ctx, identity)
			if err != nil {
				writeServiceError(ctx, w, err)
				return
			}

			role := identity.PrimaryRole()
			if role == "" {
				role = user.Role
			}
			ctx = requestctx.WithActor(ctx, requestctx.Actor{BuyerID: user.ID, Role: role})
			observability.RecordActor(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
