package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

// CheckoutHandlers starts hosted payment sessions for placed orders.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  *fixedWindowLimiter
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps session creation per buyer to limit calls per window.
// A non-positive limit or window disables the cap.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.createSession)
}

type checkoutSessionRequest struct {
	OrderID  string `json:"orderId"`
	Provider string `json:"provider"`
	Locale   string `json:"locale"`
}

type checkoutSessionResponse struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	Provider    string `json:"provider"`
	OrderID     string `json:"orderId"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("checkout"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}
	if allowed, retryAfter := h.limiter.Allow(actor.BuyerID); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout sessions; retry later", http.StatusTooManyRequests))
		return
	}

	var req checkoutSessionRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	var email, locale string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		email = identity.Email
		locale = identity.Locale
	}
	if strings.TrimSpace(req.Locale) != "" {
		locale = req.Locale
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateCheckoutSessionCommand{
		OrderID:        req.OrderID,
		BuyerID:        actor.BuyerID,
		CustomerEmail:  email,
		Locale:         locale,
		Provider:       req.Provider,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		Provider:    session.Provider,
		OrderID:     session.OrderID,
		ExpiresAt:   formatTime(session.ExpiresAt),
	})
}
