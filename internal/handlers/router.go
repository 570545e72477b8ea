package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type audience int

const (
	audiencePublic audience = iota
	audienceBuyer
	audienceAdmin
	audienceWebhook
)

// routeGroups lists every group mounted under the base path and who may call it.
var routeGroups = []struct {
	path     string
	audience audience
}{
	{"/products", audiencePublic},
	{"/cart", audienceBuyer},
	{"/orders", audienceBuyer},
	{"/checkout", audienceBuyer},
	{"/admin", audienceAdmin},
	{"/webhooks", audienceWebhook},
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	registrars  map[string]RouteRegistrar
	guards      map[audience][]func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	requestTimeout   = 60 * time.Second
)

// NewRouter builds the API router. /healthz and /readyz sit at the root; every other group lives
// under the base path behind the middlewares registered for its audience. A group without a
// registrar answers 501 so clients can tell a disabled feature from a typo.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:   defaultAPIPrefix,
		registrars: map[string]RouteRegistrar{},
		guards:     map[audience][]func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, group := range routeGroups {
			registrar := cfg.registrars[group.path]
			guards := cfg.guards[group.audience]
			api.Route(group.path, func(sub chi.Router) {
				for _, mw := range guards {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if registrar == nil {
					notImplemented(sub, strings.TrimPrefix(group.path, "/"))
					return
				}
				registrar(sub)
			})
		}
	})
	return r
}

// WithBasePath overrides the /api/v1 prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		path = "/" + strings.Trim(strings.TrimSpace(path), "/")
		if path != "/" {
			cfg.basePath = path
		}
	}
}

// WithMiddlewares appends global middleware, run after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.registrars[path] = reg
	}
}

func withGuards(a audience, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.guards[a] = append(cfg.guards[a], mw...)
	}
}

// WithProductRoutes mounts the public catalog.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroup("/products", reg) }

// WithCartRoutes mounts the buyer cart.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup("/cart", reg) }

// WithOrderRoutes mounts buyer order history and payment status.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("/orders", reg) }

// WithCheckoutRoutes mounts hosted checkout session creation.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup("/checkout", reg) }

// WithAdminRoutes mounts catalog and fulfilment administration.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup("/admin", reg) }

// WithWebhookRoutes mounts payment provider callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("/webhooks", reg) }

// WithBuyerMiddlewares guards /cart, /orders and /checkout.
func WithBuyerMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGuards(audienceBuyer, mw)
}

// WithAdminMiddlewares guards /admin.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGuards(audienceAdmin, mw)
}

// WithWebhookMiddlewares guards /webhooks, typically with signature verification.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGuards(audienceWebhook, mw)
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
