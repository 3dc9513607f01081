// Package api exposes the tenancy Service over a small JSON REST surface.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	httputil "github.com/wolfeidau/tenancy/internal/http"
	"github.com/wolfeidau/tenancy/internal/logger"
	"github.com/wolfeidau/tenancy/internal/tenancy"
)

// Config configures the router.
type Config struct {
	Logger zerolog.Logger

	// Authenticate must place a models.Principal in the request context
	// (see auth.WithPrincipal) or reject the request.
	Authenticate func(http.Handler) http.Handler

	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string

	// TrustedOrigins bypass cross-origin request protection.
	TrustedOrigins []string
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(svc *tenancy.Service, cfg Config) (http.Handler, error) {
	if cfg.Authenticate == nil {
		return nil, errors.New("api: authenticate middleware is required")
	}

	protection := csrf.New()
	for _, origin := range cfg.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("api: invalid trusted origin %q: %w", origin, err)
		}
	}

	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Requests(cfg.Logger))
	r.Use(httputil.ClientIPMiddleware())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(withCORS(cfg.CORSOrigins))
		r.Use(withCompression)
		r.Use(protection.Handler)
		r.Use(cfg.Authenticate)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.currentSession)
			r.Post("/", h.resolveSession)
			r.Delete("/", h.signOut)
			r.Put("/tenant", h.switchTenant)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.listTenants)
			r.Post("/", h.createTenant)

			r.Route("/{tenantID}", func(r chi.Router) {
				r.Patch("/", h.renameTenant)
				r.Delete("/", h.deleteTenant)
				r.Get("/migration", h.verifyMigration)
				r.Post("/migration", h.runMigration)
			})
		})
	})

	return r, nil
}

func withCompression(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func withCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler
}
