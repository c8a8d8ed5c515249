package diagnostics

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Scopes required of the Bearer token's "scope" claim to reach each
// resource. Split per resource rather than one blanket scope: an operator
// wiring up a spool-only monitor should not also be handed policy-document
// visibility.
const (
	ScopeSpoolRead  = "diagnostics:spool:read"
	ScopeDedupeRead = "diagnostics:dedupe:read"
	ScopePolicyRead = "diagnostics:policy:read"
)

// NewRouter returns a configured chi.Router for the diagnostics surface.
//
// Route layout:
//
//	GET /healthz          – liveness probe (no authentication required)
//	GET /api/v1/spool     – spool lifecycle state and chain position (JWT + ScopeSpoolRead)
//	GET /api/v1/dedupe    – dedupe index size (JWT + ScopeDedupeRead)
//	GET /api/v1/policy    – active policy document summary (JWT + ScopePolicyRead)
//
// pubKey verifies RS256 Bearer tokens on all /api routes. Pass nil to
// disable JWT validation (tests covering only response shape).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		withScope := func(scope string) func(http.Handler) http.Handler {
			if pubKey == nil {
				return func(next http.Handler) http.Handler { return next }
			}
			return JWTMiddleware(pubKey, scope)
		}

		r.With(withScope(ScopeSpoolRead)).Get("/spool", srv.handleGetSpool)
		r.With(withScope(ScopeDedupeRead)).Get("/dedupe", srv.handleGetDedupe)
		r.With(withScope(ScopePolicyRead)).Get("/policy", srv.handleGetPolicy)
	})

	return r
}
