// Package diagnostics exposes a read-only HTTP surface over spool, dedupe,
// and policy counters, gated by RS256 Bearer-token auth. Grounded on the
// teacher's internal/server/rest package for the parse/validate/store-in-
// context shape of JWT auth, extended with an OAuth2-style scope check
// since this surface is a metering API, not the teacher's dashboard: a
// caller authorized to read TripWire alerts has no equivalent notion here,
// so access is scoped per resource instead of all-or-nothing.
package diagnostics

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsKey contextKey = iota

// Claims extends jwt.RegisteredClaims with the space-delimited OAuth2 scope
// claim (RFC 8693 §4.2) diagnostics routes check access against.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// HasScope reports whether claims carries requiredScope among its
// space-delimited scope list.
func (c *Claims) HasScope(requiredScope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == requiredScope {
			return true
		}
	}
	return false
}

// JWTMiddleware validates RS256 Bearer tokens against pubKey and requires
// the resulting claims to carry requiredScope. On any failure it responds
// 401 (missing/malformed/invalid token) or 403 (valid token, missing
// scope) and does not call next.
func JWTMiddleware(pubKey *rsa.PublicKey, requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "Authorization header must be Bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return pubKey, nil
			}, jwt.WithValidMethods([]string{"RS256"}))

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if requiredScope != "" && !claims.HasScope(requiredScope) {
				writeError(w, http.StatusForbidden, "token missing required scope: "+requiredScope)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the JWT claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
