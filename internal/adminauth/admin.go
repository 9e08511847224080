// Package adminauth implements the bearer-token admin check gating
// /execute/worker-stats and /execute/worker/{api_id}/reload, grounded
// on the teacher's internal/api/middleware/auth.go bearer-header parse
// and claim validation, scoped down to a single "admin" boolean claim
// since full session/user auth is an external collaborator spec.md
// scopes out of this core.
package adminauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("adminauth: missing or invalid bearer token")
var ErrForbidden = errors.New("adminauth: token lacks admin claim")

type Checker struct {
	secret []byte
}

func New(secret string) *Checker {
	return &Checker{secret: []byte(secret)}
}

// Authenticate parses and validates the request's bearer token and
// reports whether it carries admin:true.
func (c *Checker) Authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ErrUnauthorized
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrUnauthorized
	}
	admin, _ := claims["admin"].(bool)
	if !admin {
		return ErrForbidden
	}
	return nil
}

// Middleware wraps an http.Handler with the admin check, writing 401
// or 403 with a minimal JSON error body on failure.
func (c *Checker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := c.Authenticate(r)
		switch {
		case errors.Is(err, ErrForbidden):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"forbidden"}`))
			return
		case err != nil:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
