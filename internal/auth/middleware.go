package auth

import (
	"net/http"
	"strings"

	"residence-cloud/internal/apperr"
	apihttp "residence-cloud/internal/api/http"
)

// Middleware validates JWTs and enforces the capability policy.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies authentication and authorization to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredCapability(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if required != "" && !Can(role, required) {
			apihttp.WriteError(w, apperr.Forbidden("role %s lacks %s", role, required))
			return
		}
		ctx := WithIdentity(r.Context(), claims.Subject, role, claims.ApartmentID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
