package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates bearer tokens and checks the caller's role
// against a Policy before handing the request on with its Identity attached.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *slog.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Logger: slog.Default()}
}

// Wrap applies authentication and role checks to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, guarded := m.Policy.RequiredRole(r)
		if !guarded || m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := m.authenticate(r)
		if err != nil {
			m.logger().Debug("auth rejected", "path", r.URL.Path, "err", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="royalty"`)
			denied(w, http.StatusUnauthorized, err)
			return
		}
		if !RoleAtLeast(identity.Role, required) {
			m.logger().Info("auth forbidden",
				"path", r.URL.Path,
				"role", identity.Role,
				"required", required,
				"tenant_id", identity.TenantID,
			)
			denied(w, http.StatusForbidden, ErrForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), identity.TenantID, identity.Role, identity.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return Identity{}, err
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{TenantID: claims.TenantID, Role: role, Subject: claims.Subject}, nil
}

func (m *Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func denied(w http.ResponseWriter, status int, err error) {
	msg := "unauthorized"
	if errors.Is(err, ErrForbidden) {
		msg = "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
