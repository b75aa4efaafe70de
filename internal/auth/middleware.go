// Package auth resolves the caller's identity into an owner key. Orders and
// carts are keyed by the owner key, which is the account email when the
// identity provider supplies one and the uid otherwise.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
)

// OwnerHeader carries the owner key in header mode (local development and tests).
const OwnerHeader = "X-Owner-Key"

// TokenVerifier is satisfied by *fbauth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

type Identity struct {
	OwnerKey string
	UID      string
	Email    string
	Admin    bool
}

type ctxKey struct{ name string }

var ctxKeyIdentity = ctxKey{name: "identity"}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok && id.OwnerKey != ""
}

func OwnerFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.OwnerKey
}

func IsAdmin(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.Admin
}

type Middleware struct {
	verifier TokenVerifier
	admins   map[string]struct{}
	logger   *slog.Logger
}

// NewFirebaseMiddleware verifies "Authorization: Bearer <ID token>". A token
// carrying the custom claim admin=true, or an email in admins, is an admin.
func NewFirebaseMiddleware(verifier TokenVerifier, admins []string, logger *slog.Logger) *Middleware {
	return &Middleware{verifier: verifier, admins: adminSet(admins), logger: logger}
}

// NewHeaderMiddleware trusts the X-Owner-Key header. It must only sit behind a
// gateway that strips the header from untrusted traffic.
func NewHeaderMiddleware(admins []string, logger *slog.Logger) *Middleware {
	return &Middleware{admins: adminSet(admins), logger: logger}
}

func adminSet(admins []string) map[string]struct{} {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			set[a] = struct{}{}
		}
	}
	return set
}

func (m *Middleware) isAdminKey(key string) bool {
	_, ok := m.admins[strings.ToLower(key)]
	return ok
}

func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, status, msg := m.identify(r)
		if status != 0 {
			m.writeError(w, status, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) RequireFunc(next http.HandlerFunc) http.HandlerFunc {
	return m.Require(next).ServeHTTP
}

// RequireAdmin rejects authenticated callers who are not admins with 403.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			m.writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

func (m *Middleware) identify(r *http.Request) (Identity, int, string) {
	if m.verifier == nil {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			return Identity{}, http.StatusUnauthorized, "missing " + OwnerHeader + " header"
		}
		return Identity{OwnerKey: owner, Email: owner, Admin: m.isAdminKey(owner)}, 0, ""
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, http.StatusUnauthorized, "missing bearer token"
	}
	idToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if idToken == "" {
		return Identity{}, http.StatusUnauthorized, "empty bearer token"
	}

	token, err := m.verifier.VerifyIDToken(r.Context(), idToken)
	if err != nil {
		m.logger.Warn("id token rejected", "error", err, "path", r.URL.Path)
		return Identity{}, http.StatusUnauthorized, "invalid token"
	}

	uid := strings.TrimSpace(token.UID)
	if uid == "" {
		return Identity{}, http.StatusUnauthorized, "invalid uid in token"
	}

	id := Identity{UID: uid, OwnerKey: uid}
	if email, ok := token.Claims["email"].(string); ok && strings.TrimSpace(email) != "" {
		id.Email = strings.TrimSpace(email)
		id.OwnerKey = id.Email
	}
	if admin, ok := token.Claims["admin"].(bool); ok && admin {
		id.Admin = true
	}
	if id.Email != "" && m.isAdminKey(id.Email) {
		id.Admin = true
	}
	return id, 0, ""
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		m.logger.Error("failed to encode error response", "error", err)
	}
}
