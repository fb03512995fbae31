package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Modes accepted by NewScopes.
const (
	ModeBasic = "basic"
	ModeNone  = "none"
)

// Realm is advertised in the WWW-Authenticate challenge.
const Realm = "Restricted Area"

// ErrNotAuthorized is the body message for rejected requests.
const ErrNotAuthorized = "not authorized"

type scopeKey struct{}

// Scopes holds the key to scope-name table used by Middleware.
// The table can be swapped at runtime with Replace.
//
// Scopes is safe for concurrent use.
type Scopes struct {
	mode string
	keys atomic.Pointer[map[string]string]
}

// NewScopes creates a scope table. keys maps an API key to its scope name.
func NewScopes(mode string, keys map[string]string) *Scopes {
	s := &Scopes{mode: mode}
	s.Replace(keys)
	return s
}

// Replace installs a new key table. Requests already past the middleware
// keep the scope they were admitted with.
func (s *Scopes) Replace(keys map[string]string) {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		if k != "" {
			cp[k] = v
		}
	}
	s.keys.Store(&cp)
	slog.Info("auth: scope table loaded", "mode", s.mode, "scopes", len(cp))
}

// Lookup returns the scope name registered for key.
func (s *Scopes) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	name, ok := (*s.keys.Load())[key]
	return name, ok
}

// Middleware enforces HTTP basic auth. The password is the API key; the
// username is ignored. In ModeNone every request passes.
//
// Rejected requests get 401 with a Basic challenge and a JSON error body.
func (s *Scopes) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.mode == ModeNone {
			next.ServeHTTP(w, r)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}
		scope, ok := s.Lookup(password)
		if !ok {
			slog.Debug("auth: unknown key", "path", r.URL.Path, "remote", r.RemoteAddr)
			unauthorized(w)
			return
		}

		slog.Debug("auth: authorized", "scope", scope, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

// WithScope returns ctx carrying the authorized scope name.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the scope stored by Middleware, or "".
func ScopeFrom(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrNotAuthorized})
}
