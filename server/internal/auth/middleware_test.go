package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// scopeEcho writes the scope found in the request context.
var scopeEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(ScopeFrom(r.Context())))
})

func do(t *testing.T, h http.Handler, user, pass string, withAuth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	if withAuth {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertUnauthorized(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Restricted Area"` {
		t.Errorf("WWW-Authenticate: got %q", got)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "not authorized" {
		t.Errorf("error: got %q, want not authorized", body["error"])
	}
}

func TestMiddleware_ModeNone_PassesThrough(t *testing.T) {
	s := NewScopes(ModeNone, nil)
	rec := do(t, s.Middleware(scopeEcho), "", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestMiddleware_ValidKey_SetsScope(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"k-ops": "ops"})
	rec := do(t, s.Middleware(scopeEcho), "anyone", "k-ops", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ops" {
		t.Errorf("scope: got %q, want ops", rec.Body.String())
	}
}

func TestMiddleware_UsernameIgnored(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"k-ops": "ops"})
	rec := do(t, s.Middleware(scopeEcho), "", "k-ops", true)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestMiddleware_WrongKey_Unauthorized(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"k-ops": "ops"})
	assertUnauthorized(t, do(t, s.Middleware(scopeEcho), "x", "wrong", true))
}

func TestMiddleware_MissingHeader_Unauthorized(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"k-ops": "ops"})
	assertUnauthorized(t, do(t, s.Middleware(scopeEcho), "", "", false))
}

func TestMiddleware_EmptyPassword_Unauthorized(t *testing.T) {
	// An empty key in the table must never match an empty password.
	s := NewScopes(ModeBasic, map[string]string{"": "ghost"})
	assertUnauthorized(t, do(t, s.Middleware(scopeEcho), "x", "", true))
}

func TestScopes_Replace(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"old": "a"})
	h := s.Middleware(scopeEcho)

	s.Replace(map[string]string{"new": "b"})

	assertUnauthorized(t, do(t, h, "", "old", true))
	rec := do(t, h, "", "new", true)
	if rec.Code != http.StatusOK || rec.Body.String() != "b" {
		t.Errorf("after replace: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestScopes_ReplaceCopiesInput(t *testing.T) {
	keys := map[string]string{"k": "a"}
	s := NewScopes(ModeBasic, keys)
	keys["k"] = "mutated"
	if name, _ := s.Lookup("k"); name != "a" {
		t.Errorf("lookup: got %q, want a", name)
	}
}

func TestScopes_ConcurrentReplace(t *testing.T) {
	s := NewScopes(ModeBasic, map[string]string{"k": "a"})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Replace(map[string]string{"k": "a"})
		}()
		go func() {
			defer wg.Done()
			if _, ok := s.Lookup("k"); !ok {
				t.Error("lookup failed during replace")
			}
		}()
	}
	wg.Wait()
}
