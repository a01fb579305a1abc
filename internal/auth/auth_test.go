package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quartershq/quarters/internal/user"
)

// --- mock session store ---

type mockSessions struct {
	users map[string]*user.User
}

func (m *mockSessions) LookupSession(ctx context.Context, token string) (*user.User, error) {
	u, ok := m.users[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		if u == nil {
			http.Error(w, "no user in context", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddleware_BearerToken(t *testing.T) {
	sessions := &mockSessions{users: map[string]*user.User{
		"tok-1": {ID: "u-1", Email: "a@example.com"},
	}}
	handler := SessionMiddleware(sessions)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSessionMiddleware_Cookie(t *testing.T) {
	sessions := &mockSessions{users: map[string]*user.User{
		"tok-2": {ID: "u-2", Email: "b@example.com"},
	}}
	handler := SessionMiddleware(sessions)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok-2"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSessionMiddleware_MissingToken(t *testing.T) {
	handler := SessionMiddleware(&mockSessions{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if resp.Error.Code != "unauthorized" {
		t.Errorf("expected code unauthorized, got %q", resp.Error.Code)
	}
}

func TestSessionMiddleware_InvalidToken(t *testing.T) {
	handler := SessionMiddleware(&mockSessions{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSessionMiddleware_MalformedHeader(t *testing.T) {
	handler := SessionMiddleware(&mockSessions{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireOrgManager(t *testing.T) {
	orgID := func(r *http.Request) string { return r.URL.Query().Get("org") }
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireOrgManager(orgID)(inner)

	owner := &user.User{ID: "u-1", Memberships: []user.Membership{
		{OrgID: "org-1", Role: user.RoleOwner, Status: user.StatusActive},
	}}
	member := &user.User{ID: "u-2", Memberships: []user.Membership{
		{OrgID: "org-1", Role: user.RoleMember, Status: user.StatusActive},
	}}

	tests := []struct {
		name string
		u    *user.User
		org  string
		want int
	}{
		{"owner allowed", owner, "org-1", http.StatusOK},
		{"member forbidden", member, "org-1", http.StatusForbidden},
		{"outsider forbidden", owner, "org-2", http.StatusForbidden},
		{"no user", nil, "org-1", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?org="+tt.org, nil)
			if tt.u != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tt.u))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
