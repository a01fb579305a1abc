package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/member"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/notification"
	"github.com/quartershq/quarters/internal/org"
	"github.com/quartershq/quarters/internal/user"
)

// fakeSessions implements auth.SessionLookup for router tests.
type fakeSessions struct {
	user *user.User
	err  error
}

func (f *fakeSessions) LookupSession(_ context.Context, token string) (*user.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func testRouter(sessions *fakeSessions) http.Handler {
	return NewRouter(RouterDeps{
		Sessions:       sessions,
		Webhook:        http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		Metrics:        metrics.New(),
		AllowedOrigins: []string{"*"},
	})
}

// fakeNotifications backs the notification routes in tests.
type fakeNotifications struct {
	byID    map[string]*notification.Notification
	toggled []string
	deleted []string
}

func (f *fakeNotifications) Get(_ context.Context, _ database.Querier, id string) (*notification.Notification, error) {
	n, ok := f.byID[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n, nil
}

func (f *fakeNotifications) List(context.Context, database.Querier, string, string, string) ([]*notification.WithUser, error) {
	return nil, nil
}

func (f *fakeNotifications) ToggleRead(_ context.Context, _ database.Querier, id string) (*notification.Notification, error) {
	f.toggled = append(f.toggled, id)
	n := f.byID[id]
	n.Read = !n.Read
	return n, nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, database.Querier, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeNotifications) Delete(_ context.Context, _ database.Querier, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.byID, id)
	return nil
}

func notificationRouter(u *user.User, n *fakeNotifications) http.Handler {
	return NewRouter(RouterDeps{
		Sessions:       &fakeSessions{user: u},
		Notifications:  n,
		Webhook:        http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		Metrics:        metrics.New(),
		AllowedOrigins: []string{"*"},
	})
}

func TestHealthCheck(t *testing.T) {
	handler := testRouter(&fakeSessions{err: errors.New("no session")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := testRouter(&fakeSessions{err: errors.New("no session")})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var summary map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	for _, section := range []string{"http", "outbox", "webhooks", "server"} {
		if _, ok := summary[section]; !ok {
			t.Errorf("summary missing section %q", section)
		}
	}
}

func TestAuthedRoutesRequireSession(t *testing.T) {
	handler := testRouter(&fakeSessions{err: errors.New("expired")})

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/me/organizations", "/api/v1/billing/plans"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", path, rec.Code)
		}
	}
}

func TestMeReturnsSessionUser(t *testing.T) {
	u := &user.User{ID: "u1", Email: "dev@example.com", Name: "Dev"}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got user.User
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "u1" || got.Email != "dev@example.com" {
		t.Errorf("unexpected user in response: %+v", got)
	}
}

func TestJoinCodeRefreshRequiresManager(t *testing.T) {
	u := &user.User{
		ID: "u1",
		Memberships: []user.Membership{
			{OrgID: "org1", Role: user.RoleMember, Status: user.StatusActive},
		},
	}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations/org1/join-code/refresh", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
}

func TestMarkAllReadRejectsNonMember(t *testing.T) {
	u := &user.User{ID: "u1"}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/mark-all-read",
		strings.NewReader(`{"org_id":"org-other"}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
}

func TestToggleReadRejectsForeignNotification(t *testing.T) {
	u := &user.User{
		ID: "u1",
		Memberships: []user.Membership{
			{OrgID: "org1", Role: user.RoleOwner, Status: user.StatusActive},
		},
	}
	n := &fakeNotifications{byID: map[string]*notification.Notification{
		"n1": {ID: "n1", OrgID: "org1", UserID: "u2", Kind: notification.KindNotification},
	}}
	handler := notificationRouter(u, n)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/n1/toggle-read", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
	if len(n.toggled) != 0 {
		t.Errorf("another user's notification was toggled: %v", n.toggled)
	}
}

func TestToggleReadAllowsTargetUser(t *testing.T) {
	u := &user.User{ID: "u1"}
	n := &fakeNotifications{byID: map[string]*notification.Notification{
		"n1": {ID: "n1", OrgID: "org1", UserID: "u1", Kind: notification.KindNotification},
	}}
	handler := notificationRouter(u, n)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/n1/toggle-read", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(n.toggled) != 1 {
		t.Errorf("toggled = %v, want [n1]", n.toggled)
	}
}

func TestDeleteJoinRequestRequiresManager(t *testing.T) {
	request := func() *fakeNotifications {
		return &fakeNotifications{byID: map[string]*notification.Notification{
			"n1": {ID: "n1", OrgID: "org1", Kind: notification.KindRequest, RequestUserID: "u3"},
		}}
	}

	viewer := &user.User{
		ID: "u1",
		Memberships: []user.Membership{
			{OrgID: "org1", Role: user.RoleMember, Status: user.StatusActive},
		},
	}
	n := request()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/n1", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	notificationRouter(viewer, n).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("member delete: expected status 403, got %d", rec.Code)
	}
	if len(n.deleted) != 0 {
		t.Errorf("member deleted the join request: %v", n.deleted)
	}

	admin := &user.User{
		ID: "u1",
		Memberships: []user.Membership{
			{OrgID: "org1", Role: user.RoleAdmin, Status: user.StatusActive},
		},
	}
	n = request()
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/n1", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	notificationRouter(admin, n).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("admin delete: expected status 200, got %d", rec.Code)
	}
	if len(n.deleted) != 1 {
		t.Errorf("admin delete did not reach the store: %v", n.deleted)
	}
}

func TestOnboardingRequiresOrg(t *testing.T) {
	u := &user.User{ID: "u1"}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/onboarding/complete",
		strings.NewReader(`{"currency":"usd"}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestInviteRejectsEmptyBatch(t *testing.T) {
	u := &user.User{ID: "u1", ActiveOrgID: "org1"}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invitations",
		strings.NewReader(`{"invitations":[]}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestImageUploadRejectsEmptyBody(t *testing.T) {
	u := &user.User{ID: "u1"}
	handler := testRouter(&fakeSessions{user: u})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestHandleErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"org not found", org.ErrNotFound, http.StatusNotFound, "not_found"},
		{"no membership", member.ErrNoMembership, http.StatusNotFound, "not_found"},
		{"forbidden", org.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"billing forbidden", billing.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"slug taken", org.ErrSlugTaken, http.StatusConflict, "conflict"},
		{"already member", member.ErrAlreadyMember, http.StatusConflict, "conflict"},
		{"reserved slug", org.ErrSlugReserved, http.StatusBadRequest, "invalid_request"},
		{"bad join code", member.ErrInvalidJoinCode, http.StatusBadRequest, "invalid_request"},
		{"no customer", billing.ErrNoCustomer, http.StatusConflict, "no_customer"},
		{"wrapped sentinel", errors.Join(errors.New("ctx"), billing.ErrPriceNotFound), http.StatusBadRequest, "invalid_request"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			handleError(rec, req, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var envelope errorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
				t.Fatalf("failed to decode error envelope: %v", err)
			}
			if envelope.Error.Code != tt.code {
				t.Errorf("code = %q, want %q", envelope.Error.Code, tt.code)
			}
		})
	}
}
