package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/notification"
	"github.com/quartershq/quarters/internal/user"
)

// NotificationStore is the notification persistence the router needs.
// Satisfied by *notification.Store.
type NotificationStore interface {
	Get(ctx context.Context, q database.Querier, id string) (*notification.Notification, error)
	List(ctx context.Context, q database.Querier, orgID, userID, filter string) ([]*notification.WithUser, error)
	ToggleRead(ctx context.Context, q database.Querier, id string) (*notification.Notification, error)
	MarkAllRead(ctx context.Context, q database.Querier, orgID, userID string) (int64, error)
	Delete(ctx context.Context, q database.Querier, id string) error
}

// notificationHandler groups notification HTTP handlers.
type notificationHandler struct {
	pool          *pgxpool.Pool
	notifications NotificationStore
}

func newNotificationHandler(pool *pgxpool.Pool, n NotificationStore) *notificationHandler {
	return &notificationHandler{pool: pool, notifications: n}
}

// canModifyNotification reports whether the caller may act on a
// notification: its target user, or for organization-wide entries a member
// of the organization (owner or admin when the entry is a join request).
func canModifyNotification(u *user.User, n *notification.Notification) bool {
	if n.UserID != "" {
		return n.UserID == u.ID
	}
	if n.Kind == notification.KindRequest {
		return u.CanManage(n.OrgID)
	}
	return u.HasOrg(n.OrgID)
}

// List handles GET /api/v1/organizations/{orgID}/notifications?filter=.
func (h *notificationHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	if !u.HasOrg(orgID) {
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this organization")
		return
	}

	items, err := h.notifications.List(r.Context(), h.pool, orgID, u.ID, r.URL.Query().Get("filter"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

// ToggleRead handles POST /api/v1/notifications/{id}/toggle-read.
func (h *notificationHandler) ToggleRead(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	n, err := h.notifications.Get(r.Context(), h.pool, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !canModifyNotification(u, n) {
		writeError(w, http.StatusForbidden, "forbidden", "notification belongs to another user")
		return
	}

	toggled, err := h.notifications.ToggleRead(r.Context(), h.pool, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

type markAllReadRequest struct {
	OrgID string `json:"org_id"`
}

// MarkAllRead handles POST /api/v1/notifications/mark-all-read.
func (h *notificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req markAllReadRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	orgID := activeOrg(r, req.OrgID)
	if orgID == "" || !u.HasOrg(orgID) {
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this organization")
		return
	}

	updated, err := h.notifications.MarkAllRead(r.Context(), h.pool, orgID, u.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// Delete handles DELETE /api/v1/notifications/{id}.
func (h *notificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	n, err := h.notifications.Get(r.Context(), h.pool, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !canModifyNotification(u, n) {
		writeError(w, http.StatusForbidden, "forbidden", "notification belongs to another user")
		return
	}

	if err := h.notifications.Delete(r.Context(), h.pool, id); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
