package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/member"
)

// memberHandler groups membership and invitation HTTP handlers.
type memberHandler struct {
	members *member.Service
}

func newMemberHandler(members *member.Service) *memberHandler {
	return &memberHandler{members: members}
}

type joinRequest struct {
	Code string `json:"code"`
}

// Join handles POST /api/v1/organizations/{orgID}/join.
func (h *memberHandler) Join(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")

	var req joinRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.members.Join(r.Context(), u.ID, orgID, req.Code); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// Accept handles POST /api/v1/organizations/{orgID}/members/{userID}/accept.
func (h *memberHandler) Accept(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	userID := chi.URLParam(r, "userID")

	if err := h.members.Accept(r.Context(), u, orgID, userID); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// Remove handles DELETE /api/v1/organizations/{orgID}/members/{userID}.
func (h *memberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	userID := chi.URLParam(r, "userID")

	if err := h.members.Remove(r.Context(), u, orgID, userID); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type memberInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Color     string `json:"color"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	InvitedBy string `json:"invited_by,omitempty"`
}

// List handles GET /api/v1/organizations/{orgID}/members.
func (h *memberHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")

	users, err := h.members.ListMembers(r.Context(), u, orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	members := make([]memberInfo, 0, len(users))
	for _, m := range users {
		info := memberInfo{
			ID:    m.ID,
			Email: m.Email,
			Name:  m.Name,
			Image: m.Image,
			Color: m.Color,
		}
		for _, ms := range m.Memberships {
			if ms.OrgID == orgID {
				info.Role = ms.Role
				info.Status = ms.Status
				info.InvitedBy = ms.InvitedBy
				break
			}
		}
		members = append(members, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

type inviteRequest struct {
	Invitations []member.Invitation `json:"invitations"`
}

// Invite handles POST /api/v1/invitations. Targets the caller's active
// organization; the response reports a per-recipient outcome.
func (h *memberHandler) Invite(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req inviteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req.Invitations) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one invitation is required")
		return
	}

	results, err := h.members.Invite(r.Context(), u, req.Invitations)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
