package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/org"
)

// orgHandler groups organization HTTP handlers.
type orgHandler struct {
	orgs *org.Service
}

func newOrgHandler(orgs *org.Service) *orgHandler {
	return &orgHandler{orgs: orgs}
}

type createOrgRequest struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Image string `json:"image"`
	Plan  string `json:"plan"`
}

// Create handles POST /api/v1/organizations.
func (h *orgHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createOrgRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	o, err := h.orgs.Create(r.Context(), u, org.CreateInput{
		Name:  req.Name,
		Slug:  req.Slug,
		Image: req.Image,
		Plan:  req.Plan,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetActive handles GET /api/v1/organizations/active. Responds with null
// when the caller has no active organization.
func (h *orgHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	active, err := h.orgs.GetActive(r.Context(), u)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

// CheckSlug handles GET /api/v1/organizations/check-slug?slug=. Reports
// whether the slug names one of the caller's own organizations; the client
// uses it to validate tenant URLs before navigating.
func (h *orgHandler) CheckSlug(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "slug is required")
		return
	}

	belongs, err := h.orgs.CheckSlug(r.Context(), u.ID, slug)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"belongs": belongs})
}

type updateOrgRequest struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
	Color *string `json:"color,omitempty"`
}

// Update handles PUT /api/v1/organizations/{orgID}.
func (h *orgHandler) Update(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")

	var req updateOrgRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	o, err := h.orgs.Update(r.Context(), u, orgID, org.UpdateInput{
		Name:  req.Name,
		Image: req.Image,
		Color: req.Color,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Delete handles DELETE /api/v1/organizations/{orgID}.
func (h *orgHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")

	result, err := h.orgs.Delete(r.Context(), u, orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RefreshJoinCode handles POST /api/v1/organizations/{orgID}/join-code/refresh.
func (h *orgHandler) RefreshJoinCode(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")

	code, err := h.orgs.RefreshJoinCode(r.Context(), u, orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"join_code": code})
}

type setActiveRequest struct {
	OrgID string `json:"org_id"`
	Slug  string `json:"slug"`
}

// SetActive handles POST /api/v1/organizations/active. The target is named
// by id or by slug.
func (h *orgHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req setActiveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	switch {
	case req.OrgID != "":
		if err := h.orgs.SetActive(r.Context(), u, req.OrgID); err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"active_org_id": req.OrgID})
	case req.Slug != "":
		o, err := h.orgs.SetActiveBySlug(r.Context(), u.ID, req.Slug)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"active_org_id": o.ID})
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "org_id or slug is required")
	}
}

// ListMine handles GET /api/v1/me/organizations?status=.
func (h *orgHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	orgs, err := h.orgs.ListForUser(r.Context(), u.ID, r.URL.Query().Get("status"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"organizations": orgs})
}
