package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/user"
)

// authHandler groups account and session HTTP handlers.
type authHandler struct {
	pool    *pgxpool.Pool
	users   *user.Store
	metrics *metrics.Metrics
}

func newAuthHandler(pool *pgxpool.Pool, users *user.Store, m *metrics.Metrics) *authHandler {
	return &authHandler{pool: pool, users: users, metrics: m}
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type sessionResponse struct {
	Token string     `json:"token"`
	User  *user.User `json:"user"`
}

// Signup handles POST /api/v1/auth/signup. An invited placeholder account
// (same email, no password yet) is claimed instead of rejected.
func (h *authHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
		return
	}

	ctx := r.Context()
	u, err := h.users.GetByEmail(ctx, h.pool, req.Email)
	switch {
	case err == nil && u.PasswordHash == "":
		u, err = h.users.Update(ctx, h.pool, u.ID, user.UpdateUserInput{
			Password:  &req.Password,
			Name:      &req.Name,
			FirstName: &req.FirstName,
			LastName:  &req.LastName,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
	case err == nil:
		writeError(w, http.StatusConflict, "conflict", user.ErrEmailExists.Error())
		return
	case errors.Is(err, user.ErrNotFound):
		u, err = h.users.Create(ctx, h.pool, user.CreateUserInput{
			Email:     req.Email,
			Password:  req.Password,
			Name:      req.Name,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
	default:
		handleError(w, r, err)
		return
	}

	token, sess, err := h.users.CreateSession(ctx, h.pool, u.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.metrics.IncAuthSuccess("signup")
	setSessionCookie(w, token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, User: u})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signin handles POST /api/v1/auth/signin.
func (h *authHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx := r.Context()
	u, err := h.users.GetByEmail(ctx, h.pool, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.metrics.IncAuthFailure("unknown_email")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		handleError(w, r, err)
		return
	}
	if !user.CheckPassword(u, req.Password) {
		h.metrics.IncAuthFailure("bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	token, sess, err := h.users.CreateSession(ctx, h.pool, u.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.metrics.IncAuthSuccess("signin")
	setSessionCookie(w, token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: u})
}

// Signout handles POST /api/v1/auth/signout.
func (h *authHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := h.users.DeleteSession(r.Context(), h.pool, token); err != nil {
			handleError(w, r, err)
			return
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, u)
}

type profileUpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Image     *string `json:"image,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Password  *string `json:"password,omitempty"`
}

// UpdateProfile handles PUT /api/v1/me.
func (h *authHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req profileUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Password != nil && len(*req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
		return
	}

	updated, err := h.users.Update(r.Context(), h.pool, u.ID, user.UpdateUserInput{
		Name:      req.Name,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Image:     req.Image,
		Phone:     req.Phone,
		Password:  req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
