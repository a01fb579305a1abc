package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/member"
	"github.com/quartershq/quarters/internal/notification"
	"github.com/quartershq/quarters/internal/org"
	"github.com/quartershq/quarters/internal/storage"
	"github.com/quartershq/quarters/internal/user"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// handleError translates service sentinel errors to HTTP responses.
// Anything unmapped is logged and reported as a 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, org.ErrNotFound),
		errors.Is(err, member.ErrNotFound),
		errors.Is(err, member.ErrNoMembership),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, org.ErrForbidden),
		errors.Is(err, billing.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, user.ErrEmailExists),
		errors.Is(err, org.ErrSlugTaken),
		errors.Is(err, member.ErrAlreadyMember),
		errors.Is(err, billing.ErrSubscriptionExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, org.ErrSlugReserved),
		errors.Is(err, member.ErrInvalidJoinCode),
		errors.Is(err, billing.ErrUnsupportedCurrency),
		errors.Is(err, billing.ErrPriceNotFound):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, billing.ErrNoCustomer):
		writeError(w, http.StatusConflict, "no_customer", err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
