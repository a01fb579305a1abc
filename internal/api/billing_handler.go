package api

import (
	"errors"
	"net/http"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/billing"
)

// billingHandler groups billing HTTP handlers. All subscription operations
// target the caller's active organization.
type billingHandler struct {
	billing *billing.Service
}

func newBillingHandler(b *billing.Service) *billingHandler {
	return &billingHandler{billing: b}
}

// activeOrg resolves the organization a billing request targets: an
// explicit org_id in the body when present, the caller's active org
// otherwise.
func activeOrg(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if u := auth.UserFromContext(r.Context()); u != nil {
		return u.ActiveOrgID
	}
	return ""
}

// Plans handles GET /api/v1/billing/plans.
func (h *billingHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billing.Plans(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

type onboardingRequest struct {
	OrgID    string `json:"org_id"`
	Currency string `json:"currency"`
}

// CompleteOnboarding handles POST /api/v1/billing/onboarding/complete.
func (h *billingHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req onboardingRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	orgID := activeOrg(r, req.OrgID)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "no organization selected")
		return
	}

	if err := h.billing.CompleteOnboarding(r.Context(), u, orgID, req.Currency); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type checkoutRequest struct {
	OrgID string `json:"org_id"`
	billing.CheckoutInput
}

// Checkout handles POST /api/v1/billing/checkout.
func (h *billingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req checkoutRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	url, err := h.billing.CreateCheckout(r.Context(), u, activeOrg(r, req.OrgID), req.CheckoutInput)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Subscription handles GET /api/v1/billing/subscription. The client uses
// the active flag to gate paid features; a missing subscription is not an
// error.
func (h *billingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	orgID := activeOrg(r, r.URL.Query().Get("org_id"))
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "no organization selected")
		return
	}

	sub, err := h.billing.Subscription(r.Context(), u, orgID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": nil, "active": false})
			return
		}
		handleError(w, r, err)
		return
	}

	active, err := h.billing.IsActive(r.Context(), orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub, "active": active})
}

// UpdateSubscription handles POST /api/v1/billing/subscription.
func (h *billingHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req checkoutRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	url, err := h.billing.UpdateSubscription(r.Context(), u, activeOrg(r, req.OrgID), req.CheckoutInput)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type paymentIntentRequest struct {
	OrgID      string `json:"org_id"`
	PriceCheck bool   `json:"price_check"`
	billing.CheckoutInput
}

// PaymentIntent handles POST /api/v1/billing/payment-intent. With
// price_check set the response carries proration figures instead of a
// client secret.
func (h *billingHandler) PaymentIntent(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req paymentIntentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.billing.CreatePaymentIntent(r.Context(), u, activeOrg(r, req.OrgID), req.CheckoutInput, req.PriceCheck)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type portalRequest struct {
	OrgID string `json:"org_id"`
}

// Portal handles POST /api/v1/billing/portal.
func (h *billingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req portalRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	url, err := h.billing.CustomerPortal(r.Context(), u, activeOrg(r, req.OrgID))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Invoices handles GET /api/v1/billing/invoices.
func (h *billingHandler) Invoices(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	invoices, err := h.billing.InvoiceHistory(r.Context(), u, activeOrg(r, r.URL.Query().Get("org_id")))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}
