// Package api exposes the HTTP surface of the Quarters backend.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/member"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/org"
	"github.com/quartershq/quarters/internal/storage"
	"github.com/quartershq/quarters/internal/user"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Pool           *pgxpool.Pool
	Users          *user.Store
	Sessions       auth.SessionLookup
	Orgs           *org.Service
	Members        *member.Service
	Billing        *billing.Service
	Notifications  NotificationStore
	Storage        *storage.Store
	Webhook        http.Handler
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Handlers.
	accounts := newAuthHandler(deps.Pool, deps.Users, deps.Metrics)
	orgs := newOrgHandler(deps.Orgs)
	members := newMemberHandler(deps.Members)
	bill := newBillingHandler(deps.Billing)
	notifications := newNotificationHandler(deps.Pool, deps.Notifications)
	files := newStorageHandler(deps.Pool, deps.Storage)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics summary.
	r.Get("/metrics", deps.Metrics.Handler())

	// Payment processor webhook (signature-verified, not session-authed).
	r.Post("/stripe", deps.Webhook.ServeHTTP)

	// Public image serving.
	r.Get("/getImage", files.GetImage)

	// Session bootstrap.
	r.Post("/api/v1/auth/signup", accounts.Signup)
	r.Post("/api/v1/auth/signin", accounts.Signin)
	r.Post("/api/v1/auth/signout", accounts.Signout)

	// Session-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.SessionMiddleware(deps.Sessions))

		ar.Get("/auth/me", accounts.Me)
		ar.Put("/me", accounts.UpdateProfile)
		ar.Get("/me/organizations", orgs.ListMine)

		ar.Post("/organizations", orgs.Create)
		ar.Get("/organizations/active", orgs.GetActive)
		ar.Post("/organizations/active", orgs.SetActive)
		ar.Get("/organizations/check-slug", orgs.CheckSlug)
		ar.Put("/organizations/{orgID}", orgs.Update)
		ar.Delete("/organizations/{orgID}", orgs.Delete)
		ar.Post("/organizations/{orgID}/join", members.Join)
		ar.Get("/organizations/{orgID}/members", members.List)
		ar.Get("/organizations/{orgID}/notifications", notifications.List)

		// Owner/admin-only management of the target org.
		ar.Group(func(mr chi.Router) {
			mr.Use(auth.RequireOrgManager(func(r *http.Request) string {
				return chi.URLParam(r, "orgID")
			}))
			mr.Post("/organizations/{orgID}/join-code/refresh", orgs.RefreshJoinCode)
			mr.Post("/organizations/{orgID}/members/{userID}/accept", members.Accept)
		})
		ar.Delete("/organizations/{orgID}/members/{userID}", members.Remove)

		ar.Post("/invitations", members.Invite)

		ar.Post("/billing/onboarding/complete", bill.CompleteOnboarding)
		ar.Get("/billing/plans", bill.Plans)
		ar.Post("/billing/checkout", bill.Checkout)
		ar.Get("/billing/subscription", bill.Subscription)
		ar.Post("/billing/subscription", bill.UpdateSubscription)
		ar.Post("/billing/payment-intent", bill.PaymentIntent)
		ar.Post("/billing/portal", bill.Portal)
		ar.Get("/billing/invoices", bill.Invoices)

		ar.Post("/notifications/{id}/toggle-read", notifications.ToggleRead)
		ar.Post("/notifications/mark-all-read", notifications.MarkAllRead)
		ar.Delete("/notifications/{id}", notifications.Delete)

		ar.Post("/images", files.Upload)
	})

	return r
}
