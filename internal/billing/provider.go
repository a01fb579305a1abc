package billing

import (
	"context"
	"time"
)

// ProviderSubscription is the provider's view of a subscription, flattened
// to the fields the local mirror tracks.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	ProductID          string
	Currency           string
	Interval           string
	Seats              int
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// UpcomingInvoice is the dry-run proration preview for a plan change.
type UpcomingInvoice struct {
	// StartingBalance is the customer's credit balance applied to the
	// invoice, negative when the customer holds credit.
	StartingBalance int64
}

// PaymentIntent is a created or updated payment intent.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentProvider is the seam to the external payment processor. The
// production implementation talks to Stripe; tests install a fake.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, orgID, name, email string) (customerID string, err error)
	CreateTrialSubscription(ctx context.Context, customerID, priceID string, trialDays, seats int) (*ProviderSubscription, error)
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	// UpdateSubscription swaps the subscription onto a new price and seat
	// count with always-invoice proration.
	UpdateSubscription(ctx context.Context, id, priceID string, seats int) (*ProviderSubscription, error)
	// EndTrialNow forces a trialing subscription out of its trial.
	EndTrialNow(ctx context.Context, id string) (*ProviderSubscription, error)
	ListSubscriptionIDs(ctx context.Context, customerID string) ([]string, error)
	CancelSubscription(ctx context.Context, id string) error
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, seats int, successURL, cancelURL string) (url string, err error)
	// UpcomingInvoice previews the prorated invoice for moving the
	// subscription to the given price and seats, without committing.
	UpcomingInvoice(ctx context.Context, customerID, subscriptionID, priceID string, seats int, prorationDate time.Time) (*UpcomingInvoice, error)
	CreatePaymentIntent(ctx context.Context, customerID, currency string, amount int64) (*PaymentIntent, error)
	UpdatePaymentIntent(ctx context.Context, id, currency string, amount int64) (*PaymentIntent, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
}
