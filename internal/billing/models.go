package billing

import "time"

// Supported settlement currencies.
const (
	CurrencyUSD = "usd"
	CurrencyEUR = "eur"
)

// Billing intervals.
const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// Plan keys.
const (
	PlanStandard   = "standard"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Subscription statuses mirrored from the payment processor. Other processor
// statuses (past_due, canceled, ...) are stored verbatim.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
)

// Trial terms granted on onboarding.
const (
	TrialDays  = 14
	TrialSeats = 1
)

// Price is one purchasable price point of a plan.
type Price struct {
	StripeID string `json:"stripe_id"`
	Amount   int64  `json:"amount"` // minor units
}

// PriceTable maps interval, then currency, to a price.
type PriceTable map[string]map[string]Price

// Lookup returns the price for the given interval and currency.
func (t PriceTable) Lookup(interval, currency string) (Price, bool) {
	byCurrency, ok := t[interval]
	if !ok {
		return Price{}, false
	}
	p, ok := byCurrency[currency]
	return p, ok
}

// Plan is a locally mirrored product with its Stripe ids.
type Plan struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	StripeID    string     `json:"stripe_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Prices      PriceTable `json:"prices"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Subscription is the local mirror of one organization's external
// subscription. At most one row exists per organization.
type Subscription struct {
	ID                 string    `json:"id"`
	OrgID              string    `json:"org_id"`
	PlanID             string    `json:"plan_id"`
	PriceStripeID      string    `json:"price_stripe_id"`
	StripeID           string    `json:"stripe_id"`
	Currency           string    `json:"currency"`
	Interval           string    `json:"interval"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	Seats              int       `json:"seats"`
	PaymentIntentID    string    `json:"payment_intent_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// SubscriptionWithPlan is a subscription joined with its plan for read paths.
type SubscriptionWithPlan struct {
	Subscription
	PlanKey  string `json:"plan_key"`
	PlanName string `json:"plan_name"`
}

// OrgBillingInfo is the slice of an organization the billing layer needs:
// identity, owner for failure notices, and the external customer id.
type OrgBillingInfo struct {
	ID         string
	Name       string
	Slug       string
	OwnerID    string
	CustomerID string
}

// Invoice is a flattened external invoice for history listings.
type Invoice struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Status    string    `json:"status"`
	Currency  string    `json:"currency"`
	AmountDue int64     `json:"amount_due"`
	Paid      bool      `json:"paid"`
	HostedURL string    `json:"hosted_url,omitempty"`
	PDFURL    string    `json:"pdf_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
