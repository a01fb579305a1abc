package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quartershq/quarters/internal/database"
)

var (
	// ErrNotFound is returned when a plan or subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSubscriptionExists is returned when an organization already has a
	// local subscription row.
	ErrSubscriptionExists = errors.New("organization already has a subscription")
	// ErrNoCustomer is returned when an operation requires a payment
	// customer the organization does not have yet.
	ErrNoCustomer = errors.New("organization has no payment customer")
	// ErrPriceNotFound is returned when no price matches the requested
	// plan, interval and currency.
	ErrPriceNotFound = errors.New("no price for plan, interval and currency")
)

// Store persists plans and subscription mirrors. Methods take a querier so
// callers can run them inside their own transactions.
type Store struct{}

// NewStore creates a billing store.
func NewStore() *Store {
	return &Store{}
}

const planColumns = `id, key, stripe_id, name, description, prices, created_at`

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	var prices []byte
	err := row.Scan(&p.ID, &p.Key, &p.StripeID, &p.Name, &p.Description, &prices, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	if err := json.Unmarshal(prices, &p.Prices); err != nil {
		return nil, fmt.Errorf("failed to decode plan prices: %w", err)
	}
	return &p, nil
}

// CreatePlan inserts a plan mirror.
func (s *Store) CreatePlan(ctx context.Context, q database.Querier, p *Plan) (*Plan, error) {
	prices, err := json.Marshal(p.Prices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan prices: %w", err)
	}
	row := q.QueryRow(ctx, `
		INSERT INTO plans (key, stripe_id, name, description, prices)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+planColumns, p.Key, p.StripeID, p.Name, p.Description, prices)
	return scanPlan(row)
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, q database.Querier, id string) (*Plan, error) {
	row := q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// GetPlanByKey returns a plan by its key (standard, pro, enterprise).
func (s *Store) GetPlanByKey(ctx context.Context, q database.Querier, key string) (*Plan, error) {
	row := q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE key = $1`, key)
	return scanPlan(row)
}

// GetPlanByStripeID returns the plan mirroring a Stripe product id.
func (s *Store) GetPlanByStripeID(ctx context.Context, q database.Querier, stripeID string) (*Plan, error) {
	row := q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE stripe_id = $1`, stripeID)
	return scanPlan(row)
}

// GetPlanByPriceStripeID resolves the plan owning a Stripe price id.
func (s *Store) GetPlanByPriceStripeID(ctx context.Context, q database.Querier, priceID string) (*Plan, error) {
	plans, err := s.ListPlans(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		for _, byCurrency := range p.Prices {
			for _, price := range byCurrency {
				if price.StripeID == priceID {
					return p, nil
				}
			}
		}
	}
	return nil, ErrNotFound
}

// ListPlans returns all plans ordered by cheapest monthly USD price.
func (s *Store) ListPlans(ctx context.Context, q database.Querier) ([]*Plan, error) {
	rows, err := q.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		ORDER BY (prices->'month'->'usd'->>'amount')::bigint
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// CountPlans reports whether seeding already ran.
func (s *Store) CountPlans(ctx context.Context, q database.Querier) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM plans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count plans: %w", err)
	}
	return n, nil
}

const subscriptionColumns = `id, org_id, plan_id, price_stripe_id, stripe_id, currency,
	interval, status, current_period_start, current_period_end, cancel_at_period_end,
	seats, coalesce(payment_intent_id, ''), created_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.PriceStripeID, &sub.StripeID,
		&sub.Currency, &sub.Interval, &sub.Status, &sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.Seats, &sub.PaymentIntentID,
		&sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// CreateSubscription inserts the subscription mirror for an organization.
// Each organization has at most one; a second insert fails with
// ErrSubscriptionExists.
func (s *Store) CreateSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error) {
	existing, err := s.GetSubscriptionByOrg(ctx, q, sub.OrgID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSubscriptionExists
	}

	row := q.QueryRow(ctx, `
		INSERT INTO subscriptions (org_id, plan_id, price_stripe_id, stripe_id, currency,
			interval, status, current_period_start, current_period_end, cancel_at_period_end,
			seats, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, nullif($12, ''))
		RETURNING `+subscriptionColumns,
		sub.OrgID, sub.PlanID, sub.PriceStripeID, sub.StripeID, sub.Currency,
		sub.Interval, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.Seats, sub.PaymentIntentID)
	return scanSubscription(row)
}

// GetSubscriptionByOrg returns an organization's subscription mirror.
func (s *Store) GetSubscriptionByOrg(ctx context.Context, q database.Querier, orgID string) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = $1`, orgID)
	return scanSubscription(row)
}

// GetSubscriptionByStripeID returns the mirror for an external subscription id.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, q database.Querier, stripeID string) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_id = $1`, stripeID)
	return scanSubscription(row)
}

// GetSubscriptionWithPlan joins the subscription with its plan.
func (s *Store) GetSubscriptionWithPlan(ctx context.Context, q database.Querier, orgID string) (*SubscriptionWithPlan, error) {
	sub, err := s.GetSubscriptionByOrg(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	plan, err := s.GetPlan(ctx, q, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionWithPlan{Subscription: *sub, PlanKey: plan.Key, PlanName: plan.Name}, nil
}

// ReplaceSubscription swaps the organization's mirror row for the given
// state. Replacing wholesale rather than patching keeps the mirror from
// drifting when events arrive with partial field sets. Run inside the
// caller's transaction.
func (s *Store) ReplaceSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error) {
	if _, err := q.Exec(ctx, `DELETE FROM subscriptions WHERE org_id = $1`, sub.OrgID); err != nil {
		return nil, fmt.Errorf("failed to delete old subscription: %w", err)
	}
	return s.CreateSubscription(ctx, q, sub)
}

// DeleteSubscriptionByOrg removes an organization's mirror row.
func (s *Store) DeleteSubscriptionByOrg(ctx context.Context, q database.Querier, orgID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM subscriptions WHERE org_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// DeleteSubscriptionByStripeID removes the mirror for an external id.
func (s *Store) DeleteSubscriptionByStripeID(ctx context.Context, q database.Querier, stripeID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM subscriptions WHERE stripe_id = $1`, stripeID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// SetPaymentIntent stamps the payment intent id on a subscription.
func (s *Store) SetPaymentIntent(ctx context.Context, q database.Querier, orgID, paymentIntentID string) error {
	tag, err := q.Exec(ctx, `UPDATE subscriptions SET payment_intent_id = $2 WHERE org_id = $1`, orgID, paymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to set payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncTrialOutcome updates status and period after forcing a trial to end.
func (s *Store) SyncTrialOutcome(ctx context.Context, q database.Querier, id, status string, periodStart, periodEnd time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions SET status = $2, current_period_start = $3, current_period_end = $4
		WHERE id = $1
	`, id, status, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("failed to sync trial outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredTrials returns trialing subscriptions whose period end is in
// the past, for the hourly sweep.
func (s *Store) ListExpiredTrials(ctx context.Context, q database.Querier, now time.Time) ([]*Subscription, error) {
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'trialing' AND current_period_end < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// OrgInfo loads the billing view of an organization.
func (s *Store) OrgInfo(ctx context.Context, q database.Querier, orgID string) (*OrgBillingInfo, error) {
	return scanOrgInfo(q.QueryRow(ctx, `
		SELECT id, name, slug, coalesce(owner_id, ''), coalesce(customer_id, '')
		FROM organizations WHERE id = $1
	`, orgID))
}

// OrgInfoByCustomer resolves an organization from its external customer id,
// used by webhook reconciliation.
func (s *Store) OrgInfoByCustomer(ctx context.Context, q database.Querier, customerID string) (*OrgBillingInfo, error) {
	return scanOrgInfo(q.QueryRow(ctx, `
		SELECT id, name, slug, coalesce(owner_id, ''), coalesce(customer_id, '')
		FROM organizations WHERE customer_id = $1
	`, customerID))
}

// SetOrgCustomer stamps the external customer id on an organization.
func (s *Store) SetOrgCustomer(ctx context.Context, q database.Querier, orgID, customerID string) error {
	tag, err := q.Exec(ctx, `UPDATE organizations SET customer_id = $2 WHERE id = $1`, orgID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrgInfo(row pgx.Row) (*OrgBillingInfo, error) {
	var info OrgBillingInfo
	err := row.Scan(&info.ID, &info.Name, &info.Slug, &info.OwnerID, &info.CustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan organization billing info: %w", err)
	}
	return &info, nil
}
