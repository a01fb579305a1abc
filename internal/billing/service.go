// Package billing manages plans, trials and subscription mirrors against an
// external payment processor.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/user"
)

// ErrForbidden is returned when the caller is not a member of the
// organization a billing operation targets.
var ErrForbidden = errors.New("caller does not have access to this organization")

// ErrUnsupportedCurrency is returned for currencies outside usd/eur.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// taskEnqueuer records deferred side effects inside the caller's
// transaction. Satisfied by *outbox.Store.
type taskEnqueuer interface {
	Enqueue(ctx context.Context, q database.Querier, kind string, payload any, idempotencyKey string) error
}

// billingStore is the persistence surface the service uses. Satisfied by
// *Store.
type billingStore interface {
	ListPlans(ctx context.Context, q database.Querier) ([]*Plan, error)
	GetPlanByKey(ctx context.Context, q database.Querier, key string) (*Plan, error)
	GetSubscriptionByOrg(ctx context.Context, q database.Querier, orgID string) (*Subscription, error)
	GetSubscriptionWithPlan(ctx context.Context, q database.Querier, orgID string) (*SubscriptionWithPlan, error)
	CreateSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error)
	ReplaceSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error)
	SetPaymentIntent(ctx context.Context, q database.Querier, orgID, paymentIntentID string) error
	SyncTrialOutcome(ctx context.Context, q database.Querier, id, status string, periodStart, periodEnd time.Time) error
	ListExpiredTrials(ctx context.Context, q database.Querier, now time.Time) ([]*Subscription, error)
	OrgInfo(ctx context.Context, q database.Querier, orgID string) (*OrgBillingInfo, error)
	SetOrgCustomer(ctx context.Context, q database.Querier, orgID, customerID string) error
}

// accountStore is the user persistence billing touches. Satisfied by
// *user.Store.
type accountStore interface {
	GetByID(ctx context.Context, q database.Querier, id string) (*user.User, error)
	Update(ctx context.Context, q database.Querier, id string, in user.UpdateUserInput) (*user.User, error)
}

// Service implements billing operations. Database state changes in
// transactions; processor calls run outside them, either inline for
// request/response flows or through the outbox for deferred legs.
type Service struct {
	pool     database.DB
	store    billingStore
	users    accountStore
	provider PaymentProvider
	tasks    taskEnqueuer
	siteURL  string
}

// NewService wires the billing service.
func NewService(pool database.DB, store billingStore, users accountStore, provider PaymentProvider, tasks taskEnqueuer, siteURL string) *Service {
	return &Service{
		pool:     pool,
		store:    store,
		users:    users,
		provider: provider,
		tasks:    tasks,
		siteURL:  siteURL,
	}
}

// Plans returns all purchasable plans.
func (s *Service) Plans(ctx context.Context) ([]*Plan, error) {
	return s.store.ListPlans(ctx, s.pool)
}

// IsActive reports whether the organization's subscription is usable
// (active or still trialing).
func (s *Service) IsActive(ctx context.Context, orgID string) (bool, error) {
	sub, err := s.store.GetSubscriptionByOrg(ctx, s.pool, orgID)
	if err != nil {
		return false, err
	}
	return sub.Status == StatusActive || sub.Status == StatusTrialing, nil
}

// Subscription returns the organization's subscription joined with its
// plan. The caller must be a member.
func (s *Service) Subscription(ctx context.Context, caller *user.User, orgID string) (*SubscriptionWithPlan, error) {
	if !caller.HasOrg(orgID) {
		return nil, ErrForbidden
	}
	return s.store.GetSubscriptionWithPlan(ctx, s.pool, orgID)
}

// provisionPayload is the outbox task body for trial provisioning.
type provisionPayload struct {
	OrgID    string `json:"org_id"`
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

// CompleteOnboarding marks the caller's onboarding done and, when the
// organization has no payment customer yet, enqueues trial provisioning.
// Calling it again after the customer exists is a no-op, so the client can
// retry freely.
func (s *Service) CompleteOnboarding(ctx context.Context, caller *user.User, orgID, currency string) error {
	if currency != CurrencyUSD && currency != CurrencyEUR {
		return ErrUnsupportedCurrency
	}
	if !caller.HasOrg(orgID) {
		return ErrForbidden
	}

	return database.WithTx(ctx, s.pool, func(q database.Querier) error {
		done := true
		if _, err := s.users.Update(ctx, q, caller.ID, user.UpdateUserInput{IsOnboardingComplete: &done}); err != nil {
			return err
		}

		info, err := s.store.OrgInfo(ctx, q, orgID)
		if err != nil {
			return err
		}
		if info.CustomerID != "" {
			return nil
		}

		payload := provisionPayload{OrgID: orgID, UserID: caller.ID, Currency: currency}
		return s.tasks.Enqueue(ctx, q, outbox.KindBillingProvision, payload, "provision:"+orgID)
	})
}

// ProvisionHandler returns the outbox handler that creates the payment
// customer and the pro monthly trial for a freshly onboarded organization.
// The customer id is stamped before the external subscription is created,
// so a replay after a partial failure resumes with the existing customer
// instead of creating a second one. Once the subscription mirror exists the
// task exits early.
func (s *Service) ProvisionHandler() outbox.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p provisionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode provision payload: %w", err)
		}

		info, err := s.store.OrgInfo(ctx, s.pool, p.OrgID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Organization deleted before provisioning ran.
				return nil
			}
			return err
		}
		if _, err := s.store.GetSubscriptionByOrg(ctx, s.pool, info.ID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		plan, err := s.store.GetPlanByKey(ctx, s.pool, PlanPro)
		if err != nil {
			return err
		}
		price, ok := plan.Prices.Lookup(IntervalMonth, p.Currency)
		if !ok {
			return ErrPriceNotFound
		}

		if info.CustomerID == "" {
			u, err := s.users.GetByID(ctx, s.pool, p.UserID)
			if err != nil {
				return err
			}
			customerID, err := s.provider.CreateCustomer(ctx, info.ID, info.Name, u.Email)
			if err != nil {
				return err
			}
			if err := s.store.SetOrgCustomer(ctx, s.pool, info.ID, customerID); err != nil {
				return err
			}
			info.CustomerID = customerID
		}

		providerSub, err := s.provider.CreateTrialSubscription(ctx, info.CustomerID, price.StripeID, TrialDays, TrialSeats)
		if err != nil {
			return err
		}

		err = database.WithTx(ctx, s.pool, func(q database.Querier) error {
			_, err := s.store.CreateSubscription(ctx, q, &Subscription{
				OrgID:              info.ID,
				PlanID:             plan.ID,
				PriceStripeID:      providerSub.PriceID,
				StripeID:           providerSub.ID,
				Currency:           p.Currency,
				Interval:           IntervalMonth,
				Status:             providerSub.Status,
				CurrentPeriodStart: providerSub.CurrentPeriodStart,
				CurrentPeriodEnd:   providerSub.CurrentPeriodEnd,
				CancelAtPeriodEnd:  providerSub.CancelAtPeriodEnd,
				Seats:              TrialSeats,
			})
			return err
		})
		if err != nil {
			return err
		}

		slog.Info("trial provisioned", "org_id", info.ID, "customer_id", info.CustomerID, "subscription_id", providerSub.ID)
		return nil
	}
}

// cancelPayload is the outbox task body for cancelling an organization's
// external subscriptions after deletion.
type cancelPayload struct {
	OrgID      string `json:"org_id"`
	CustomerID string `json:"customer_id"`
}

// CancelHandler returns the outbox handler that cancels every external
// subscription for a deleted organization's customer. Cancellation is
// best-effort per subscription; individual failures are logged and do not
// fail the task.
func (s *Service) CancelHandler() outbox.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p cancelPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode cancel payload: %w", err)
		}

		ids, err := s.provider.ListSubscriptionIDs(ctx, p.CustomerID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.provider.CancelSubscription(ctx, id); err != nil {
				slog.Error("failed to cancel subscription", "org_id", p.OrgID, "subscription_id", id, "error", err)
			}
		}
		return nil
	}
}

// resolvePrice loads the plan by key and its price for the interval and
// currency.
func (s *Service) resolvePrice(ctx context.Context, planKey, interval, currency string) (*Plan, Price, error) {
	plan, err := s.store.GetPlanByKey(ctx, s.pool, planKey)
	if err != nil {
		return nil, Price{}, err
	}
	price, ok := plan.Prices.Lookup(interval, currency)
	if !ok {
		return nil, Price{}, ErrPriceNotFound
	}
	return plan, price, nil
}

// customerOrg loads the org's billing info and requires membership and an
// existing payment customer.
func (s *Service) customerOrg(ctx context.Context, caller *user.User, orgID string) (*OrgBillingInfo, error) {
	if !caller.HasOrg(orgID) {
		return nil, ErrForbidden
	}
	info, err := s.store.OrgInfo(ctx, s.pool, orgID)
	if err != nil {
		return nil, err
	}
	if info.CustomerID == "" {
		return nil, ErrNoCustomer
	}
	return info, nil
}

// CheckoutInput selects the target price for checkout and plan changes.
type CheckoutInput struct {
	PlanKey  string `json:"plan"`
	Interval string `json:"interval"`
	Currency string `json:"currency"`
	Seats    int    `json:"seats"`
}

func (in *CheckoutInput) normalize() {
	if in.Seats < 1 {
		in.Seats = 1
	}
}

// CreateCheckout opens a hosted checkout session for the selected price and
// returns its URL.
func (s *Service) CreateCheckout(ctx context.Context, caller *user.User, orgID string, in CheckoutInput) (string, error) {
	in.normalize()
	info, err := s.customerOrg(ctx, caller, orgID)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetSubscriptionByOrg(ctx, s.pool, orgID); err != nil {
		return "", err
	}
	_, price, err := s.resolvePrice(ctx, in.PlanKey, in.Interval, in.Currency)
	if err != nil {
		return "", err
	}

	successURL := fmt.Sprintf("%s/%s?success=true", s.siteURL, info.Slug)
	cancelURL := fmt.Sprintf("%s/%s?success=false", s.siteURL, info.Slug)
	return s.provider.CreateCheckoutSession(ctx, info.CustomerID, price.StripeID, in.Seats, successURL, cancelURL)
}

// UpdateSubscription moves the organization onto a new price with
// always-invoice proration, then replaces the local mirror with the
// processor's returned state. Returns the billing settings URL.
func (s *Service) UpdateSubscription(ctx context.Context, caller *user.User, orgID string, in CheckoutInput) (string, error) {
	in.normalize()
	info, err := s.customerOrg(ctx, caller, orgID)
	if err != nil {
		return "", err
	}
	current, err := s.store.GetSubscriptionByOrg(ctx, s.pool, orgID)
	if err != nil {
		return "", err
	}
	plan, price, err := s.resolvePrice(ctx, in.PlanKey, in.Interval, in.Currency)
	if err != nil {
		return "", err
	}

	updated, err := s.provider.UpdateSubscription(ctx, current.StripeID, price.StripeID, in.Seats)
	if err != nil {
		return "", err
	}

	err = database.WithTx(ctx, s.pool, func(q database.Querier) error {
		_, err := s.store.ReplaceSubscription(ctx, q, &Subscription{
			OrgID:              orgID,
			PlanID:             plan.ID,
			PriceStripeID:      price.StripeID,
			StripeID:           updated.ID,
			Currency:           in.Currency,
			Interval:           in.Interval,
			Status:             updated.Status,
			CurrentPeriodStart: updated.CurrentPeriodStart,
			CurrentPeriodEnd:   updated.CurrentPeriodEnd,
			CancelAtPeriodEnd:  updated.CancelAtPeriodEnd,
			Seats:              in.Seats,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	slog.Info("subscription updated", "org_id", orgID, "plan", in.PlanKey, "interval", in.Interval, "seats", in.Seats)
	return fmt.Sprintf("%s/%s/settings/organization/billing", s.siteURL, info.Slug), nil
}

// PaymentIntentResult carries either a client secret for payment or, for a
// price check, the proration preview figures in major units.
type PaymentIntentResult struct {
	ClientSecret string  `json:"client_secret,omitempty"`
	NewPrice     float64 `json:"new_price,omitempty"`
	Discount     float64 `json:"discount,omitempty"`
	Credits      float64 `json:"credits,omitempty"`
}

// CreatePaymentIntent creates (or refreshes) a payment intent for the
// selected price. With priceCheck set it is a pure dry-run: the processor
// previews the prorated upcoming invoice and nothing is mutated.
func (s *Service) CreatePaymentIntent(ctx context.Context, caller *user.User, orgID string, in CheckoutInput, priceCheck bool) (*PaymentIntentResult, error) {
	in.normalize()
	info, err := s.customerOrg(ctx, caller, orgID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetSubscriptionByOrg(ctx, s.pool, orgID)
	if err != nil {
		return nil, err
	}
	_, price, err := s.resolvePrice(ctx, in.PlanKey, in.Interval, in.Currency)
	if err != nil {
		return nil, err
	}

	priceValue := price.Amount * int64(in.Seats)

	if priceCheck && current.StripeID != "" {
		invoice, err := s.provider.UpcomingInvoice(ctx, info.CustomerID, current.StripeID, price.StripeID, in.Seats, time.Now())
		if err != nil {
			return nil, err
		}
		newPrice, discount, credits := prorationFigures(priceValue, invoice.StartingBalance)
		return &PaymentIntentResult{NewPrice: newPrice, Discount: discount, Credits: credits}, nil
	}

	var intent *PaymentIntent
	if current.PaymentIntentID != "" {
		intent, err = s.provider.UpdatePaymentIntent(ctx, current.PaymentIntentID, in.Currency, priceValue)
	} else {
		intent, err = s.provider.CreatePaymentIntent(ctx, info.CustomerID, in.Currency, priceValue)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.SetPaymentIntent(ctx, s.pool, orgID, intent.ID); err != nil {
		return nil, err
	}
	return &PaymentIntentResult{ClientSecret: intent.ClientSecret}, nil
}

// prorationFigures converts a proration preview into display figures, in
// major units. The starting balance is the credit the processor would apply
// (negative when the customer holds credit); anything beyond the new price
// stays as credit.
func prorationFigures(priceValue, startingBalance int64) (newPrice, discount, credits float64) {
	d := int64(0)
	if startingBalance != 0 {
		d = -startingBalance
	}
	newPrice = float64(priceValue-d) / 100
	discount = float64(d) / 100
	if d > priceValue {
		credits = float64(d-priceValue) / 100
	}
	return newPrice, discount, credits
}

// CustomerPortal opens a customer portal session and returns its URL.
func (s *Service) CustomerPortal(ctx context.Context, caller *user.User, orgID string) (string, error) {
	info, err := s.customerOrg(ctx, caller, orgID)
	if err != nil {
		return "", err
	}
	returnURL := fmt.Sprintf("%s/%s/settings/organization/billing", s.siteURL, info.Slug)
	return s.provider.CreatePortalSession(ctx, info.CustomerID, returnURL)
}

// InvoiceHistory lists the organization's external invoices, newest first.
func (s *Service) InvoiceHistory(ctx context.Context, caller *user.User, orgID string) ([]Invoice, error) {
	info, err := s.customerOrg(ctx, caller, orgID)
	if err != nil {
		return nil, err
	}
	return s.provider.ListInvoices(ctx, info.CustomerID, 100)
}

// SweepExpiredTrials force-ends every trial whose period has lapsed and
// syncs the processor's resulting status and period locally. One failing
// subscription is logged and skipped so it cannot stall the rest of the
// sweep.
func (s *Service) SweepExpiredTrials(ctx context.Context) error {
	expired, err := s.store.ListExpiredTrials(ctx, s.pool, time.Now())
	if err != nil {
		return err
	}

	for _, sub := range expired {
		updated, err := s.provider.EndTrialNow(ctx, sub.StripeID)
		if err != nil {
			slog.Error("failed to end expired trial", "org_id", sub.OrgID, "subscription_id", sub.StripeID, "error", err)
			continue
		}
		err = s.store.SyncTrialOutcome(ctx, s.pool, sub.ID, updated.Status, updated.CurrentPeriodStart, updated.CurrentPeriodEnd)
		if err != nil {
			slog.Error("failed to sync trial outcome", "org_id", sub.OrgID, "subscription_id", sub.StripeID, "error", err)
			continue
		}
		slog.Info("trial ended", "org_id", sub.OrgID, "subscription_id", sub.StripeID, "status", updated.Status)
	}
	return nil
}
