package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/user"
)

// maxWebhookBody bounds the event payload read from the processor.
const maxWebhookBody = 65536

// WebhookProcessor verifies and applies payment processor events. Local
// subscription rows mirror the processor, so every event ends in a
// wholesale replace (or delete) of the organization's row.
type WebhookProcessor struct {
	pool     *pgxpool.Pool
	store    *Store
	users    *user.Store
	provider PaymentProvider
	tasks    taskEnqueuer
	secret   string

	// Observe, when set, is called once per event with its type and
	// outcome ("applied", "skipped" or "failed").
	Observe func(eventType, outcome string)
}

// NewWebhookProcessor wires the processor. secret is the endpoint signing
// secret used to verify event signatures.
func NewWebhookProcessor(pool *pgxpool.Pool, store *Store, users *user.Store, provider PaymentProvider, tasks taskEnqueuer, secret string) *WebhookProcessor {
	return &WebhookProcessor{
		pool:     pool,
		store:    store,
		users:    users,
		provider: provider,
		tasks:    tasks,
		secret:   secret,
	}
}

func (p *WebhookProcessor) observe(eventType, outcome string) {
	if p.Observe != nil {
		p.Observe(eventType, outcome)
	}
}

// ServeHTTP verifies the event signature and applies the event. Processing
// failures are acknowledged with 200 after enqueueing an error notice, so
// the processor does not redeliver an event we cannot apply.
func (p *WebhookProcessor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), p.secret)
	if err != nil {
		slog.Warn("rejected webhook event", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		p.apply(ctx, event, p.handleCheckoutCompleted)
	case "customer.subscription.updated":
		p.apply(ctx, event, p.handleSubscriptionUpdated)
	case "customer.subscription.deleted":
		if err := p.handleSubscriptionDeleted(ctx, event); err != nil {
			slog.Error("failed to apply webhook event", "type", event.Type, "event_id", event.ID, "error", err)
			p.observe(string(event.Type), "failed")
		} else {
			p.observe(string(event.Type), "applied")
		}
	default:
		p.observe(string(event.Type), "skipped")
	}

	w.WriteHeader(http.StatusOK)
}

// apply runs a handler and, on failure, notifies the organization owner by
// email. The notice is keyed by event id so a redelivered event cannot
// double-send.
func (p *WebhookProcessor) apply(ctx context.Context, event stripe.Event, fn func(context.Context, stripe.Event) error) {
	err := fn(ctx, event)
	if err == nil {
		p.observe(string(event.Type), "applied")
		return
	}

	slog.Error("failed to apply webhook event", "type", event.Type, "event_id", event.ID, "error", err)
	p.observe(string(event.Type), "failed")

	if nerr := p.enqueueNotice(ctx, event, "error", ""); nerr != nil {
		slog.Error("failed to enqueue subscription notice", "event_id", event.ID, "error", nerr)
	}
}

// eventCustomerID pulls the customer id out of the event object.
func eventCustomerID(event stripe.Event) string {
	var obj struct {
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return ""
	}
	return obj.Customer
}

// enqueueNotice queues a subscription notice email to the owner of the
// organization the event's customer belongs to.
func (p *WebhookProcessor) enqueueNotice(ctx context.Context, event stripe.Event, notice, planName string) error {
	customerID := eventCustomerID(event)
	if customerID == "" {
		return errors.New("event has no customer")
	}
	info, err := p.store.OrgInfoByCustomer(ctx, p.pool, customerID)
	if err != nil {
		return err
	}
	owner, err := p.users.GetByID(ctx, p.pool, info.OwnerID)
	if err != nil {
		return err
	}

	payload := struct {
		Email    string `json:"email"`
		Notice   string `json:"notice"`
		PlanName string `json:"plan_name,omitempty"`
	}{Email: owner.Email, Notice: notice, PlanName: planName}
	return p.tasks.Enqueue(ctx, p.pool, outbox.KindEmailSubscriptionNotice, payload, "notice:"+event.ID)
}

// handleCheckoutCompleted reconciles a completed hosted checkout. The
// session only carries ids, so the subscription's current state is fetched
// back from the processor before replacing the local mirror.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}
	if session.Customer == nil || session.Subscription == nil {
		return errors.New("checkout session has no customer or subscription")
	}

	info, err := p.store.OrgInfoByCustomer(ctx, p.pool, session.Customer.ID)
	if err != nil {
		return err
	}
	// Checkout replaces a subscription we provisioned at onboarding; a
	// customer without one is out of sync and needs manual attention.
	if _, err := p.store.GetSubscriptionByOrg(ctx, p.pool, info.ID); err != nil {
		return err
	}

	sub, err := p.provider.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	plan, err := p.store.GetPlanByPriceStripeID(ctx, p.pool, sub.PriceID)
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, p.pool, func(q database.Querier) error {
		_, err := p.store.ReplaceSubscription(ctx, q, &Subscription{
			OrgID:              info.ID,
			PlanID:             plan.ID,
			PriceStripeID:      sub.PriceID,
			StripeID:           sub.ID,
			Currency:           sub.Currency,
			Interval:           sub.Interval,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			Seats:              sub.Seats,
		})
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("checkout reconciled", "org_id", info.ID, "subscription_id", sub.ID, "plan", plan.Key)
	if err := p.enqueueNotice(ctx, event, "success", plan.Name); err != nil {
		slog.Error("failed to enqueue subscription notice", "event_id", event.ID, "error", err)
	}
	return nil
}

// handleSubscriptionUpdated mirrors the processor's updated subscription
// state. The event payload already carries the full object.
func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return err
	}
	sub, err := fromStripeSubscription(&raw)
	if err != nil {
		return err
	}

	info, err := p.store.OrgInfoByCustomer(ctx, p.pool, sub.CustomerID)
	if err != nil {
		return err
	}

	current, err := p.store.GetSubscriptionByOrg(ctx, p.pool, info.ID)
	if err != nil {
		return err
	}
	// Portal plan changes swap the price, so resolve the plan from the
	// price, then from the product, and fall back to the current plan when
	// neither is known locally.
	planID := current.PlanID
	plan, err := p.store.GetPlanByPriceStripeID(ctx, p.pool, sub.PriceID)
	if errors.Is(err, ErrNotFound) && sub.ProductID != "" {
		plan, err = p.store.GetPlanByStripeID(ctx, p.pool, sub.ProductID)
	}
	switch {
	case err == nil:
		planID = plan.ID
	case !errors.Is(err, ErrNotFound):
		return err
	}

	err = database.WithTx(ctx, p.pool, func(q database.Querier) error {
		_, err := p.store.ReplaceSubscription(ctx, q, &Subscription{
			OrgID:              info.ID,
			PlanID:             planID,
			PriceStripeID:      sub.PriceID,
			StripeID:           sub.ID,
			Currency:           sub.Currency,
			Interval:           sub.Interval,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			Seats:              sub.Seats,
		})
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("subscription mirrored", "org_id", info.ID, "subscription_id", sub.ID, "status", sub.Status)
	return nil
}

// handleSubscriptionDeleted drops the local mirror for a cancelled
// subscription. Unknown ids are fine: deletion may race our own cleanup.
func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return err
	}
	current, err := p.store.GetSubscriptionByStripeID(ctx, p.pool, raw.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := p.store.DeleteSubscriptionByStripeID(ctx, p.pool, raw.ID); err != nil {
		return err
	}
	slog.Info("subscription removed", "org_id", current.OrgID, "subscription_id", raw.ID)
	return nil
}
