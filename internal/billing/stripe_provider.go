package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// StripeProvider implements PaymentProvider against the Stripe API. It also
// carries the product and portal management calls the seed command uses.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider with its own API client.
func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func fromStripeSubscription(sub *stripe.Subscription) (*ProviderSubscription, error) {
	if sub == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription has no items")
	}
	item := sub.Items.Data[0]

	out := &ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		PriceID:            item.Price.ID,
		Currency:           string(item.Price.Currency),
		Seats:              int(item.Quantity),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if item.Price.Recurring != nil {
		out.Interval = string(item.Price.Recurring.Interval)
	}
	if item.Price.Product != nil {
		out.ProductID = item.Price.Product.ID
	}
	if out.Seats == 0 {
		out.Seats = 1
	}
	return out, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, orgID, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("orgId", orgID)

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return customer.ID, nil
}

func (p *StripeProvider) CreateTrialSubscription(ctx context.Context, customerID, priceID string, trialDays, seats int) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(int64(seats)),
		}},
		TrialPeriodDays: stripe.Int64(int64(trialDays)),
	}
	params.Context = ctx

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (p *StripeProvider) UpdateSubscription(ctx context.Context, id, priceID string, seats int) (*ProviderSubscription, error) {
	itemID, err := p.firstItemID(ctx, id)
	if err != nil {
		return nil, err
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:       stripe.String(itemID),
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(int64(seats)),
		}},
		ProrationBehavior: stripe.String("always_invoice"),
	}
	params.Context = ctx
	params.AddMetadata("seats", fmt.Sprintf("%d", seats))

	sub, err := p.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (p *StripeProvider) EndTrialNow(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{TrialEndNow: stripe.Bool(true)}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to end trial: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (p *StripeProvider) ListSubscriptionIDs(ctx context.Context, customerID string) ([]string, error) {
	params := &stripe.SubscriptionListParams{Customer: customerID}
	params.Context = ctx

	var ids []string
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		ids = append(ids, iter.Subscription().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return ids, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID string, seats int, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(int64(seats)),
		}},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("seats", fmt.Sprintf("%d", seats))

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

func (p *StripeProvider) UpcomingInvoice(ctx context.Context, customerID, subscriptionID, priceID string, seats int, prorationDate time.Time) (*UpcomingInvoice, error) {
	itemID, err := p.firstItemID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{
		Customer:     stripe.String(customerID),
		Subscription: stripe.String(subscriptionID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{{
			ID:       stripe.String(itemID),
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(int64(seats)),
		}},
		SubscriptionProrationDate: stripe.Int64(prorationDate.Unix()),
	}
	params.Context = ctx

	invoice, err := p.api.Invoices.GetNext(params)
	if err != nil {
		return nil, fmt.Errorf("failed to preview upcoming invoice: %w", err)
	}
	return &UpcomingInvoice{StartingBalance: invoice.StartingBalance}, nil
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, customerID, currency string, amount int64) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProvider) UpdatePaymentIntent(ctx context.Context, id, currency string, amount int64) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment intent: %w", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(int64(limit))
	params.Context = ctx

	var invoices []Invoice
	iter := p.api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		invoices = append(invoices, Invoice{
			ID:        inv.ID,
			Number:    inv.Number,
			Status:    string(inv.Status),
			Currency:  string(inv.Currency),
			AmountDue: inv.AmountDue,
			Paid:      inv.Paid,
			HostedURL: inv.HostedInvoiceURL,
			PDFURL:    inv.InvoicePDF,
			CreatedAt: time.Unix(inv.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (p *StripeProvider) firstItemID(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve subscription: %w", err)
	}
	if len(sub.Items.Data) == 0 {
		return "", fmt.Errorf("subscription %s has no items", subscriptionID)
	}
	return sub.Items.Data[0].ID, nil
}

// --- product management, used by the seed command ---

// HasProducts reports whether any product exists in the Stripe account.
func (p *StripeProvider) HasProducts(ctx context.Context) (bool, error) {
	params := &stripe.ProductListParams{}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := p.api.Products.List(params)
	for iter.Next() {
		return true, nil
	}
	return false, iter.Err()
}

// CreateProduct creates a product and returns its id.
func (p *StripeProvider) CreateProduct(ctx context.Context, name, description string) (string, error) {
	params := &stripe.ProductParams{
		Name:        stripe.String(name),
		Description: stripe.String(description),
	}
	params.Context = ctx

	product, err := p.api.Products.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create product: %w", err)
	}
	return product.ID, nil
}

// CreatePrice creates a recurring, tax-inclusive price for a product.
func (p *StripeProvider) CreatePrice(ctx context.Context, productID, currency, interval string, amount int64) (string, error) {
	params := &stripe.PriceParams{
		Product:     stripe.String(productID),
		Currency:    stripe.String(currency),
		UnitAmount:  stripe.Int64(amount),
		TaxBehavior: stripe.String("inclusive"),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(interval),
		},
	}
	params.Context = ctx

	price, err := p.api.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create price: %w", err)
	}
	return price.ID, nil
}

// PortalProduct pairs a product with its updatable prices for the customer
// portal configuration.
type PortalProduct struct {
	ProductID string
	PriceIDs  []string
}

// ConfigurePortal sets up the customer portal: invoice history, payment
// method updates, cancellation, and price changes with always-invoice
// proration.
func (p *StripeProvider) ConfigurePortal(ctx context.Context, headline string, products []PortalProduct) error {
	portalProducts := make([]*stripe.BillingPortalConfigurationFeaturesSubscriptionUpdateProductParams, 0, len(products))
	for _, prod := range products {
		portalProducts = append(portalProducts, &stripe.BillingPortalConfigurationFeaturesSubscriptionUpdateProductParams{
			Product: stripe.String(prod.ProductID),
			Prices:  stripe.StringSlice(prod.PriceIDs),
		})
	}

	params := &stripe.BillingPortalConfigurationParams{
		BusinessProfile: &stripe.BillingPortalConfigurationBusinessProfileParams{
			Headline: stripe.String(headline),
		},
		Features: &stripe.BillingPortalConfigurationFeaturesParams{
			CustomerUpdate: &stripe.BillingPortalConfigurationFeaturesCustomerUpdateParams{
				Enabled:        stripe.Bool(true),
				AllowedUpdates: stripe.StringSlice([]string{"address", "shipping", "tax_id", "email"}),
			},
			InvoiceHistory: &stripe.BillingPortalConfigurationFeaturesInvoiceHistoryParams{
				Enabled: stripe.Bool(true),
			},
			PaymentMethodUpdate: &stripe.BillingPortalConfigurationFeaturesPaymentMethodUpdateParams{
				Enabled: stripe.Bool(true),
			},
			SubscriptionCancel: &stripe.BillingPortalConfigurationFeaturesSubscriptionCancelParams{
				Enabled: stripe.Bool(true),
			},
			SubscriptionUpdate: &stripe.BillingPortalConfigurationFeaturesSubscriptionUpdateParams{
				Enabled:               stripe.Bool(true),
				DefaultAllowedUpdates: stripe.StringSlice([]string{"price"}),
				ProrationBehavior:     stripe.String("always_invoice"),
				Products:              portalProducts,
			},
		},
	}
	params.Context = ctx

	if _, err := p.api.BillingPortalConfigurations.New(params); err != nil {
		return fmt.Errorf("failed to configure customer portal: %w", err)
	}
	return nil
}
