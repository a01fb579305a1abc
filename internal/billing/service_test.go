package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/user"
)

// fakeTx satisfies pgx.Tx for the transaction helper; only commit and
// rollback are ever reached because the store fakes ignore the querier.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (fakeDB) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (fakeDB) Begin(context.Context) (pgx.Tx, error)                   { return fakeTx{}, nil }

type fakeBillingStore struct {
	info     *OrgBillingInfo
	sub      *Subscription
	plan     *Plan
	expired  []*Subscription
	stamped  []string
	stampErr error
	created  []*Subscription
	synced   []string
}

func (f *fakeBillingStore) ListPlans(context.Context, database.Querier) ([]*Plan, error) {
	if f.plan == nil {
		return nil, nil
	}
	return []*Plan{f.plan}, nil
}

func (f *fakeBillingStore) GetPlanByKey(context.Context, database.Querier, string) (*Plan, error) {
	if f.plan == nil {
		return nil, ErrNotFound
	}
	return f.plan, nil
}

func (f *fakeBillingStore) GetSubscriptionByOrg(context.Context, database.Querier, string) (*Subscription, error) {
	if f.sub == nil {
		return nil, ErrNotFound
	}
	return f.sub, nil
}

func (f *fakeBillingStore) GetSubscriptionWithPlan(context.Context, database.Querier, string) (*SubscriptionWithPlan, error) {
	return nil, ErrNotFound
}

func (f *fakeBillingStore) CreateSubscription(_ context.Context, _ database.Querier, sub *Subscription) (*Subscription, error) {
	if f.sub != nil {
		return nil, ErrSubscriptionExists
	}
	f.created = append(f.created, sub)
	f.sub = sub
	return sub, nil
}

func (f *fakeBillingStore) ReplaceSubscription(_ context.Context, _ database.Querier, sub *Subscription) (*Subscription, error) {
	f.sub = sub
	return sub, nil
}

func (f *fakeBillingStore) SetPaymentIntent(context.Context, database.Querier, string, string) error {
	return nil
}

func (f *fakeBillingStore) SyncTrialOutcome(_ context.Context, _ database.Querier, id, _ string, _, _ time.Time) error {
	f.synced = append(f.synced, id)
	return nil
}

func (f *fakeBillingStore) ListExpiredTrials(context.Context, database.Querier, time.Time) ([]*Subscription, error) {
	return f.expired, nil
}

func (f *fakeBillingStore) OrgInfo(context.Context, database.Querier, string) (*OrgBillingInfo, error) {
	if f.info == nil {
		return nil, ErrNotFound
	}
	return f.info, nil
}

func (f *fakeBillingStore) SetOrgCustomer(_ context.Context, _ database.Querier, _, customerID string) error {
	if f.stampErr != nil {
		return f.stampErr
	}
	f.stamped = append(f.stamped, customerID)
	f.info.CustomerID = customerID
	return nil
}

type fakeAccounts struct {
	updated []string
}

func (f *fakeAccounts) GetByID(_ context.Context, _ database.Querier, id string) (*user.User, error) {
	return &user.User{ID: id, Email: "owner@example.com"}, nil
}

func (f *fakeAccounts) Update(_ context.Context, _ database.Querier, id string, _ user.UpdateUserInput) (*user.User, error) {
	f.updated = append(f.updated, id)
	return &user.User{ID: id}, nil
}

type fakeEnqueuer struct {
	kinds []string
	keys  []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ database.Querier, kind string, _ any, key string) error {
	f.kinds = append(f.kinds, kind)
	f.keys = append(f.keys, key)
	return nil
}

type fakeProvider struct {
	customersCreated int
	trialsFor        []string
	endTrialErr      map[string]error
}

func (f *fakeProvider) CreateCustomer(context.Context, string, string, string) (string, error) {
	f.customersCreated++
	return "cus_new", nil
}

func (f *fakeProvider) CreateTrialSubscription(_ context.Context, customerID, priceID string, _, seats int) (*ProviderSubscription, error) {
	f.trialsFor = append(f.trialsFor, customerID)
	return &ProviderSubscription{
		ID:                 "sub_trial",
		CustomerID:         customerID,
		Status:             StatusTrialing,
		PriceID:            priceID,
		Seats:              seats,
		CurrentPeriodStart: time.Now(),
		CurrentPeriodEnd:   time.Now().Add(14 * 24 * time.Hour),
	}, nil
}

func (f *fakeProvider) GetSubscription(context.Context, string) (*ProviderSubscription, error) {
	return nil, nil
}

func (f *fakeProvider) UpdateSubscription(_ context.Context, id, priceID string, seats int) (*ProviderSubscription, error) {
	return &ProviderSubscription{ID: id, PriceID: priceID, Seats: seats, Status: StatusActive}, nil
}

func (f *fakeProvider) EndTrialNow(_ context.Context, id string) (*ProviderSubscription, error) {
	if err := f.endTrialErr[id]; err != nil {
		return nil, err
	}
	return &ProviderSubscription{ID: id, Status: StatusActive}, nil
}

func (f *fakeProvider) ListSubscriptionIDs(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeProvider) CancelSubscription(context.Context, string) error { return nil }

func (f *fakeProvider) CreateCheckoutSession(context.Context, string, string, int, string, string) (string, error) {
	return "", nil
}

func (f *fakeProvider) UpcomingInvoice(context.Context, string, string, string, int, time.Time) (*UpcomingInvoice, error) {
	return &UpcomingInvoice{}, nil
}

func (f *fakeProvider) CreatePaymentIntent(context.Context, string, string, int64) (*PaymentIntent, error) {
	return &PaymentIntent{}, nil
}

func (f *fakeProvider) UpdatePaymentIntent(context.Context, string, string, int64) (*PaymentIntent, error) {
	return &PaymentIntent{}, nil
}

func (f *fakeProvider) CreatePortalSession(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeProvider) ListInvoices(context.Context, string, int) ([]Invoice, error) {
	return nil, nil
}

func proPlan() *Plan {
	return &Plan{
		ID:   "plan-pro",
		Key:  PlanPro,
		Name: "Pro",
		Prices: PriceTable{
			IntervalMonth: {CurrencyUSD: {StripeID: "price_month_usd", Amount: 1990}},
		},
	}
}

func billingCaller(orgID string) *user.User {
	return &user.User{
		ID:          "u-1",
		ActiveOrgID: orgID,
		Memberships: []user.Membership{
			{OrgID: orgID, Role: user.RoleOwner, Status: user.StatusActive},
		},
	}
}

func TestCompleteOnboardingEnqueuesProvision(t *testing.T) {
	store := &fakeBillingStore{info: &OrgBillingInfo{ID: "org-1", Name: "Acme"}}
	users := &fakeAccounts{}
	tasks := &fakeEnqueuer{}
	s := NewService(fakeDB{}, store, users, &fakeProvider{}, tasks, "")

	err := s.CompleteOnboarding(context.Background(), billingCaller("org-1"), "org-1", CurrencyUSD)
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if len(users.updated) != 1 || users.updated[0] != "u-1" {
		t.Errorf("onboarding flag not set: %v", users.updated)
	}
	if len(tasks.kinds) != 1 || tasks.kinds[0] != outbox.KindBillingProvision {
		t.Fatalf("enqueued kinds = %v, want [%s]", tasks.kinds, outbox.KindBillingProvision)
	}
	if tasks.keys[0] != "provision:org-1" {
		t.Errorf("task key = %q, want provision:org-1", tasks.keys[0])
	}
}

func TestCompleteOnboardingNoOpWhenCustomerSet(t *testing.T) {
	store := &fakeBillingStore{info: &OrgBillingInfo{ID: "org-1", Name: "Acme", CustomerID: "cus_1"}}
	users := &fakeAccounts{}
	tasks := &fakeEnqueuer{}
	s := NewService(fakeDB{}, store, users, &fakeProvider{}, tasks, "")

	err := s.CompleteOnboarding(context.Background(), billingCaller("org-1"), "org-1", CurrencyUSD)
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if len(users.updated) != 1 {
		t.Errorf("onboarding flag not set on retry: %v", users.updated)
	}
	if len(tasks.kinds) != 0 {
		t.Errorf("retry enqueued provisioning again: %v", tasks.kinds)
	}
}

func TestProvisionResumesWithExistingCustomer(t *testing.T) {
	// A previous run created the customer and stamped it, then died before
	// the subscription mirror committed.
	store := &fakeBillingStore{
		info: &OrgBillingInfo{ID: "org-1", Name: "Acme", CustomerID: "cus_1"},
		plan: proPlan(),
	}
	provider := &fakeProvider{}
	s := NewService(fakeDB{}, store, &fakeAccounts{}, provider, &fakeEnqueuer{}, "")

	err := s.ProvisionHandler()(context.Background(), []byte(`{"org_id":"org-1","user_id":"u-1","currency":"usd"}`))
	if err != nil {
		t.Fatalf("provision handler error = %v", err)
	}
	if provider.customersCreated != 0 {
		t.Errorf("replay created %d new customers, want 0", provider.customersCreated)
	}
	if len(provider.trialsFor) != 1 || provider.trialsFor[0] != "cus_1" {
		t.Errorf("trial created for %v, want [cus_1]", provider.trialsFor)
	}
	if len(store.created) != 1 || store.created[0].StripeID != "sub_trial" {
		t.Errorf("mirror not written: %+v", store.created)
	}
}

func TestProvisionSkipsWhenSubscriptionExists(t *testing.T) {
	store := &fakeBillingStore{
		info: &OrgBillingInfo{ID: "org-1", Name: "Acme", CustomerID: "cus_1"},
		sub:  &Subscription{ID: "s1", OrgID: "org-1", Status: StatusTrialing},
		plan: proPlan(),
	}
	provider := &fakeProvider{}
	s := NewService(fakeDB{}, store, &fakeAccounts{}, provider, &fakeEnqueuer{}, "")

	err := s.ProvisionHandler()(context.Background(), []byte(`{"org_id":"org-1","user_id":"u-1","currency":"usd"}`))
	if err != nil {
		t.Fatalf("provision handler error = %v", err)
	}
	if provider.customersCreated != 0 || len(provider.trialsFor) != 0 {
		t.Errorf("replay touched the provider: customers=%d trials=%v",
			provider.customersCreated, provider.trialsFor)
	}
}

func TestProvisionStampsCustomerBeforeTrial(t *testing.T) {
	store := &fakeBillingStore{
		info:     &OrgBillingInfo{ID: "org-1", Name: "Acme"},
		plan:     proPlan(),
		stampErr: errors.New("connection reset"),
	}
	provider := &fakeProvider{}
	s := NewService(fakeDB{}, store, &fakeAccounts{}, provider, &fakeEnqueuer{}, "")

	err := s.ProvisionHandler()(context.Background(), []byte(`{"org_id":"org-1","user_id":"u-1","currency":"usd"}`))
	if err == nil {
		t.Fatal("provision handler error = nil, want stamp failure")
	}
	// The customer id must be durable before the external subscription
	// exists, so the retry resumes instead of creating a second trial.
	if len(provider.trialsFor) != 0 {
		t.Errorf("trial created before customer id was stamped: %v", provider.trialsFor)
	}
}

func TestSweepExpiredTrialsContinuesPastFailures(t *testing.T) {
	store := &fakeBillingStore{expired: []*Subscription{
		{ID: "s1", OrgID: "org-1", StripeID: "sub_1"},
		{ID: "s2", OrgID: "org-2", StripeID: "sub_2"},
	}}
	provider := &fakeProvider{endTrialErr: map[string]error{"sub_1": errors.New("processor down")}}
	s := NewService(fakeDB{}, store, &fakeAccounts{}, provider, &fakeEnqueuer{}, "")

	if err := s.SweepExpiredTrials(context.Background()); err != nil {
		t.Fatalf("SweepExpiredTrials() error = %v", err)
	}
	if len(store.synced) != 1 || store.synced[0] != "s2" {
		t.Errorf("synced = %v, want [s2]", store.synced)
	}
}

func TestProrationFigures(t *testing.T) {
	tests := []struct {
		name            string
		priceValue      int64
		startingBalance int64
		newPrice        float64
		discount        float64
		credits         float64
	}{
		{"no balance", 1990, 0, 19.90, 0, 0},
		{"partial credit", 1990, -500, 14.90, 5.00, 0},
		{"exact credit", 1990, -1990, 0, 19.90, 0},
		{"credit exceeds price", 1990, -2500, -5.10, 25.00, 5.10},
		{"positive balance owed", 1990, 300, 22.90, -3.00, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newPrice, discount, credits := prorationFigures(tt.priceValue, tt.startingBalance)
			if newPrice != tt.newPrice {
				t.Errorf("newPrice = %v, want %v", newPrice, tt.newPrice)
			}
			if discount != tt.discount {
				t.Errorf("discount = %v, want %v", discount, tt.discount)
			}
			if credits != tt.credits {
				t.Errorf("credits = %v, want %v", credits, tt.credits)
			}
		})
	}
}

func TestCheckoutInputNormalize(t *testing.T) {
	in := CheckoutInput{PlanKey: PlanPro, Interval: IntervalMonth, Currency: CurrencyUSD}
	in.normalize()
	if in.Seats != 1 {
		t.Errorf("Seats = %d, want 1", in.Seats)
	}

	in = CheckoutInput{Seats: 4}
	in.normalize()
	if in.Seats != 4 {
		t.Errorf("Seats = %d, want 4", in.Seats)
	}
}

func TestPriceTableLookup(t *testing.T) {
	table := PriceTable{
		IntervalMonth: {CurrencyUSD: {StripeID: "price_month_usd", Amount: 1990}},
		IntervalYear:  {CurrencyEUR: {StripeID: "price_year_eur", Amount: 19900}},
	}

	p, ok := table.Lookup(IntervalMonth, CurrencyUSD)
	if !ok || p.StripeID != "price_month_usd" {
		t.Errorf("Lookup(month, usd) = %+v, %v", p, ok)
	}
	if _, ok := table.Lookup(IntervalYear, CurrencyUSD); ok {
		t.Error("Lookup(year, usd) should miss")
	}
}
