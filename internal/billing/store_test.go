package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scriptQuerier feeds canned rows to QueryRow calls in order and records
// every statement it sees.
type scriptQuerier struct {
	rows  []pgx.Row
	sqls  []string
	execs []string
}

func (s *scriptQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (s *scriptQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	s.sqls = append(s.sqls, sql)
	return nil, errors.New("unexpected Query")
}

func (s *scriptQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.sqls = append(s.sqls, sql)
	if len(s.rows) == 0 {
		return errRow{errors.New("no scripted row")}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// subRow scans a canned subscription in column order.
type subRow struct{ sub Subscription }

func (r subRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.sub.ID
	*dest[1].(*string) = r.sub.OrgID
	*dest[2].(*string) = r.sub.PlanID
	*dest[3].(*string) = r.sub.PriceStripeID
	*dest[4].(*string) = r.sub.StripeID
	*dest[5].(*string) = r.sub.Currency
	*dest[6].(*string) = r.sub.Interval
	*dest[7].(*string) = r.sub.Status
	*dest[8].(*time.Time) = r.sub.CurrentPeriodStart
	*dest[9].(*time.Time) = r.sub.CurrentPeriodEnd
	*dest[10].(*bool) = r.sub.CancelAtPeriodEnd
	*dest[11].(*int) = r.sub.Seats
	*dest[12].(*string) = r.sub.PaymentIntentID
	*dest[13].(*time.Time) = r.sub.CreatedAt
	return nil
}

func TestCreateSubscriptionRejectsSecond(t *testing.T) {
	q := &scriptQuerier{rows: []pgx.Row{
		subRow{Subscription{ID: "s1", OrgID: "org-1", Status: StatusActive}},
	}}

	_, err := NewStore().CreateSubscription(context.Background(), q, &Subscription{OrgID: "org-1"})
	if !errors.Is(err, ErrSubscriptionExists) {
		t.Fatalf("CreateSubscription() error = %v, want ErrSubscriptionExists", err)
	}
	// The insert must never reach the database once the existing row is seen.
	for _, sql := range q.sqls[1:] {
		if strings.Contains(sql, "INSERT") {
			t.Errorf("second subscription was inserted: %s", sql)
		}
	}
}

func TestReplaceSubscriptionDeletesBeforeInsert(t *testing.T) {
	q := &scriptQuerier{rows: []pgx.Row{
		errRow{pgx.ErrNoRows},
		subRow{Subscription{ID: "s2", OrgID: "org-1", StripeID: "sub_new", Status: StatusActive, Seats: 3}},
	}}

	sub, err := NewStore().ReplaceSubscription(context.Background(), q, &Subscription{OrgID: "org-1", StripeID: "sub_new", Seats: 3})
	if err != nil {
		t.Fatalf("ReplaceSubscription() error = %v", err)
	}
	if sub.StripeID != "sub_new" || sub.Seats != 3 {
		t.Errorf("replaced subscription = %+v", sub)
	}
	if len(q.execs) != 1 || !strings.Contains(q.execs[0], "DELETE FROM subscriptions") {
		t.Fatalf("expected one wholesale delete, got %v", q.execs)
	}
}
