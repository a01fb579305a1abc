package org

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quartershq/quarters/internal/billing"
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

type fakeOrgStore struct {
	orgs    map[string]*Organization
	deleted []string
}

func (f *fakeOrgStore) Create(_ context.Context, _ database.Querier, o *Organization) (*Organization, error) {
	return o, nil
}

func (f *fakeOrgStore) Get(_ context.Context, _ database.Querier, id string) (*Organization, error) {
	o, ok := f.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (f *fakeOrgStore) GetBySlug(context.Context, database.Querier, string) (*Organization, error) {
	return nil, ErrNotFound
}

func (f *fakeOrgStore) GetMany(context.Context, database.Querier, []string) ([]*Organization, error) {
	return nil, nil
}

func (f *fakeOrgStore) SlugExists(context.Context, database.Querier, string, string) (bool, error) {
	return false, nil
}

func (f *fakeOrgStore) Update(_ context.Context, _ database.Querier, id string, _ UpdateInput, _, _ string) (*Organization, error) {
	return f.orgs[id], nil
}

func (f *fakeOrgStore) SetJoinCode(context.Context, database.Querier, string, string) error {
	return nil
}

func (f *fakeOrgStore) Delete(_ context.Context, _ database.Querier, id string) error {
	if _, ok := f.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(f.orgs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeUserDir struct {
	members     []*user.User
	memberships map[string][]user.Membership
	active      map[string]string
}

func (f *fakeUserDir) GetByID(context.Context, database.Querier, string) (*user.User, error) {
	return nil, user.ErrNotFound
}

func (f *fakeUserDir) ListByOrg(context.Context, database.Querier, string) ([]*user.User, error) {
	return f.members, nil
}

func (f *fakeUserDir) SetMemberships(_ context.Context, _ database.Querier, id string, ms []user.Membership) error {
	if f.memberships == nil {
		f.memberships = map[string][]user.Membership{}
	}
	f.memberships[id] = ms
	return nil
}

func (f *fakeUserDir) SetActiveOrg(_ context.Context, _ database.Querier, id, orgID string) error {
	if f.active == nil {
		f.active = map[string]string{}
	}
	f.active[id] = orgID
	return nil
}

type fakeMirror struct{ deleted []string }

func (f *fakeMirror) GetSubscriptionWithPlan(context.Context, database.Querier, string) (*billing.SubscriptionWithPlan, error) {
	return nil, billing.ErrNotFound
}

func (f *fakeMirror) DeleteSubscriptionByOrg(_ context.Context, _ database.Querier, orgID string) error {
	f.deleted = append(f.deleted, orgID)
	return nil
}

type fakeBlobs struct{ deleted []string }

func (f *fakeBlobs) Delete(_ context.Context, _ database.Querier, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
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

func TestDeleteCascadesAndReassignsActiveOrg(t *testing.T) {
	caller := &user.User{
		ID:          "u-owner",
		ActiveOrgID: "org-1",
		Memberships: []user.Membership{
			{OrgID: "org-1", Role: user.RoleOwner, Status: user.StatusActive},
			{OrgID: "org-2", Role: user.RoleMember, Status: user.StatusActive},
		},
	}
	soleMember := &user.User{
		ID:          "u-sole",
		ActiveOrgID: "org-1",
		Memberships: []user.Membership{
			{OrgID: "org-1", Role: user.RoleMember, Status: user.StatusActive},
		},
	}

	orgs := &fakeOrgStore{orgs: map[string]*Organization{
		"org-1": {ID: "org-1", Name: "Acme", CustomerID: "cus_1", Image: "/getImage?storageId=blob-1"},
		"org-2": {ID: "org-2", Name: "Beta"},
	}}
	users := &fakeUserDir{members: []*user.User{caller, soleMember}}
	mirror := &fakeMirror{}
	blobs := &fakeBlobs{}
	tasks := &fakeEnqueuer{}
	s := NewService(fakeDB{}, orgs, users, mirror, blobs, tasks, "https://quarters.test")

	result, err := s.Delete(context.Background(), caller, "org-1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if result.DeletedOrgID != "org-1" {
		t.Errorf("DeletedOrgID = %q", result.DeletedOrgID)
	}
	if result.NewActiveOrg == nil || result.NewActiveOrg.ID != "org-2" {
		t.Errorf("NewActiveOrg = %+v, want org-2", result.NewActiveOrg)
	}

	// Every member loses the membership; active orgs pointing at the
	// deleted tenant move to the next membership or empty out.
	if got := users.active["u-owner"]; got != "org-2" {
		t.Errorf("owner active org = %q, want org-2", got)
	}
	if got, ok := users.active["u-sole"]; !ok || got != "" {
		t.Errorf("sole member active org = %q (set=%v), want cleared", got, ok)
	}
	for id, ms := range users.memberships {
		for _, m := range ms {
			if m.OrgID == "org-1" {
				t.Errorf("user %s still holds a membership in the deleted org", id)
			}
		}
	}

	if len(mirror.deleted) != 1 || mirror.deleted[0] != "org-1" {
		t.Errorf("subscription mirror deletions = %v, want [org-1]", mirror.deleted)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "blob-1" {
		t.Errorf("blob deletions = %v, want [blob-1]", blobs.deleted)
	}
	if len(orgs.deleted) != 1 || orgs.deleted[0] != "org-1" {
		t.Errorf("organization deletions = %v, want [org-1]", orgs.deleted)
	}
	if len(tasks.kinds) != 1 || tasks.kinds[0] != outbox.KindBillingCancelSubs {
		t.Fatalf("enqueued kinds = %v, want [%s]", tasks.kinds, outbox.KindBillingCancelSubs)
	}
	if tasks.keys[0] != "cancel:org-1" {
		t.Errorf("task key = %q, want cancel:org-1", tasks.keys[0])
	}
}

func TestDeleteRequiresManager(t *testing.T) {
	caller := &user.User{
		ID:          "u-member",
		ActiveOrgID: "org-1",
		Memberships: []user.Membership{
			{OrgID: "org-1", Role: user.RoleMember, Status: user.StatusActive},
		},
	}
	s := NewService(nil, nil, nil, nil, nil, nil, "")

	if _, err := s.Delete(context.Background(), caller, "org-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete() error = %v, want ErrForbidden", err)
	}
}
