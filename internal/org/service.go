package org

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/storage"
	"github.com/quartershq/quarters/internal/user"
)

// taskEnqueuer records deferred side effects inside the caller's
// transaction. Satisfied by *outbox.Store.
type taskEnqueuer interface {
	Enqueue(ctx context.Context, q database.Querier, kind string, payload any, idempotencyKey string) error
}

// orgStore is the organization persistence the service uses. Satisfied by
// *Store.
type orgStore interface {
	Create(ctx context.Context, q database.Querier, o *Organization) (*Organization, error)
	Get(ctx context.Context, q database.Querier, id string) (*Organization, error)
	GetBySlug(ctx context.Context, q database.Querier, slug string) (*Organization, error)
	GetMany(ctx context.Context, q database.Querier, ids []string) ([]*Organization, error)
	SlugExists(ctx context.Context, q database.Querier, slug, excludeID string) (bool, error)
	Update(ctx context.Context, q database.Querier, id string, in UpdateInput, slug, updatedBy string) (*Organization, error)
	SetJoinCode(ctx context.Context, q database.Querier, id, code string) error
	Delete(ctx context.Context, q database.Querier, id string) error
}

// userDirectory is the user persistence the service needs. Satisfied by
// *user.Store.
type userDirectory interface {
	GetByID(ctx context.Context, q database.Querier, id string) (*user.User, error)
	ListByOrg(ctx context.Context, q database.Querier, orgID string) ([]*user.User, error)
	SetMemberships(ctx context.Context, q database.Querier, id string, ms []user.Membership) error
	SetActiveOrg(ctx context.Context, q database.Querier, id, orgID string) error
}

// subscriptionMirror is the billing persistence deletion and the active-org
// view touch. Satisfied by *billing.Store.
type subscriptionMirror interface {
	GetSubscriptionWithPlan(ctx context.Context, q database.Querier, orgID string) (*billing.SubscriptionWithPlan, error)
	DeleteSubscriptionByOrg(ctx context.Context, q database.Querier, orgID string) error
}

// blobStore removes uploaded blobs. Satisfied by *storage.Store.
type blobStore interface {
	Delete(ctx context.Context, q database.Querier, id string) error
}

// Service implements organization lifecycle operations. Multi-entity
// mutations run in one transaction; external side effects go through the
// outbox.
type Service struct {
	pool    database.DB
	orgs    orgStore
	users   userDirectory
	billing subscriptionMirror
	files   blobStore
	tasks   taskEnqueuer
	siteURL string
}

// NewService wires the organization service.
func NewService(pool database.DB, orgs orgStore, users userDirectory, billingStore subscriptionMirror, files blobStore, tasks taskEnqueuer, siteURL string) *Service {
	return &Service{
		pool:    pool,
		orgs:    orgs,
		users:   users,
		billing: billingStore,
		files:   files,
		tasks:   tasks,
		siteURL: siteURL,
	}
}

// Create inserts an organization with the caller as owner, makes it the
// caller's active organization, and appends an owner/active membership. The
// slug must not be reserved or already in use (case-insensitive).
func (s *Service) Create(ctx context.Context, caller *user.User, in CreateInput) (*Organization, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if slug == "" {
		slug = Slugify(in.Name)
	}
	if IsReservedSlug(slug) {
		return nil, ErrSlugReserved
	}

	var created *Organization
	err := database.WithTx(ctx, s.pool, func(q database.Querier) error {
		taken, err := s.orgs.SlugExists(ctx, q, slug, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrSlugTaken
		}

		created, err = s.orgs.Create(ctx, q, &Organization{
			Name:     in.Name,
			Slug:     slug,
			Color:    user.RandomColor(),
			Image:    in.Image,
			OwnerID:  caller.ID,
			JoinCode: NewJoinCode(),
			Plan:     in.Plan,
		})
		if err != nil {
			return err
		}

		memberships, _ := user.AppendMembership(caller.Memberships, user.Membership{
			OrgID:  created.ID,
			Role:   user.RoleOwner,
			Status: user.StatusActive,
		})
		if err := s.users.SetMemberships(ctx, q, caller.ID, memberships); err != nil {
			return err
		}
		return s.users.SetActiveOrg(ctx, q, caller.ID, created.ID)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("organization created", "org_id", created.ID, "slug", created.Slug, "owner_id", caller.ID)
	return created, nil
}

// GetActive loads the caller's active organization with its subscription,
// plan and resolved image URL. Returns (nil, nil) when the caller has no
// active organization; a dangling active id is treated the same way.
func (s *Service) GetActive(ctx context.Context, caller *user.User) (*ActiveOrganization, error) {
	if caller.ActiveOrgID == "" {
		return nil, nil
	}

	o, err := s.orgs.Get(ctx, s.pool, caller.ActiveOrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	active := &ActiveOrganization{
		Organization: *o,
		ImageURL:     s.ResolveImageURL(o.Image),
	}

	sub, err := s.billing.GetSubscriptionWithPlan(ctx, s.pool, o.ID)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return nil, err
	}
	active.Subscription = sub
	return active, nil
}

// Get returns an organization by id.
func (s *Service) Get(ctx context.Context, id string) (*Organization, error) {
	return s.orgs.Get(ctx, s.pool, id)
}

// GetBySlug returns an organization by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.orgs.GetBySlug(ctx, s.pool, slug)
}

// Update applies field changes. The caller must be a member of the
// organization. A name change re-derives the slug, which must pass the same
// reserved and uniqueness checks as creation.
func (s *Service) Update(ctx context.Context, caller *user.User, id string, in UpdateInput) (*Organization, error) {
	if !caller.HasOrg(id) {
		return nil, ErrForbidden
	}

	slug := ""
	if in.Name != nil {
		slug = Slugify(*in.Name)
		if IsReservedSlug(slug) {
			return nil, ErrSlugReserved
		}
	}

	var updated *Organization
	err := database.WithTx(ctx, s.pool, func(q database.Querier) error {
		if slug != "" {
			taken, err := s.orgs.SlugExists(ctx, q, slug, id)
			if err != nil {
				return err
			}
			if taken {
				return ErrSlugTaken
			}
		}
		var err error
		updated, err = s.orgs.Update(ctx, q, id, in, slug, caller.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an organization and everything hanging off it: the
// subscription mirror, the uploaded image blob, the organization entry in
// every member's membership list, and each affected member's active
// organization if it pointed at the deleted tenant. External subscription
// cancellation is enqueued on the
// outbox so the delete commits regardless of processor availability.
func (s *Service) Delete(ctx context.Context, caller *user.User, id string) (*DeleteResult, error) {
	if !caller.CanManage(id) {
		return nil, ErrForbidden
	}

	result := &DeleteResult{DeletedOrgID: id}
	err := database.WithTx(ctx, s.pool, func(q database.Querier) error {
		o, err := s.orgs.Get(ctx, q, id)
		if err != nil {
			return err
		}

		members, err := s.users.ListByOrg(ctx, q, id)
		if err != nil {
			return err
		}
		for _, m := range members {
			remaining, removed := user.RemoveMembership(m.Memberships, id)
			if !removed {
				continue
			}
			if err := s.users.SetMemberships(ctx, q, m.ID, remaining); err != nil {
				return err
			}
			if m.ActiveOrgID == id {
				next := user.NextActiveOrg(m.Memberships, id)
				if err := s.users.SetActiveOrg(ctx, q, m.ID, next); err != nil {
					return err
				}
				if m.ID == caller.ID && next != "" {
					newOrg, err := s.orgs.Get(ctx, q, next)
					if err != nil && !errors.Is(err, ErrNotFound) {
						return err
					}
					result.NewActiveOrg = newOrg
				}
			}
		}

		if err := s.billing.DeleteSubscriptionByOrg(ctx, q, id); err != nil {
			return err
		}
		if err := s.orgs.Delete(ctx, q, id); err != nil {
			return err
		}
		if blobID, ok := storage.IDFromRef(o.Image); ok {
			if err := s.files.Delete(ctx, q, blobID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		if o.CustomerID != "" {
			payload := map[string]string{"org_id": id, "customer_id": o.CustomerID}
			key := fmt.Sprintf("cancel:%s", id)
			if err := s.tasks.Enqueue(ctx, q, outbox.KindBillingCancelSubs, payload, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("organization deleted", "org_id", id, "caller_id", caller.ID)
	return result, nil
}

// RefreshJoinCode rotates the join code. The caller must be owner or admin
// of the target organization.
func (s *Service) RefreshJoinCode(ctx context.Context, caller *user.User, orgID string) (string, error) {
	if !caller.CanManage(orgID) {
		return "", ErrForbidden
	}
	code := NewJoinCode()
	if err := s.orgs.SetJoinCode(ctx, s.pool, orgID, code); err != nil {
		return "", err
	}
	return code, nil
}

// SetActive switches the caller's active organization. The caller must hold
// a membership in the target.
func (s *Service) SetActive(ctx context.Context, caller *user.User, orgID string) error {
	if !caller.HasOrg(orgID) {
		return ErrForbidden
	}
	return s.users.SetActiveOrg(ctx, s.pool, caller.ID, orgID)
}

// SetActiveBySlug resolves the slug and switches the user's active
// organization after verifying membership.
func (s *Service) SetActiveBySlug(ctx context.Context, userID, slug string) (*Organization, error) {
	o, err := s.orgs.GetBySlug(ctx, s.pool, slug)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	if !u.HasOrg(o.ID) {
		return nil, ErrForbidden
	}
	if err := s.users.SetActiveOrg(ctx, s.pool, userID, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListForUser returns the organizations a user belongs to, optionally
// filtered by membership status.
func (s *Service) ListForUser(ctx context.Context, userID, status string) ([]*Organization, error) {
	u, err := s.users.GetByID(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range u.Memberships {
		if status == "" || m.Status == status {
			ids = append(ids, m.OrgID)
		}
	}
	return s.orgs.GetMany(ctx, s.pool, ids)
}

// CheckSlug reports whether any of the user's organizations uses the slug.
func (s *Service) CheckSlug(ctx context.Context, userID, slug string) (bool, error) {
	orgs, err := s.ListForUser(ctx, userID, "")
	if err != nil {
		return false, err
	}
	for _, o := range orgs {
		if strings.EqualFold(o.Slug, slug) {
			return true, nil
		}
	}
	return false, nil
}

// ResolveImageURL turns a stored image reference into a fetchable URL.
// References are stored as a relative retrieval path so blobs can move
// without rewriting organization rows; absolute URLs pass through.
func (s *Service) ResolveImageURL(image string) string {
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "/") {
		return s.siteURL + image
	}
	return image
}
