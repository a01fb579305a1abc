// Package member implements organization membership: join-code joins,
// pending-member acceptance, removal, and email invitations.
package member

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quartershq/quarters/internal/database"
	"github.com/quartershq/quarters/internal/notification"
	"github.com/quartershq/quarters/internal/org"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/user"
)

var (
	// ErrNotFound is returned when the user or organization does not exist.
	ErrNotFound = errors.New("user or organization not found")
	// ErrAlreadyMember is returned when the user already holds a membership
	// in the organization.
	ErrAlreadyMember = errors.New("user already in organization")
	// ErrInvalidJoinCode is returned when the submitted code does not match
	// the organization's current join code.
	ErrInvalidJoinCode = errors.New("invalid join code")
	// ErrNoMembership is returned when an accept or remove targets a user
	// with no membership entry for the organization.
	ErrNoMembership = errors.New("user has no membership in this organization")
)

// taskEnqueuer records deferred side effects inside the caller's
// transaction. Satisfied by *outbox.Store.
type taskEnqueuer interface {
	Enqueue(ctx context.Context, q database.Querier, kind string, payload any, idempotencyKey string) error
}

// userDirectory is the user persistence membership needs. Satisfied by
// *user.Store.
type userDirectory interface {
	GetByID(ctx context.Context, q database.Querier, id string) (*user.User, error)
	GetByEmail(ctx context.Context, q database.Querier, email string) (*user.User, error)
	Create(ctx context.Context, q database.Querier, in user.CreateUserInput) (*user.User, error)
	SetMemberships(ctx context.Context, q database.Querier, id string, ms []user.Membership) error
	SetActiveOrg(ctx context.Context, q database.Querier, id, orgID string) error
	ListByOrg(ctx context.Context, q database.Querier, orgID string) ([]*user.User, error)
}

// orgDirectory resolves organizations. Satisfied by *org.Store.
type orgDirectory interface {
	Get(ctx context.Context, q database.Querier, id string) (*org.Organization, error)
}

// noticeWriter inserts in-app notifications. Satisfied by
// *notification.Store.
type noticeWriter interface {
	Create(ctx context.Context, q database.Querier, in notification.CreateInput) (*notification.Notification, error)
}

// Service implements membership operations.
type Service struct {
	pool          database.DB
	users         userDirectory
	orgs          orgDirectory
	notifications noticeWriter
	tasks         taskEnqueuer
	siteURL       string
}

// NewService wires the membership service.
func NewService(pool database.DB, users userDirectory, orgs orgDirectory, notifications noticeWriter, tasks taskEnqueuer, siteURL string) *Service {
	return &Service{
		pool:          pool,
		users:         users,
		orgs:          orgs,
		notifications: notifications,
		tasks:         tasks,
		siteURL:       siteURL,
	}
}

// Join adds a user to an organization via its join code. The new membership
// is member/pending; a request notification addressed to the organization
// lets an owner or admin accept it.
func (s *Service) Join(ctx context.Context, userID, orgID, code string) error {
	return database.WithTx(ctx, s.pool, func(q database.Querier) error {
		u, err := s.users.GetByID(ctx, q, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		o, err := s.orgs.Get(ctx, q, orgID)
		if err != nil {
			if errors.Is(err, org.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		if u.HasOrg(orgID) {
			return ErrAlreadyMember
		}
		if !org.JoinCodeMatches(o.JoinCode, code) {
			return ErrInvalidJoinCode
		}

		memberships, _ := user.AppendMembership(u.Memberships, user.Membership{
			OrgID:  orgID,
			Role:   user.RoleMember,
			Status: user.StatusPending,
		})
		if err := s.users.SetMemberships(ctx, q, userID, memberships); err != nil {
			return err
		}

		_, err = s.notifications.Create(ctx, q, notification.CreateInput{
			OrgID:         orgID,
			Kind:          notification.KindRequest,
			Type:          "org:join",
			Message:       fmt.Sprintf("%s has requested to join %s", u.Name, o.Name),
			RequestUserID: userID,
		})
		return err
	})
}

// Accept promotes a pending membership to active and notifies the accepted
// user. The caller must be owner or admin of the organization.
func (s *Service) Accept(ctx context.Context, caller *user.User, orgID, userID string) error {
	if !caller.CanManage(orgID) {
		return org.ErrForbidden
	}

	return database.WithTx(ctx, s.pool, func(q database.Querier) error {
		u, err := s.users.GetByID(ctx, q, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		o, err := s.orgs.Get(ctx, q, orgID)
		if err != nil {
			if errors.Is(err, org.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !user.ActivateMembership(u.Memberships, orgID) {
			return ErrNoMembership
		}
		if err := s.users.SetMemberships(ctx, q, userID, u.Memberships); err != nil {
			return err
		}

		_, err = s.notifications.Create(ctx, q, notification.CreateInput{
			OrgID:   orgID,
			UserID:  userID,
			Kind:    notification.KindNotification,
			Type:    "org:accepted",
			Message: fmt.Sprintf("You are now a member of %s", o.Name),
		})
		return err
	})
}

// Remove splices the organization out of the user's membership list. The
// caller must be owner or admin, or be removing themselves. Removing a user
// whose active organization was the target reassigns it to the first
// remaining membership.
func (s *Service) Remove(ctx context.Context, caller *user.User, orgID, userID string) error {
	if caller.ID != userID && !caller.CanManage(orgID) {
		return org.ErrForbidden
	}

	return database.WithTx(ctx, s.pool, func(q database.Querier) error {
		u, err := s.users.GetByID(ctx, q, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		remaining, removed := user.RemoveMembership(u.Memberships, orgID)
		if !removed {
			return nil
		}
		if err := s.users.SetMemberships(ctx, q, userID, remaining); err != nil {
			return err
		}
		if u.ActiveOrgID == orgID {
			return s.users.SetActiveOrg(ctx, q, userID, user.NextActiveOrg(u.Memberships, orgID))
		}
		return nil
	})
}

// ListMembers returns everyone holding a membership in the organization.
// The caller must be a member.
func (s *Service) ListMembers(ctx context.Context, caller *user.User, orgID string) ([]*user.User, error) {
	if !caller.HasOrg(orgID) {
		return nil, org.ErrForbidden
	}
	return s.users.ListByOrg(ctx, s.pool, orgID)
}

// Invitation is one email/role pair in an invite batch.
type Invitation struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteResult reports the outcome for one invitation. A skipped entry does
// not fail the batch.
type InviteResult struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// invitationEmail is the outbox payload for one invitation email.
type invitationEmail struct {
	Email          string `json:"email"`
	OrgID          string `json:"org_id"`
	OrgName        string `json:"org_name"`
	OrgImage       string `json:"org_image,omitempty"`
	InvitedByName  string `json:"invited_by_name"`
	InvitedByEmail string `json:"invited_by_email"`
	InviterImage   string `json:"inviter_image,omitempty"`
	InviteLink     string `json:"invite_link"`
}

// Invite processes a batch of invitations against the caller's active
// organization. Known emails get a pending membership with the given role;
// unknown emails get a placeholder account pre-provisioned with the
// membership. Entries for existing members are skipped and reported.
// Emails are enqueued in the same transaction, one task per processed
// recipient, so membership writes and their notices commit together.
func (s *Service) Invite(ctx context.Context, caller *user.User, invitations []Invitation) ([]InviteResult, error) {
	orgID := caller.ActiveOrgID
	if orgID == "" {
		return nil, ErrNotFound
	}
	if !caller.CanManage(orgID) {
		return nil, org.ErrForbidden
	}

	var results []InviteResult
	err := database.WithTx(ctx, s.pool, func(q database.Querier) error {
		results = results[:0]

		o, err := s.orgs.Get(ctx, q, orgID)
		if err != nil {
			if errors.Is(err, org.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		inviteLink := fmt.Sprintf("%s/organization/join/%s", s.siteURL, orgID)

		for _, inv := range invitations {
			email := strings.ToLower(strings.TrimSpace(inv.Email))
			role := inv.Role
			if role != user.RoleAdmin && role != user.RoleMember {
				role = user.RoleMember
			}

			invitedAt := time.Now()
			ok, err := s.inviteOne(ctx, q, orgID, email, role, caller.ID, invitedAt)
			if err != nil {
				return err
			}
			if !ok {
				results = append(results, InviteResult{
					Email: email, Role: role, Success: false,
					Message: "user already in organization",
				})
				continue
			}

			payload := invitationEmail{
				Email:          email,
				OrgID:          orgID,
				OrgName:        o.Name,
				OrgImage:       o.Image,
				InvitedByName:  caller.Name,
				InvitedByEmail: caller.Email,
				InviterImage:   caller.Image,
				InviteLink:     inviteLink,
			}
			if err := s.tasks.Enqueue(ctx, q, outbox.KindEmailInvitation, payload, inviteTaskKey(orgID, email, invitedAt)); err != nil {
				return err
			}

			results = append(results, InviteResult{
				Email: email, Role: role, Success: true,
				Message: "user invited",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("invitations processed", "org_id", orgID, "count", len(results), "caller_id", caller.ID)
	return results, nil
}

// inviteTaskKey scopes the email task to one invitation instance. Finished
// outbox tasks stay in the table, so a key carrying only org and email would
// collide forever and silently drop the email when a removed user is
// re-invited.
func inviteTaskKey(orgID, email string, invitedAt time.Time) string {
	return fmt.Sprintf("invite:%s:%s:%d", orgID, email, invitedAt.UnixNano())
}

// inviteOne appends the pending membership, creating a placeholder account
// for unknown emails. Returns false when the email already holds a
// membership in the organization.
func (s *Service) inviteOne(ctx context.Context, q database.Querier, orgID, email, role, invitedBy string, invitedAt time.Time) (bool, error) {
	m := user.Membership{
		OrgID:     orgID,
		Role:      role,
		Status:    user.StatusPending,
		InvitedBy: invitedBy,
		InvitedAt: &invitedAt,
	}

	existing, err := s.users.GetByEmail(ctx, q, email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	if existing != nil {
		if existing.HasOrg(orgID) {
			return false, nil
		}
		memberships, _ := user.AppendMembership(existing.Memberships, m)
		return true, s.users.SetMemberships(ctx, q, existing.ID, memberships)
	}

	_, err = s.users.Create(ctx, q, user.CreateUserInput{
		Email:       email,
		Memberships: []user.Membership{m},
		ActiveOrgID: orgID,
	})
	return err == nil, err
}
