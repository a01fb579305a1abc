package user

import "time"

// Organization roles a membership can carry.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership statuses.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Membership is a user's relationship to one organization. The full list is
// stored as a JSONB column on the user row.
type Membership struct {
	OrgID     string     `json:"org_id"`
	Role      string     `json:"role"`   // "owner", "admin" or "member"
	Status    string     `json:"status"` // "pending", "active" or "disabled"
	InvitedBy string     `json:"invited_by,omitempty"`
	InvitedAt *time.Time `json:"invited_at,omitempty"`
}

// User represents a registered account. Placeholder users created by email
// invitation have an empty password hash until they complete signup.
type User struct {
	ID                   string       `json:"id"`
	Email                string       `json:"email"`
	PasswordHash         string       `json:"-"`
	EmailVerified        bool         `json:"email_verified"`
	EmailVerifiedAt      *time.Time   `json:"email_verified_at,omitempty"`
	Name                 string       `json:"name"`
	FirstName            string       `json:"first_name"`
	LastName             string       `json:"last_name"`
	Image                string       `json:"image,omitempty"`
	Phone                string       `json:"phone,omitempty"`
	Color                string       `json:"color"`
	Memberships          []Membership `json:"org_memberships"`
	ActiveOrgID          string       `json:"active_org_id"`
	IsOnboardingComplete bool         `json:"is_onboarding_complete"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// CreateUserInput holds the fields required to create a new user.
type CreateUserInput struct {
	Email       string       `json:"email"`
	Password    string       `json:"password"`
	Name        string       `json:"name"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	Image       string       `json:"image"`
	Phone       string       `json:"phone"`
	Memberships []Membership `json:"org_memberships"`
	ActiveOrgID string       `json:"active_org_id"`
}

// UpdateUserInput holds optional fields for a partial user update.
type UpdateUserInput struct {
	Email                *string       `json:"email,omitempty"`
	Password             *string       `json:"password,omitempty"`
	Name                 *string       `json:"name,omitempty"`
	FirstName            *string       `json:"first_name,omitempty"`
	LastName             *string       `json:"last_name,omitempty"`
	Image                *string       `json:"image,omitempty"`
	Phone                *string       `json:"phone,omitempty"`
	Memberships          *[]Membership `json:"org_memberships,omitempty"`
	ActiveOrgID          *string       `json:"active_org_id,omitempty"`
	IsOnboardingComplete *bool         `json:"is_onboarding_complete,omitempty"`
}

// Session represents an active login session.
type Session struct {
	TokenHash  string    `json:"-"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// MembershipFor returns the index of the membership for orgID, or -1.
func MembershipFor(ms []Membership, orgID string) int {
	for i, m := range ms {
		if m.OrgID == orgID {
			return i
		}
	}
	return -1
}

// HasOrg reports whether the user holds a membership (any status) in orgID.
func (u *User) HasOrg(orgID string) bool {
	return MembershipFor(u.Memberships, orgID) >= 0
}

// CanManage reports whether the user is an owner or admin of orgID.
func (u *User) CanManage(orgID string) bool {
	i := MembershipFor(u.Memberships, orgID)
	if i < 0 {
		return false
	}
	role := u.Memberships[i].Role
	return role == RoleOwner || role == RoleAdmin
}

// AppendMembership returns the list with m added, or the original list and
// false when a membership for the same organization already exists.
func AppendMembership(ms []Membership, m Membership) ([]Membership, bool) {
	if MembershipFor(ms, m.OrgID) >= 0 {
		return ms, false
	}
	out := make([]Membership, len(ms), len(ms)+1)
	copy(out, ms)
	return append(out, m), true
}

// RemoveMembership returns the list with the orgID entry spliced out. The
// second return reports whether an entry was removed.
func RemoveMembership(ms []Membership, orgID string) ([]Membership, bool) {
	i := MembershipFor(ms, orgID)
	if i < 0 {
		return ms, false
	}
	out := make([]Membership, 0, len(ms)-1)
	out = append(out, ms[:i]...)
	out = append(out, ms[i+1:]...)
	return out, true
}

// ActivateMembership flips the orgID entry to active status. Returns false
// when no entry exists.
func ActivateMembership(ms []Membership, orgID string) bool {
	i := MembershipFor(ms, orgID)
	if i < 0 {
		return false
	}
	ms[i].Status = StatusActive
	return true
}

// NextActiveOrg picks the organization a user should fall back to after
// losing access to excludeOrgID: the first remaining membership, or "".
func NextActiveOrg(ms []Membership, excludeOrgID string) string {
	for _, m := range ms {
		if m.OrgID != excludeOrgID {
			return m.OrgID
		}
	}
	return ""
}
