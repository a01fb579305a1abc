package org

import (
	"errors"
	"time"

	"github.com/quartershq/quarters/internal/billing"
)

var (
	// ErrNotFound is returned when an organization does not exist.
	ErrNotFound = errors.New("organization not found")
	// ErrSlugReserved is returned when the slug collides with an application
	// route.
	ErrSlugReserved = errors.New("organization slug is not allowed")
	// ErrSlugTaken is returned when another organization already uses the
	// slug.
	ErrSlugTaken = errors.New("organization with that slug already exists")
	// ErrForbidden is returned when the caller lacks the membership or role
	// an operation requires.
	ErrForbidden = errors.New("caller does not have access to this organization")
)

// Organization is a tenant. Members are tracked on the user rows; the
// organization itself only knows its owner.
type Organization struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Color       string     `json:"color"`
	Image       string     `json:"image,omitempty"`
	OwnerID     string     `json:"owner_id"`
	JoinCode    string     `json:"join_code,omitempty"`
	Plan        string     `json:"plan,omitempty"`
	CustomerID  string     `json:"-"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	UpdatedTime *time.Time `json:"updated_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateInput is the payload for creating an organization.
type CreateInput struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Image string `json:"image,omitempty"`
	Plan  string `json:"plan,omitempty"`
}

// UpdateInput carries optional field updates. A name update re-derives the
// slug.
type UpdateInput struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
	Color *string `json:"color,omitempty"`
}

// ActiveOrganization is the read model for the caller's active tenant: the
// organization, its subscription joined with the plan, and the image
// resolved to a fetchable URL.
type ActiveOrganization struct {
	Organization
	ImageURL     string                        `json:"image_url,omitempty"`
	Subscription *billing.SubscriptionWithPlan `json:"subscription,omitempty"`
}

// DeleteResult reports where the caller landed after deleting an
// organization.
type DeleteResult struct {
	DeletedOrgID string        `json:"deleted_org_id"`
	NewActiveOrg *Organization `json:"new_active_org,omitempty"`
}
