package notification

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = errors.New("notification not found")

// Notification kinds. Plain notifications address one user; requests are
// visible to everyone with access to the organization (join requests that
// an owner or admin acts on).
const (
	KindNotification = "notification"
	KindRequest      = "request"
)

// List filters.
const (
	FilterAll           = "all"
	FilterNotifications = "notifications"
	FilterRequests      = "requests"
	FilterArchived      = "archived"
)

// Notification is an in-app message scoped to an organization.
type Notification struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	UserID        string    `json:"user_id,omitempty"`
	Kind          string    `json:"kind"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	Link          string    `json:"link,omitempty"`
	RequestUserID string    `json:"request_user_id,omitempty"`
	Read          bool      `json:"read"`
	Archived      bool      `json:"archived"`
	CreatedAt     time.Time `json:"created_at"`
}

// WithUser is a notification joined with the requesting user's public
// profile for list responses.
type WithUser struct {
	Notification
	RequestUser *RequestUser `json:"request_user,omitempty"`
}

// RequestUser is the subset of the requesting user shown in lists.
type RequestUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
	Color string `json:"color,omitempty"`
}

// CreateInput is the payload for inserting a notification.
type CreateInput struct {
	OrgID         string
	UserID        string
	Kind          string
	Type          string
	Message       string
	Link          string
	RequestUserID string
}
