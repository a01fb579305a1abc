package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quartershq/quarters/internal/outbox"
)

// Sender delivers a rendered message. Satisfied by *Client; a fake stands
// in for tests.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// invitationPayload mirrors the task body enqueued by the membership
// service.
type invitationPayload struct {
	Email          string `json:"email"`
	OrgName        string `json:"org_name"`
	InvitedByName  string `json:"invited_by_name"`
	InvitedByEmail string `json:"invited_by_email"`
	InviteLink     string `json:"invite_link"`
}

// noticePayload mirrors the task body enqueued by billing webhook
// processing.
type noticePayload struct {
	Email    string `json:"email"`
	Notice   string `json:"notice"` // "success" or "error"
	PlanName string `json:"plan_name,omitempty"`
}

// InvitationHandler returns the outbox handler for invitation emails.
func InvitationHandler(sender Sender) outbox.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p invitationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode invitation payload: %w", err)
		}
		return sender.Send(ctx, Invitation(p.Email, InvitationParams{
			OrgName:        p.OrgName,
			InvitedByName:  p.InvitedByName,
			InvitedByEmail: p.InvitedByEmail,
			InviteLink:     p.InviteLink,
		}))
	}
}

// SubscriptionNoticeHandler returns the outbox handler for subscription
// success and error notices.
func SubscriptionNoticeHandler(sender Sender) outbox.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p noticePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode notice payload: %w", err)
		}
		switch p.Notice {
		case "success":
			return sender.Send(ctx, SubscriptionSuccess(p.Email, p.PlanName))
		case "error":
			return sender.Send(ctx, SubscriptionError(p.Email))
		default:
			return fmt.Errorf("unknown subscription notice %q", p.Notice)
		}
	}
}
