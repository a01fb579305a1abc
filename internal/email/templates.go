package email

import (
	"fmt"
	"html"
)

// InvitationParams fills the organization invitation template.
type InvitationParams struct {
	OrgName        string
	InvitedByName  string
	InvitedByEmail string
	InviteLink     string
}

// Invitation renders the invitation message for a recipient.
func Invitation(to string, p InvitationParams) Message {
	orgName := html.EscapeString(p.OrgName)
	inviter := html.EscapeString(p.InvitedByName)
	if inviter == "" {
		inviter = "A teammate"
	}

	body := fmt.Sprintf(`
<div style="font-family:sans-serif;max-width:465px;margin:0 auto;padding:20px">
  <h1 style="font-size:24px;font-weight:normal;text-align:center">Join <strong>%s</strong> on <strong>Quarters</strong></h1>
  <p>Hello,</p>
  <p><strong>%s</strong> (<a href="mailto:%s">%s</a>) has invited you to the <strong>%s</strong> organization.</p>
  <p style="text-align:center;margin:32px 0">
    <a href="%s" style="background:#4f46e5;color:#fff;padding:12px 20px;border-radius:6px;text-decoration:none">Join the organization</a>
  </p>
  <p>or copy and paste this URL into your browser: <a href="%s">%s</a></p>
  <p style="color:#666;font-size:12px">If you were not expecting this invitation, you can ignore this email.</p>
</div>`,
		orgName, inviter, html.EscapeString(p.InvitedByEmail), html.EscapeString(p.InvitedByEmail),
		orgName, p.InviteLink, p.InviteLink, p.InviteLink)

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Join %s on Quarters", p.OrgName),
		HTML:    body,
		Text: fmt.Sprintf("%s (%s) has invited you to the %s organization. Join: %s",
			p.InvitedByName, p.InvitedByEmail, p.OrgName, p.InviteLink),
	}
}

// SubscriptionSuccess renders the notice sent after a checkout completes.
func SubscriptionSuccess(to, planName string) Message {
	plan := html.EscapeString(planName)
	body := fmt.Sprintf(`
<div style="font-family:sans-serif;max-width:465px;margin:0 auto;padding:20px">
  <h1 style="font-size:24px;font-weight:normal;text-align:center">Subscription updated</h1>
  <p>Your subscription to the <strong>%s</strong> plan is now active. Thank you for subscribing!</p>
  <p style="color:#666;font-size:12px">You can manage your subscription from your organization's billing settings.</p>
</div>`, plan)

	return Message{
		To:      to,
		Subject: "Your subscription is active",
		HTML:    body,
		Text:    fmt.Sprintf("Your subscription to the %s plan is now active.", planName),
	}
}

// SubscriptionError renders the notice sent when webhook processing could
// not update a subscription. Failures surface over email because the
// webhook endpoint always acknowledges receipt.
func SubscriptionError(to string) Message {
	body := `
<div style="font-family:sans-serif;max-width:465px;margin:0 auto;padding:20px">
  <h1 style="font-size:24px;font-weight:normal;text-align:center">Subscription issue</h1>
  <p>Something went wrong while updating your subscription. Your payment may have gone through, but the change is not reflected in your account yet.</p>
  <p>Please check your organization's billing settings, or reply to this email and we will sort it out.</p>
</div>`

	return Message{
		To:      to,
		Subject: "There was a problem with your subscription",
		HTML:    body,
		Text:    "Something went wrong while updating your subscription. Please check your billing settings or contact support.",
	}
}
