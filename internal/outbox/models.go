package outbox

import "time"

// Task kinds dispatched by the worker. Handlers are registered per kind.
const (
	KindBillingProvision        = "billing.provision"
	KindBillingCancelSubs       = "billing.cancel_subscriptions"
	KindEmailInvitation         = "email.invitation"
	KindEmailSubscriptionNotice = "email.subscription_notice"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// Task is a persisted unit of deferred work. Tasks are enqueued inside the
// transaction that produced them, so a side effect is recorded if and only if
// the mutation that needs it committed.
type Task struct {
	ID             int64     `json:"id"`
	Kind           string    `json:"kind"`
	Payload        []byte    `json:"payload"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	RunAt          time.Time `json:"run_at"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
