package domain

import "time"

const (
	EventTypePaymentSucceeded      = "payment.succeeded"
	EventTypeSubscriptionActive    = "subscription.active"
	EventTypeSubscriptionRenewed   = "subscription.renewed"
	EventTypeSubscriptionCancelled = "subscription.cancelled"
	EventTypeSubscriptionFailed    = "subscription.failed"
)

// Event is the closed set of webhook events the reconciler understands.
// Adding a kind means adding a struct here and a case to Merge.
type Event interface {
	EventType() string
	CustomerEmail() string
}

type PaymentSucceeded struct {
	Email       string
	PaymentID   string
	ProductID   string
	PurchasedAt time.Time
	Amount      int64
	Currency    string
}

func (e PaymentSucceeded) EventType() string     { return EventTypePaymentSucceeded }
func (e PaymentSucceeded) CustomerEmail() string { return e.Email }

type SubscriptionActive struct {
	Email           string
	SubscriptionID  string
	ProductID       string
	NextBillingDate time.Time
	RecurringAmount int64
}

func (e SubscriptionActive) EventType() string     { return EventTypeSubscriptionActive }
func (e SubscriptionActive) CustomerEmail() string { return e.Email }

type SubscriptionRenewed struct {
	Email           string
	SubscriptionID  string
	NextBillingDate time.Time
}

func (e SubscriptionRenewed) EventType() string     { return EventTypeSubscriptionRenewed }
func (e SubscriptionRenewed) CustomerEmail() string { return e.Email }

type SubscriptionCancelled struct {
	Email          string
	SubscriptionID string
}

func (e SubscriptionCancelled) EventType() string     { return EventTypeSubscriptionCancelled }
func (e SubscriptionCancelled) CustomerEmail() string { return e.Email }

type SubscriptionFailed struct {
	Email          string
	SubscriptionID string
	FailureReason  string
}

func (e SubscriptionFailed) EventType() string     { return EventTypeSubscriptionFailed }
func (e SubscriptionFailed) CustomerEmail() string { return e.Email }

// Unrecognized is a valid delivery of an event type outside the closed set.
// It is acknowledged without touching any entitlement record.
type Unrecognized struct {
	RawType string
}

func (e Unrecognized) EventType() string     { return e.RawType }
func (e Unrecognized) CustomerEmail() string { return "" }
