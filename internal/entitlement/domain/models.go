package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusFailed    SubscriptionStatus = "failed"
)

// SubscriptionState is the single subscription slot of a customer. A new
// activation for a different subscription id overwrites the slot.
type SubscriptionState struct {
	SubscriptionID  string             `json:"subscription_id"`
	ProductID       string             `json:"product_id"`
	Status          SubscriptionStatus `json:"status"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	ActivatedAt     time.Time          `json:"activated_at"`
	LastRenewed     *time.Time         `json:"last_renewed,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	RecurringAmount int64              `json:"recurring_amount,omitempty"`
}

// ProductGrant is a one-time purchase. PaymentID is the idempotency key:
// redelivered payment webhooks must not produce a second grant.
type ProductGrant struct {
	PaymentID   string    `json:"payment_id"`
	ProductID   string    `json:"product_id"`
	PurchasedAt time.Time `json:"purchased_at"`
	Amount      int64     `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty"`
}

// CustomerEntitlement is the reconciled access record for one customer email.
type CustomerEntitlement struct {
	Email        string             `json:"email"`
	Subscription *SubscriptionState `json:"subscription,omitempty"`
	Products     []ProductGrant     `json:"products"`
}

// HasGrant reports whether a grant with the given payment id already exists.
func (e CustomerEntitlement) HasGrant(paymentID string) bool {
	for _, grant := range e.Products {
		if grant.PaymentID == paymentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so merges never alias the stored record.
func (e CustomerEntitlement) Clone() CustomerEntitlement {
	out := CustomerEntitlement{Email: e.Email}
	if e.Subscription != nil {
		sub := *e.Subscription
		if e.Subscription.LastRenewed != nil {
			renewed := *e.Subscription.LastRenewed
			sub.LastRenewed = &renewed
		}
		out.Subscription = &sub
	}
	if len(e.Products) > 0 {
		out.Products = make([]ProductGrant, len(e.Products))
		copy(out.Products, e.Products)
	}
	return out
}

// AccessView is the projection served to access queries.
type AccessView struct {
	Email           string             `json:"email"`
	HasActiveAccess bool               `json:"has_active_access"`
	AccessType      []string           `json:"access_type"`
	Subscription    *SubscriptionState `json:"subscription,omitempty"`
	Products        []ProductGrant     `json:"products"`
}

const (
	AccessTypeSubscription = "subscription"
	AccessTypeProduct      = "product"
)

// BuildAccessView derives the access projection from a stored record. A nil
// record (never-seen email) yields zero access, not an error.
func BuildAccessView(email string, record *CustomerEntitlement) AccessView {
	view := AccessView{
		Email:      email,
		AccessType: []string{},
		Products:   []ProductGrant{},
	}
	if record == nil {
		return view
	}

	if record.Subscription != nil {
		sub := *record.Subscription
		view.Subscription = &sub
		if sub.Status == SubscriptionStatusActive {
			view.HasActiveAccess = true
			view.AccessType = append(view.AccessType, AccessTypeSubscription)
		}
	}
	if len(record.Products) > 0 {
		view.Products = make([]ProductGrant, len(record.Products))
		copy(view.Products, record.Products)
		view.HasActiveAccess = true
		view.AccessType = append(view.AccessType, AccessTypeProduct)
	}
	return view
}

// NormalizeEmail canonicalizes an email before it is used as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EntitlementRecord is the persisted row: one JSON record per email.
type EntitlementRecord struct {
	Email     string         `gorm:"primaryKey" json:"email"`
	Record    datatypes.JSON `gorm:"not null" json:"record"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (EntitlementRecord) TableName() string { return "customer_entitlements" }

// EventRecord logs every delivered webhook. The unique webhook id index
// doubles as replay protection.
type EventRecord struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	WebhookID  string         `gorm:"type:text;not null;uniqueIndex" json:"webhook_id"`
	EventType  string         `gorm:"type:text;not null" json:"event_type"`
	Email      string         `gorm:"type:text;index" json:"email"`
	Payload    datatypes.JSON `json:"payload"`
	ReceivedAt time.Time      `gorm:"not null" json:"received_at"`
	Applied    bool           `gorm:"not null;default:false" json:"applied"`
}

func (EventRecord) TableName() string { return "webhook_events" }
