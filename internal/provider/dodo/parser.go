package dodo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/entitled/internal/entitlement/domain"
)

type envelope struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Data      payload `json:"data"`
}

type payload struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`

	PaymentID   string `json:"payment_id"`
	ProductID   string `json:"product_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`

	SubscriptionID        string `json:"subscription_id"`
	NextBillingDate       string `json:"next_billing_date"`
	RecurringPreTaxAmount int64  `json:"recurring_pre_tax_amount"`
	FailureReason         string `json:"failure_reason"`

	ProductCart []struct {
		ProductID string `json:"product_id"`
	} `json:"product_cart"`
}

// ParseEvent decodes one verified webhook body into a typed event. Event
// types outside the closed set come back as domain.Unrecognized so the
// caller can acknowledge them.
func ParseEvent(body []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(env.Type)
	if eventType == "" {
		return nil, domain.ErrInvalidPayload
	}

	email := strings.TrimSpace(env.Data.Customer.Email)

	switch eventType {
	case domain.EventTypePaymentSucceeded:
		purchasedAt, err := parseTime(env.Timestamp)
		if err != nil {
			return nil, domain.ErrInvalidPayload
		}
		return domain.PaymentSucceeded{
			Email:       email,
			PaymentID:   env.Data.PaymentID,
			ProductID:   env.Data.firstProductID(),
			PurchasedAt: purchasedAt,
			Amount:      env.Data.TotalAmount,
			Currency:    env.Data.Currency,
		}, nil
	case domain.EventTypeSubscriptionActive:
		nextBilling, err := parseTime(env.Data.NextBillingDate)
		if err != nil {
			return nil, domain.ErrInvalidPayload
		}
		return domain.SubscriptionActive{
			Email:           email,
			SubscriptionID:  env.Data.SubscriptionID,
			ProductID:       env.Data.ProductID,
			NextBillingDate: nextBilling,
			RecurringAmount: env.Data.RecurringPreTaxAmount,
		}, nil
	case domain.EventTypeSubscriptionRenewed:
		nextBilling, err := parseTime(env.Data.NextBillingDate)
		if err != nil {
			return nil, domain.ErrInvalidPayload
		}
		return domain.SubscriptionRenewed{
			Email:           email,
			SubscriptionID:  env.Data.SubscriptionID,
			NextBillingDate: nextBilling,
		}, nil
	case domain.EventTypeSubscriptionCancelled:
		return domain.SubscriptionCancelled{
			Email:          email,
			SubscriptionID: env.Data.SubscriptionID,
		}, nil
	case domain.EventTypeSubscriptionFailed:
		return domain.SubscriptionFailed{
			Email:          email,
			SubscriptionID: env.Data.SubscriptionID,
			FailureReason:  env.Data.FailureReason,
		}, nil
	default:
		return domain.Unrecognized{RawType: eventType}, nil
	}
}

// One-time payments carry the product in a cart; subscription payloads put
// it at the top level.
func (p payload) firstProductID() string {
	if p.ProductID != "" {
		return p.ProductID
	}
	if len(p.ProductCart) > 0 {
		return p.ProductCart[0].ProductID
	}
	return ""
}

// An absent field stays the zero time; present-but-unparseable input rejects
// the whole event rather than applying it with a corrupted timestamp.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
