package domain

import (
	"context"
	"errors"
)

var (
	// ErrMissingSecret signals a misdeployed webhook secret, not a forgery.
	ErrMissingSecret = errors.New("webhook_secret_missing")
	// ErrInvalidSignature rejects an unauthenticated webhook delivery.
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrInvalidPayload rejects a body that cannot be decoded into an event.
	ErrInvalidPayload = errors.New("invalid_payload")
	// ErrInvalidEmail rejects an empty or malformed query email.
	ErrInvalidEmail = errors.New("invalid_email")
	// ErrStorageUnavailable marks a transient store failure; webhook callers
	// must answer non-2xx so the provider redelivers.
	ErrStorageUnavailable = errors.New("storage_unavailable")
)

// Delivery carries webhook transport metadata alongside the parsed event.
type Delivery struct {
	WebhookID string
	Payload   []byte
}

// Apply outcomes. "Skipped" still acknowledges the delivery.
const (
	OutcomeApplied      = "applied"
	OutcomeReplayed     = "replayed"
	OutcomeNoEmail      = "missing_email"
	OutcomeUnrecognized = "unrecognized_event"
	OutcomeNoChange     = "no_change"
)

// ApplyResult reports what the reconciler did with a delivery.
type ApplyResult struct {
	Applied bool
	Outcome string
}

// Reconciler folds verified webhook events into customer records.
type Reconciler interface {
	Apply(ctx context.Context, event Event, delivery Delivery) (ApplyResult, error)
}

// AccessService answers access queries from the reconciled store.
type AccessService interface {
	QueryAccess(ctx context.Context, email string) (AccessView, error)
}
