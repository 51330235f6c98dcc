package domain

import "time"

// Merge folds one event into a customer record and reports whether anything
// changed. It is pure: the input record is never mutated, and the same event
// applied twice yields the same record as applying it once.
//
// now supplies timestamps the event does not carry (activation, renewal,
// grant fallback).
func Merge(record CustomerEntitlement, event Event, now time.Time) (CustomerEntitlement, bool) {
	next := record.Clone()

	switch e := event.(type) {
	case PaymentSucceeded:
		if e.PaymentID == "" || next.HasGrant(e.PaymentID) {
			return next, false
		}
		purchasedAt := e.PurchasedAt
		if purchasedAt.IsZero() {
			purchasedAt = now
		}
		next.Products = append(next.Products, ProductGrant{
			PaymentID:   e.PaymentID,
			ProductID:   e.ProductID,
			PurchasedAt: purchasedAt,
			Amount:      e.Amount,
			Currency:    e.Currency,
		})
		return next, true

	case SubscriptionActive:
		sub := next.Subscription
		if sub == nil || sub.SubscriptionID != e.SubscriptionID {
			// Last-writer-wins across subscription ids: a different id
			// replaces the slot and starts a fresh activation.
			sub = &SubscriptionState{
				SubscriptionID: e.SubscriptionID,
				ActivatedAt:    now,
			}
		}
		sub.ProductID = e.ProductID
		sub.Status = SubscriptionStatusActive
		sub.NextBillingDate = e.NextBillingDate
		sub.RecurringAmount = e.RecurringAmount
		sub.FailureReason = ""
		next.Subscription = sub
		return next, true

	case SubscriptionRenewed:
		sub := next.Subscription
		if sub == nil || sub.SubscriptionID != e.SubscriptionID {
			sub = &SubscriptionState{
				SubscriptionID: e.SubscriptionID,
				ActivatedAt:    now,
			}
		}
		sub.Status = SubscriptionStatusActive
		sub.NextBillingDate = e.NextBillingDate
		sub.FailureReason = ""
		renewed := now
		sub.LastRenewed = &renewed
		next.Subscription = sub
		return next, true

	case SubscriptionCancelled:
		// Cannot cancel a subscription never observed as active.
		if next.Subscription == nil {
			return next, false
		}
		next.Subscription.Status = SubscriptionStatusCancelled
		return next, true

	case SubscriptionFailed:
		if next.Subscription == nil {
			return next, false
		}
		next.Subscription.Status = SubscriptionStatusFailed
		next.Subscription.FailureReason = e.FailureReason
		return next, true

	default:
		return next, false
	}
}
