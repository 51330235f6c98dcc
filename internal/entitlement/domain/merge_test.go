package domain

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

var (
	base  = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	later = base.Add(48 * time.Hour)
)

func TestMergePaymentSucceededAddsGrant(t *testing.T) {
	record := CustomerEntitlement{Email: "buyer@example.com"}

	merged, applied := Merge(record, PaymentSucceeded{
		Email:     "buyer@example.com",
		PaymentID: "pay_1",
		ProductID: "pdt_1",
		Amount:    4900,
		Currency:  "USD",
	}, base)

	if !applied {
		t.Fatal("expected payment to apply")
	}
	if len(merged.Products) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(merged.Products))
	}
	grant := merged.Products[0]
	if grant.PaymentID != "pay_1" || grant.ProductID != "pdt_1" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if !grant.PurchasedAt.Equal(base) {
		t.Fatalf("expected purchase time fallback to now, got %v", grant.PurchasedAt)
	}
}

func TestMergePaymentSucceededIsIdempotent(t *testing.T) {
	record := CustomerEntitlement{Email: "buyer@example.com"}

	event := PaymentSucceeded{Email: "buyer@example.com", PaymentID: "pay_1", ProductID: "pdt_1"}
	once, _ := Merge(record, event, base)
	twice, applied := Merge(once, event, later)

	if applied {
		t.Fatal("redelivered payment must not apply")
	}
	if len(twice.Products) != 1 {
		t.Fatalf("expected 1 grant after redelivery, got %d", len(twice.Products))
	}
}

func TestMergePaymentWithoutIDIsSkipped(t *testing.T) {
	_, applied := Merge(CustomerEntitlement{}, PaymentSucceeded{Email: "a@b.c"}, base)
	if applied {
		t.Fatal("payment without payment_id must be skipped")
	}
}

func TestMergeSubscriptionActivation(t *testing.T) {
	billing := base.AddDate(0, 1, 0)
	merged, applied := Merge(CustomerEntitlement{}, SubscriptionActive{
		Email:           "sub@example.com",
		SubscriptionID:  "sub_1",
		ProductID:       "pdt_9",
		NextBillingDate: billing,
		RecurringAmount: 900,
	}, base)

	if !applied || merged.Subscription == nil {
		t.Fatal("expected subscription slot to be created")
	}
	sub := merged.Subscription
	if sub.Status != SubscriptionStatusActive {
		t.Fatalf("expected active status, got %s", sub.Status)
	}
	if !sub.ActivatedAt.Equal(base) {
		t.Fatalf("expected activation at %v, got %v", base, sub.ActivatedAt)
	}
	if !sub.NextBillingDate.Equal(billing) {
		t.Fatalf("unexpected next billing date %v", sub.NextBillingDate)
	}
}

func TestMergeReactivationKeepsOriginalActivation(t *testing.T) {
	activate := SubscriptionActive{Email: "sub@example.com", SubscriptionID: "sub_1"}

	once, _ := Merge(CustomerEntitlement{}, activate, base)
	failed, _ := Merge(once, SubscriptionFailed{
		Email: "sub@example.com", SubscriptionID: "sub_1", FailureReason: "card_declined",
	}, base.Add(time.Hour))
	again, applied := Merge(failed, activate, later)

	if !applied {
		t.Fatal("reactivation must apply")
	}
	if again.Subscription.Status != SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", again.Subscription.Status)
	}
	if again.Subscription.FailureReason != "" {
		t.Fatal("reactivation must clear the failure reason")
	}
	if !again.Subscription.ActivatedAt.Equal(base) {
		t.Fatalf("reactivating the same subscription must keep ActivatedAt, got %v", again.Subscription.ActivatedAt)
	}
}

func TestMergeNewSubscriptionReplacesSlot(t *testing.T) {
	once, _ := Merge(CustomerEntitlement{}, SubscriptionActive{
		Email: "sub@example.com", SubscriptionID: "sub_1",
	}, base)

	replaced, _ := Merge(once, SubscriptionActive{
		Email: "sub@example.com", SubscriptionID: "sub_2",
	}, later)

	if replaced.Subscription.SubscriptionID != "sub_2" {
		t.Fatalf("expected slot replaced by sub_2, got %s", replaced.Subscription.SubscriptionID)
	}
	if !replaced.Subscription.ActivatedAt.Equal(later) {
		t.Fatal("a different subscription id must reset ActivatedAt")
	}
}

func TestMergeRenewalUpdatesBillingDate(t *testing.T) {
	billing := base.AddDate(0, 2, 0)
	once, _ := Merge(CustomerEntitlement{}, SubscriptionActive{
		Email: "sub@example.com", SubscriptionID: "sub_1",
	}, base)

	renewed, applied := Merge(once, SubscriptionRenewed{
		Email: "sub@example.com", SubscriptionID: "sub_1", NextBillingDate: billing,
	}, later)

	if !applied {
		t.Fatal("renewal must apply")
	}
	if !renewed.Subscription.NextBillingDate.Equal(billing) {
		t.Fatalf("unexpected billing date %v", renewed.Subscription.NextBillingDate)
	}
	if renewed.Subscription.LastRenewed == nil || !renewed.Subscription.LastRenewed.Equal(later) {
		t.Fatal("renewal must stamp LastRenewed")
	}
}

func TestMergeCancellationWithoutSubscriptionIsNoop(t *testing.T) {
	merged, applied := Merge(CustomerEntitlement{}, SubscriptionCancelled{
		Email: "ghost@example.com", SubscriptionID: "sub_404",
	}, base)

	if applied {
		t.Fatal("cancelling an absent subscription must be a no-op")
	}
	if merged.Subscription != nil {
		t.Fatal("no-op cancellation must not create a slot")
	}
}

func TestMergeFailureMarksSubscription(t *testing.T) {
	once, _ := Merge(CustomerEntitlement{}, SubscriptionActive{
		Email: "sub@example.com", SubscriptionID: "sub_1",
	}, base)

	failed, applied := Merge(once, SubscriptionFailed{
		Email: "sub@example.com", SubscriptionID: "sub_1", FailureReason: "card_declined",
	}, later)

	if !applied {
		t.Fatal("failure must apply")
	}
	if failed.Subscription.Status != SubscriptionStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Subscription.Status)
	}
	if failed.Subscription.FailureReason != "card_declined" {
		t.Fatalf("unexpected failure reason %q", failed.Subscription.FailureReason)
	}
}

func TestMergeDoesNotAliasInput(t *testing.T) {
	original := CustomerEntitlement{
		Email:    "buyer@example.com",
		Products: []ProductGrant{{PaymentID: "pay_1", ProductID: "pdt_1"}},
	}

	merged, _ := Merge(original, PaymentSucceeded{
		Email: "buyer@example.com", PaymentID: "pay_2", ProductID: "pdt_2",
	}, base)
	merged.Products[0].ProductID = "mutated"

	if original.Products[0].ProductID != "pdt_1" {
		t.Fatal("merge must deep copy the input record")
	}
}

func TestBuildAccessView(t *testing.T) {
	view := BuildAccessView("nobody@example.com", nil)
	if view.HasActiveAccess || len(view.AccessType) != 0 {
		t.Fatal("unknown email must have zero access")
	}
	if view.Products == nil || view.AccessType == nil {
		t.Fatal("projection slices must be non-nil")
	}

	record := &CustomerEntitlement{
		Email: "both@example.com",
		Subscription: &SubscriptionState{
			SubscriptionID: "sub_1",
			Status:         SubscriptionStatusActive,
		},
		Products: []ProductGrant{{PaymentID: "pay_1", ProductID: "pdt_1"}},
	}
	view = BuildAccessView("both@example.com", record)
	if !view.HasActiveAccess {
		t.Fatal("expected active access")
	}
	if len(view.AccessType) != 2 {
		t.Fatalf("expected both access types, got %v", view.AccessType)
	}

	record.Subscription.Status = SubscriptionStatusCancelled
	record.Products = nil
	view = BuildAccessView("both@example.com", record)
	if view.HasActiveAccess {
		t.Fatal("cancelled subscription without purchases must not grant access")
	}
	if view.Subscription == nil {
		t.Fatal("cancelled subscription detail must still be visible")
	}
}

func TestAccessDerivationOverRandomRecords(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusFailed,
	}

	for i := 0; i < 500; i++ {
		record := &CustomerEntitlement{Email: "random@example.com"}
		if rng.Intn(2) == 1 {
			record.Subscription = &SubscriptionState{
				SubscriptionID: fmt.Sprintf("sub_%d", i),
				Status:         statuses[rng.Intn(len(statuses))],
			}
		}
		for j := rng.Intn(4); j > 0; j-- {
			record.Products = append(record.Products, ProductGrant{
				PaymentID: fmt.Sprintf("pay_%d_%d", i, j),
			})
		}

		view := BuildAccessView(record.Email, record)
		want := (record.Subscription != nil && record.Subscription.Status == SubscriptionStatusActive) ||
			len(record.Products) > 0
		if view.HasActiveAccess != want {
			t.Fatalf("record %d: hasActiveAccess=%v, want %v (%+v)", i, view.HasActiveAccess, want, record)
		}
	}
}
