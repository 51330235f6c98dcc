package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"github.com/smallbiznis/entitled/internal/entitlement/repository"
	"github.com/smallbiznis/entitled/internal/keylock"
	"github.com/smallbiznis/entitled/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	return newTestServiceRepo(t, nil)
}

func newTestServiceRepo(t *testing.T, wrap func(domain.Repository) domain.Repository) (*Service, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.AutoMigrate(&domain.EntitlementRecord{}, &domain.EventRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	repo := domain.Repository(repository.Provide())
	if wrap != nil {
		repo = wrap(repo)
	}

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repo,
		Locks: keylock.New(),
		Cfg:   config.Config{StoreTimeout: 5 * time.Second},
	})
	return svc, clk
}

// flakyPutRepo fails the first record writes to simulate a transient store
// outage between the event-log insert and the merged-record write.
type flakyPutRepo struct {
	domain.Repository
	failuresLeft int
}

func (r *flakyPutRepo) Put(ctx context.Context, conn *gorm.DB, email string, record domain.CustomerEntitlement) error {
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return errors.New("connection reset by peer")
	}
	return r.Repository.Put(ctx, conn, email, record)
}

func apply(t *testing.T, svc *Service, event domain.Event, webhookID string) domain.ApplyResult {
	t.Helper()
	result, err := svc.Apply(context.Background(), event, domain.Delivery{
		WebhookID: webhookID,
		Payload:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("apply %s: %v", event.EventType(), err)
	}
	return result
}

func TestSubscriptionLifecycle(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	billing := clk.Now().AddDate(0, 1, 0)
	result := apply(t, svc, domain.SubscriptionActive{
		Email:           "sub@example.com",
		SubscriptionID:  "sub_1",
		ProductID:       "pdt_pro",
		NextBillingDate: billing,
		RecurringAmount: 900,
	}, "wh_1")
	if !result.Applied || result.Outcome != domain.OutcomeApplied {
		t.Fatalf("unexpected result %+v", result)
	}

	view, err := svc.QueryAccess(ctx, "sub@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if !view.HasActiveAccess {
		t.Fatal("expected active access after activation")
	}
	if len(view.AccessType) != 1 || view.AccessType[0] != domain.AccessTypeSubscription {
		t.Fatalf("unexpected access types %v", view.AccessType)
	}

	clk.Advance(30 * 24 * time.Hour)
	nextBilling := billing.AddDate(0, 1, 0)
	apply(t, svc, domain.SubscriptionRenewed{
		Email:           "sub@example.com",
		SubscriptionID:  "sub_1",
		NextBillingDate: nextBilling,
	}, "wh_2")

	view, err = svc.QueryAccess(ctx, "sub@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if !view.Subscription.NextBillingDate.Equal(nextBilling) {
		t.Fatalf("renewal did not advance billing date: %v", view.Subscription.NextBillingDate)
	}

	apply(t, svc, domain.SubscriptionFailed{
		Email:          "sub@example.com",
		SubscriptionID: "sub_1",
		FailureReason:  "card_declined",
	}, "wh_3")

	view, err = svc.QueryAccess(ctx, "sub@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if view.HasActiveAccess {
		t.Fatal("failed subscription must lose access")
	}
	if view.Subscription.FailureReason != "card_declined" {
		t.Fatalf("unexpected failure reason %q", view.Subscription.FailureReason)
	}
}

func TestOneTimePurchaseGrantsAccess(t *testing.T) {
	svc, _ := newTestService(t)

	apply(t, svc, domain.PaymentSucceeded{
		Email:     "buyer@example.com",
		PaymentID: "pay_1",
		ProductID: "pdt_ebook",
		Amount:    1900,
		Currency:  "USD",
	}, "wh_1")

	view, err := svc.QueryAccess(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if !view.HasActiveAccess {
		t.Fatal("expected access from one-time purchase")
	}
	if len(view.Products) != 1 || view.Products[0].PaymentID != "pay_1" {
		t.Fatalf("unexpected products %+v", view.Products)
	}
}

func TestReplayedWebhookIsIgnored(t *testing.T) {
	svc, _ := newTestService(t)

	event := domain.PaymentSucceeded{
		Email:     "buyer@example.com",
		PaymentID: "pay_1",
		ProductID: "pdt_ebook",
	}
	first := apply(t, svc, event, "wh_dup")
	second := apply(t, svc, event, "wh_dup")

	if !first.Applied {
		t.Fatal("first delivery must apply")
	}
	if second.Applied || second.Outcome != domain.OutcomeReplayed {
		t.Fatalf("replay must be skipped, got %+v", second)
	}

	view, err := svc.QueryAccess(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if len(view.Products) != 1 {
		t.Fatalf("replay must not duplicate the grant, got %d", len(view.Products))
	}
}

func TestRetryAfterStoreFailureAppliesEvent(t *testing.T) {
	flaky := &flakyPutRepo{failuresLeft: 1}
	svc, _ := newTestServiceRepo(t, func(r domain.Repository) domain.Repository {
		flaky.Repository = r
		return flaky
	})
	ctx := context.Background()

	event := domain.PaymentSucceeded{
		Email:     "buyer@example.com",
		PaymentID: "pay_1",
		ProductID: "pdt_1",
	}
	delivery := domain.Delivery{WebhookID: "wh_retry", Payload: []byte(`{}`)}

	if _, err := svc.Apply(ctx, event, delivery); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage error on first delivery, got %v", err)
	}

	retry, err := svc.Apply(ctx, event, delivery)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retry.Applied || retry.Outcome != domain.OutcomeApplied {
		t.Fatalf("retry of an unapplied delivery must apply the event, got %+v", retry)
	}

	view, err := svc.QueryAccess(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if len(view.Products) != 1 {
		t.Fatalf("expected the retried grant to exist, got %d", len(view.Products))
	}

	replay, err := svc.Apply(ctx, event, delivery)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Applied || replay.Outcome != domain.OutcomeReplayed {
		t.Fatalf("redelivery after a successful apply must be a replay, got %+v", replay)
	}
}

func TestRedeliveryWithNewWebhookIDIsStillIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	event := domain.PaymentSucceeded{
		Email:     "buyer@example.com",
		PaymentID: "pay_1",
		ProductID: "pdt_ebook",
	}
	apply(t, svc, event, "wh_1")
	second := apply(t, svc, event, "wh_2")

	if second.Applied || second.Outcome != domain.OutcomeNoChange {
		t.Fatalf("semantic redelivery must be a no-op, got %+v", second)
	}
}

func TestUnrecognizedEventIsAcknowledged(t *testing.T) {
	svc, _ := newTestService(t)

	result := apply(t, svc, domain.Unrecognized{RawType: "refund.created"}, "wh_1")
	if result.Applied || result.Outcome != domain.OutcomeUnrecognized {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEventWithoutEmailIsAcknowledged(t *testing.T) {
	svc, _ := newTestService(t)

	result := apply(t, svc, domain.PaymentSucceeded{PaymentID: "pay_1"}, "wh_1")
	if result.Applied || result.Outcome != domain.OutcomeNoEmail {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEmailIsNormalized(t *testing.T) {
	svc, _ := newTestService(t)

	apply(t, svc, domain.PaymentSucceeded{
		Email:     "  Buyer@Example.COM ",
		PaymentID: "pay_1",
		ProductID: "pdt_1",
	}, "wh_1")

	view, err := svc.QueryAccess(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if !view.HasActiveAccess {
		t.Fatal("normalized emails must resolve to the same record")
	}
}

func TestQueryAccessUnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	view, err := svc.QueryAccess(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if view.HasActiveAccess || len(view.Products) != 0 {
		t.Fatal("unknown email must answer with zero access")
	}
}

func TestQueryAccessEmptyEmail(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.QueryAccess(context.Background(), "   "); err != domain.ErrInvalidEmail {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestPurchaseThenSubscriptionScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payment := domain.PaymentSucceeded{
		Email: "a@x.com", PaymentID: "p1", ProductID: "pdt_1",
	}
	apply(t, svc, payment, "wh_1")
	apply(t, svc, payment, "wh_1")

	view, err := svc.QueryAccess(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if len(view.Products) != 1 {
		t.Fatalf("expected exactly one grant after redelivery, got %d", len(view.Products))
	}

	apply(t, svc, domain.SubscriptionActive{
		Email: "a@x.com", SubscriptionID: "s1",
		NextBillingDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}, "wh_2")

	view, err = svc.QueryAccess(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if !view.HasActiveAccess || view.Subscription == nil || len(view.Products) != 1 {
		t.Fatalf("expected subscription and product access, got %+v", view)
	}

	apply(t, svc, domain.SubscriptionFailed{
		Email: "a@x.com", SubscriptionID: "s1", FailureReason: "card_declined",
	}, "wh_3")

	view, err = svc.QueryAccess(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if view.Subscription.Status != domain.SubscriptionStatusFailed {
		t.Fatalf("expected failed subscription, got %s", view.Subscription.Status)
	}
	if !view.HasActiveAccess {
		t.Fatal("product grant must keep access alive after subscription failure")
	}
}

func TestConcurrentAppliesForOneEmail(t *testing.T) {
	svc, _ := newTestService(t)

	const deliveries = 20
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), domain.PaymentSucceeded{
				Email:     "hot@example.com",
				PaymentID: fmt.Sprintf("pay_%d", n),
				ProductID: "pdt_1",
			}, domain.Delivery{WebhookID: fmt.Sprintf("wh_%d", n), Payload: []byte(`{}`)})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent apply: %v", err)
	}

	view, err := svc.QueryAccess(context.Background(), "hot@example.com")
	if err != nil {
		t.Fatalf("query access: %v", err)
	}
	if len(view.Products) != deliveries {
		t.Fatalf("lost update: expected %d grants, got %d", deliveries, len(view.Products))
	}
}
