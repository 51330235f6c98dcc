package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"github.com/smallbiznis/entitled/internal/keylock"
	obsmetrics "github.com/smallbiznis/entitled/internal/observability/metrics"
	"github.com/smallbiznis/entitled/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockKeyPrefix = "entitled:lock:"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Locks   *keylock.KeyedMutex
	Locker  *keylock.Locker
	Metrics *obsmetrics.Metrics
	Cfg     config.Config
}

// Service reconciles webhook events into entitlement records and serves
// access queries against them.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	locks        *keylock.KeyedMutex
	locker       *keylock.Locker
	metrics      *obsmetrics.Metrics
	storeTimeout time.Duration
}

func New(p Params) *Service {
	timeout := p.Cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("entitlement.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		locks:        p.Locks,
		locker:       p.Locker,
		metrics:      p.Metrics,
		storeTimeout: timeout,
	}
}

// Apply folds one verified event into the customer's record. The read-modify-
// write for a given email runs under a per-email critical section; events for
// different emails proceed in parallel.
func (s *Service) Apply(ctx context.Context, event domain.Event, delivery domain.Delivery) (domain.ApplyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	email := domain.NormalizeEmail(event.CustomerEmail())

	eventRow := &domain.EventRecord{
		ID:         s.genID.Generate(),
		WebhookID:  delivery.WebhookID,
		EventType:  event.EventType(),
		Email:      email,
		Payload:    datatypes.JSON(delivery.Payload),
		ReceivedAt: s.clock.Now(),
	}
	if delivery.WebhookID != "" {
		if err := s.repo.InsertEvent(ctx, s.db, eventRow); err != nil {
			if !db.IsDuplicateKeyErr(err) {
				return domain.ApplyResult{}, fmt.Errorf("%w: record event: %v", domain.ErrStorageUnavailable, err)
			}

			prior, lookupErr := s.repo.GetEvent(ctx, s.db, delivery.WebhookID)
			if lookupErr != nil {
				return domain.ApplyResult{}, fmt.Errorf("%w: read event log: %v", domain.ErrStorageUnavailable, lookupErr)
			}
			if prior == nil || prior.Applied {
				s.log.Debug("webhook replay ignored", zap.String("webhook_id", delivery.WebhookID))
				return s.finish(ctx, event, domain.ApplyResult{Outcome: domain.OutcomeReplayed}), nil
			}

			// Logged but never applied: a store failure interrupted the
			// earlier delivery after the log insert. The provider retry
			// must resume the merge under the original row, otherwise the
			// event is acknowledged without ever taking effect.
			eventRow.ID = prior.ID
		}
	}

	if _, ok := event.(domain.Unrecognized); ok {
		s.log.Debug("unrecognized event acknowledged", zap.String("event_type", event.EventType()))
		return s.finish(ctx, event, domain.ApplyResult{Outcome: domain.OutcomeUnrecognized}), nil
	}
	if email == "" {
		s.log.Debug("event without customer email acknowledged", zap.String("event_type", event.EventType()))
		return s.finish(ctx, event, domain.ApplyResult{Outcome: domain.OutcomeNoEmail}), nil
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	if s.locker != nil {
		token, err := s.locker.Acquire(ctx, lockKeyPrefix+email, s.storeTimeout)
		if err != nil {
			return domain.ApplyResult{}, fmt.Errorf("%w: acquire lock: %v", domain.ErrStorageUnavailable, err)
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKeyPrefix+email, token); err != nil {
				s.log.Warn("release lock failed", zap.String("email", email), zap.Error(err))
			}
		}()
	}

	current, err := s.repo.Get(ctx, s.db, email)
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("%w: read record: %v", domain.ErrStorageUnavailable, err)
	}

	record := domain.CustomerEntitlement{Email: email}
	if current != nil {
		record = *current
	}

	merged, applied := domain.Merge(record, event, s.clock.Now())
	if !applied {
		s.log.Debug("event produced no change",
			zap.String("event_type", event.EventType()),
			zap.String("email", email),
		)
		return s.finish(ctx, event, domain.ApplyResult{Outcome: domain.OutcomeNoChange}), nil
	}

	if err := s.repo.Put(ctx, s.db, email, merged); err != nil {
		return domain.ApplyResult{}, fmt.Errorf("%w: write record: %v", domain.ErrStorageUnavailable, err)
	}

	if delivery.WebhookID != "" {
		if err := s.repo.MarkEventApplied(ctx, s.db, eventRow.ID); err != nil {
			s.log.Warn("mark event applied failed", zap.Error(err))
		}
	}

	s.log.Info("event applied",
		zap.String("event_type", event.EventType()),
		zap.String("email", email),
	)
	return s.finish(ctx, event, domain.ApplyResult{Applied: true, Outcome: domain.OutcomeApplied}), nil
}

// QueryAccess projects the stored record into an access view. An unknown
// email answers successfully with zero access.
func (s *Service) QueryAccess(ctx context.Context, email string) (domain.AccessView, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return domain.AccessView{}, domain.ErrInvalidEmail
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.repo.Get(ctx, s.db, normalized)
	if err != nil {
		return domain.AccessView{}, fmt.Errorf("%w: read record: %v", domain.ErrStorageUnavailable, err)
	}

	view := domain.BuildAccessView(normalized, record)
	s.metrics.RecordAccessQuery(ctx, view.HasActiveAccess)
	return view, nil
}

func (s *Service) finish(ctx context.Context, event domain.Event, result domain.ApplyResult) domain.ApplyResult {
	s.metrics.RecordWebhookEvent(ctx, event.EventType(), result.Outcome)
	return result
}
