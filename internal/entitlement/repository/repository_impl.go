package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, email string) (*domain.CustomerEntitlement, error) {
	var row domain.EntitlementRecord
	err := db.WithContext(ctx).Raw(
		`SELECT email, record, created_at, updated_at
		 FROM customer_entitlements WHERE email = ?`,
		email,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Email == "" {
		return nil, nil
	}

	var record domain.CustomerEntitlement
	if err := json.Unmarshal(row.Record, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) Put(ctx context.Context, db *gorm.DB, email string, record domain.CustomerEntitlement) error {
	record.Email = email
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	row := domain.EntitlementRecord{
		Email:     email,
		Record:    datatypes.JSON(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"record", "updated_at"}),
	}).Create(&row).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, webhook_id, event_type, email, payload, received_at, applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.WebhookID,
		event.EventType,
		event.Email,
		event.Payload,
		event.ReceivedAt,
		event.Applied,
	).Error
}

func (r *repo) GetEvent(ctx context.Context, db *gorm.DB, webhookID string) (*domain.EventRecord, error) {
	var row domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, webhook_id, event_type, email, payload, received_at, applied
		 FROM webhook_events WHERE webhook_id = ?`,
		webhookID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.WebhookID == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) MarkEventApplied(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET applied = ? WHERE id = ?`,
		true,
		id,
	).Error
}
