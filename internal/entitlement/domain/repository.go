package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, email string) (*CustomerEntitlement, error)
	Put(ctx context.Context, db *gorm.DB, email string, record CustomerEntitlement) error
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) error
	GetEvent(ctx context.Context, db *gorm.DB, webhookID string) (*EventRecord, error)
	MarkEventApplied(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
