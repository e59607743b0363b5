package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID, outcome string, processedAt time.Time) error
	RecordOutcome(ctx context.Context, db *gorm.DB, provider, providerEventID, outcome string) error
}
