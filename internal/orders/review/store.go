// Package review persists order events that the pipeline gave up on, so an
// operator can inspect and replay them by hand.
package review

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// FailedOrder is one parked event: a non-retryable fulfillment failure or a
// workflow step whose publish failed.
type FailedOrder struct {
	ID          uint   `gorm:"primaryKey"`
	EventName   string `gorm:"type:varchar(64);index"`
	Payload     string
	Occurrences int
	Reason      string
	StatusCode  int
	CreatedAt   time.Time
}

type Store interface {
	Save(ctx context.Context, failed FailedOrder) error
}

type GormStore struct {
	db *gorm.DB
}

// NewStore migrates the failed_orders table and returns a store bound to db.
func NewStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&FailedOrder{}); err != nil {
		return nil, fmt.Errorf("migrate failed_orders: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, failed FailedOrder) error {
	return s.db.WithContext(ctx).Create(&failed).Error
}
