package regulatory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Delivery status values.
const (
	DeliveryPending = "PENDING"
	DeliverySent    = "SENT"
	DeliveryFailed  = "FAILED"
)

// Delivery tracks one outbound regulator submission through retries. A row is
// created in the same transaction as the local state change it follows from,
// so a crash between commit and submission leaves a pending row for the next
// cycle instead of a lost filing.
type Delivery struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Target       string     `gorm:"type:varchar(20);not null;index" json:"target"`
	ResourceType string     `gorm:"type:varchar(50);not null" json:"resource_type"`
	ResourceID   string     `gorm:"type:varchar(64);not null;index" json:"resource_id"`
	Payload      Submission `gorm:"serializer:json" json:"payload"`
	Status       string     `gorm:"type:varchar(20);not null;index" json:"status"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	ReferenceID  string     `gorm:"type:varchar(128)" json:"reference_id,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Delivery) TableName() string { return "regulator_deliveries" }

// DeliveryStore persists delivery attempts.
type DeliveryStore struct {
	db *gorm.DB
}

// NewDeliveryStore creates a delivery store.
func NewDeliveryStore(db *gorm.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// Record inserts a pending delivery inside the caller's transaction.
func (s *DeliveryStore) Record(tx *gorm.DB, target string, sub Submission) (*Delivery, error) {
	d := &Delivery{
		ID:           uuid.New(),
		Target:       target,
		ResourceType: sub.ResourceType,
		ResourceID:   sub.ResourceID,
		Payload:      sub,
		Status:       DeliveryPending,
	}
	if err := tx.Create(d).Error; err != nil {
		return nil, fmt.Errorf("failed to record delivery: %w", err)
	}
	return d, nil
}

// MarkSent stores the filing reference and closes out the delivery.
func (s *DeliveryStore) MarkSent(ctx context.Context, id uuid.UUID, ref string) error {
	return s.db.WithContext(ctx).Model(&Delivery{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       DeliverySent,
			"reference_id": ref,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

// MarkFailed records a failed attempt for later retry.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return s.db.WithContext(ctx).Model(&Delivery{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     DeliveryFailed,
			"last_error": cause.Error(),
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

// ListUndelivered returns deliveries still awaiting a successful submission,
// oldest first, skipping ones past the attempt limit.
func (s *DeliveryStore) ListUndelivered(ctx context.Context, maxAttempts, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Delivery
	err := s.db.WithContext(ctx).
		Where("status IN ? AND attempts < ?", []string{DeliveryPending, DeliveryFailed}, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered submissions: %w", err)
	}
	return out, nil
}
