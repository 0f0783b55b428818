// Package risk scores financial transactions for money-laundering risk. The
// Engine is a pure function of its inputs and configuration; the Service
// around it owns persistence and alert creation.
package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rule identifiers reported on assessments and alerts.
const (
	RuleThreshold        = "THRESHOLD"
	RuleVelocity         = "VELOCITY"
	RuleStructuring      = "STRUCTURING"
	RuleHighRiskCategory = "HIGH_RISK_CATEGORY"
)

// Transaction is a financial transaction as observed by the engine. It is
// owned externally and immutable once recorded here.
type Transaction struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID  uuid.UUID       `gorm:"type:uuid;not null;index:idx_txn_account_time" json:"account_id" validate:"required"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount" validate:"required,gt=0"`
	Currency   string          `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3,alpha"`
	Merchant   string          `gorm:"type:varchar(255)" json:"merchant,omitempty"`
	Category   string          `gorm:"type:varchar(100);index" json:"category,omitempty"`
	OccurredAt time.Time       `gorm:"not null;index:idx_txn_account_time" json:"occurred_at" validate:"required"`
	ObservedAt time.Time       `gorm:"autoCreateTime" json:"observed_at"`
}

// TableName returns the table name for GORM.
func (Transaction) TableName() string { return "monitored_transactions" }

// Assessment is the immutable result of scoring one transaction. A
// re-assessment creates a new row; existing rows are never updated.
type Assessment struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID  uuid.UUID `gorm:"type:uuid;not null;index" json:"transaction_id"`
	AccountID      uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`
	Score          int       `gorm:"not null" json:"score"`
	TriggeredRules []string  `gorm:"serializer:json" json:"triggered_rules"`
	RequiresReview bool      `gorm:"not null;index" json:"requires_review"`
	AssessedAt     time.Time `gorm:"not null" json:"assessed_at"`
}

// TableName returns the table name for GORM.
func (Assessment) TableName() string { return "risk_assessments" }

// Triggered reports whether the assessment fired the given rule.
func (a *Assessment) Triggered(rule string) bool {
	for _, r := range a.TriggeredRules {
		if r == rule {
			return true
		}
	}
	return false
}
