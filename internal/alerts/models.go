// Package alerts turns high-risk assessments into reviewable alerts and
// enforces the single-reviewer claim discipline.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// State is an alert's lifecycle state.
type State string

const (
	StatePending       State = "PENDING"
	StateUnderReview   State = "UNDER_REVIEW"
	StateCleared       State = "CLEARED"
	StateReported      State = "REPORTED"
	StateFalsePositive State = "FALSE_POSITIVE"
)

// Decision is a reviewer's verdict on a claimed alert.
type Decision string

const (
	DecisionCleared       Decision = "CLEARED"
	DecisionReported      Decision = "REPORTED"
	DecisionFalsePositive Decision = "FALSE_POSITIVE"
)

// StateFor maps a decision to the alert state it produces.
func (d Decision) StateFor() (State, bool) {
	switch d {
	case DecisionCleared:
		return StateCleared, true
	case DecisionReported:
		return StateReported, true
	case DecisionFalsePositive:
		return StateFalsePositive, true
	default:
		return "", false
	}
}

// Alert is a pending review item derived from a risk assessment. At most one
// reviewer holds UNDER_REVIEW at a time; the claim transition is a
// conditional update so racing reviewers produce exactly one winner.
type Alert struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssessmentID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"assessment_id"`
	TransactionID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"transaction_id"`
	AccountID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"account_id"`
	Score          int        `gorm:"not null" json:"score"`
	TriggeredRules []string   `gorm:"serializer:json" json:"triggered_rules"`
	State          State      `gorm:"type:varchar(20);not null;index" json:"state"`
	ReviewerID     *uuid.UUID `gorm:"type:uuid;index" json:"reviewer_id,omitempty"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	SubmissionRef  string     `gorm:"type:varchar(128)" json:"submission_ref,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string { return "compliance_alerts" }
