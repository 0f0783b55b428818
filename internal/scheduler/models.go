// Package scheduler drives the periodic compliance cycle: SLA scans over
// pending alerts, deadline scans over incidents, regulator notification
// dispatch, and delivery retries. Cycles are idempotent and safe under
// at-least-once invocation; deduplication rides on the persisted
// notification flags and delivery rows, not on any in-process lock.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Summary is the persisted result of one compliance cycle.
type Summary struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RanAt              time.Time `gorm:"not null;index" json:"ran_at"`
	Healthy            bool      `gorm:"not null" json:"healthy"`
	StaleAlerts        int       `gorm:"not null" json:"stale_alerts"`
	DueSoonIncidents   int       `gorm:"not null" json:"due_soon_incidents"`
	OverdueIncidents   int       `gorm:"not null" json:"overdue_incidents"`
	NotificationsSent  int       `gorm:"not null" json:"notifications_sent"`
	DeliveriesRetried  int       `gorm:"not null" json:"deliveries_retried"`
	StaleAlertIDs      []string  `gorm:"serializer:json" json:"stale_alert_ids,omitempty"`
	OverdueIncidentIDs []string  `gorm:"serializer:json" json:"overdue_incident_ids,omitempty"`
	DueSoonIncidentIDs []string  `gorm:"serializer:json" json:"due_soon_incident_ids,omitempty"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Summary) TableName() string { return "compliance_cycle_summaries" }

// Config holds the scheduler cadence and SLA policy.
type Config struct {
	// Interval between cycles when running as a daemon.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// AlertSLA is how long an alert may sit PENDING before it is flagged.
	AlertSLA time.Duration `mapstructure:"alert_sla" yaml:"alert_sla" validate:"gt=0"`

	// SubmissionTimeout bounds each outbound regulator call.
	SubmissionTimeout time.Duration `mapstructure:"submission_timeout" yaml:"submission_timeout" validate:"gt=0"`

	// MaxDeliveryAttempts caps retries per delivery before it needs manual
	// intervention.
	MaxDeliveryAttempts int `mapstructure:"max_delivery_attempts" yaml:"max_delivery_attempts" validate:"gt=0"`
}

// DefaultConfig returns the default scheduler policy.
func DefaultConfig() Config {
	return Config{
		Interval:            15 * time.Minute,
		AlertSLA:            24 * time.Hour,
		SubmissionTimeout:   10 * time.Second,
		MaxDeliveryAttempts: 10,
	}
}
