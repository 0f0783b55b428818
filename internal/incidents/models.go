// Package incidents tracks regulatory incidents from detection to closure,
// including the statutory notification deadlines that run from detection
// time.
package incidents

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridianfs/compliance/pkg/errors"
)

// State is an incident's lifecycle state.
type State string

const (
	StateOpen          State = "OPEN"
	StateInvestigating State = "INVESTIGATING"
	StateReported      State = "REPORTED_TO_REGULATOR"
	StateClosed        State = "CLOSED"
)

var legalTransitions = map[State][]State{
	StateOpen:          {StateInvestigating},
	StateInvestigating: {StateReported, StateClosed},
	StateReported:      {StateClosed},
	StateClosed:        {},
}

// CanTransitionTo reports whether the move from s to target is legal.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range legalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Severity of an incident; drives the notification deadline.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DeadlineStatus is derived from the clock at query time, never stored.
type DeadlineStatus string

const (
	StatusOnTrack DeadlineStatus = "ON_TRACK"
	StatusDueSoon DeadlineStatus = "DUE_SOON"
	StatusOverdue DeadlineStatus = "OVERDUE"
)

// Metadata kinds.
const (
	KindFraud       = "fraud"
	KindDataBreach  = "data_breach"
	KindSanctions   = "sanctions_hit"
	KindOperational = "operational"
)

// Metadata is the structured, kind-tagged payload attached to an incident.
// It replaces free-form JSON so downstream code never branches on untyped
// data; validation happens once at the boundary.
type Metadata struct {
	Kind             string   `json:"kind"`
	Description      string   `json:"description"`
	AffectedAccounts []string `json:"affected_accounts,omitempty"`
	SystemsInvolved  []string `json:"systems_involved,omitempty"`
	RecordsExposed   int      `json:"records_exposed,omitempty"`
	RegulatorCaseRef string   `json:"regulator_case_ref,omitempty"`
}

// Validate checks kind-specific requirements.
func (m *Metadata) Validate(dataCompromised bool) error {
	switch m.Kind {
	case KindFraud, KindSanctions, KindOperational:
	case KindDataBreach:
		if m.RecordsExposed <= 0 {
			return errors.NewValidation("metadata.records_exposed", "required for data_breach incidents")
		}
	default:
		return errors.NewValidation("metadata.kind", "unknown incident kind")
	}
	if m.Description == "" {
		return errors.NewValidation("metadata.description", "must not be empty")
	}
	if m.Kind == KindDataBreach && !dataCompromised {
		return errors.NewValidation("data_compromised", "must be true for data_breach incidents")
	}
	return nil
}

// Incident is a regulatory incident record. It is mutated only through the
// defined state transitions and is never deleted; closed incidents remain
// for audit.
type Incident struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind             string     `gorm:"type:varchar(50);not null;index" json:"kind"`
	Severity         Severity   `gorm:"type:varchar(20);not null;index" json:"severity"`
	State            State      `gorm:"type:varchar(30);not null;index" json:"state"`
	DetectedAt       time.Time  `gorm:"not null;index" json:"detected_at"`
	DataCompromised  bool       `gorm:"not null" json:"data_compromised"`
	FinCrimeReported bool       `gorm:"not null;default:false" json:"fincrime_reported"`
	BreachReported   bool       `gorm:"not null;default:false" json:"breach_reported"`
	FinCrimeRef      string     `gorm:"type:varchar(128)" json:"fincrime_ref,omitempty"`
	BreachRef        string     `gorm:"type:varchar(128)" json:"breach_ref,omitempty"`
	Metadata         Metadata   `gorm:"serializer:json" json:"metadata"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// TableName returns the table name for GORM.
func (Incident) TableName() string { return "incident_reports" }

// StatusReport is the deadline view of an incident at a given instant. All
// fields are recomputed from now; nothing here is stored.
type StatusReport struct {
	IncidentID     uuid.UUID      `json:"incident_id"`
	State          State          `json:"state"`
	Deadline       time.Time      `json:"deadline"`
	TimeRemaining  time.Duration  `json:"time_remaining"`
	DeadlineStatus DeadlineStatus `json:"deadline_status"`
	Breach         *BreachStatus  `json:"breach,omitempty"`
}

// BreachStatus is the independent data-breach notification clock. It exists
// only when the incident has DataCompromised set and runs on its own
// deadline and reporting target.
type BreachStatus struct {
	Deadline      time.Time      `json:"deadline"`
	TimeRemaining time.Duration  `json:"time_remaining"`
	Status        DeadlineStatus `json:"status"`
	Reported      bool           `json:"reported"`
}
