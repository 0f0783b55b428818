package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/regulatory"
	"github.com/meridianfs/compliance/pkg/errors"
)

const resourceType = "incident"

// Service manages the incident lifecycle and its notification clocks.
type Service struct {
	db         *gorm.DB
	auditor    *audit.Service
	deliveries *regulatory.DeliveryStore
	cfg        Config
	clock      clock.Clock
	logger     *zap.Logger
}

// NewService creates the incident lifecycle service.
func NewService(
	db *gorm.DB,
	cfg Config,
	auditor *audit.Service,
	deliveries *regulatory.DeliveryStore,
	clk clock.Clock,
	logger *zap.Logger,
) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{db: db, cfg: cfg, auditor: auditor, deliveries: deliveries, clock: clk, logger: logger}, nil
}

// OpenParams describes a newly detected incident.
type OpenParams struct {
	Severity        Severity
	DetectedAt      time.Time
	DataCompromised bool
	Metadata        Metadata
}

// Open records a detected incident in state OPEN. DetectedAt starts the
// notification clock; zero means "now".
func (s *Service) Open(ctx context.Context, p OpenParams) (*Incident, error) {
	if !ValidSeverity(p.Severity) {
		return nil, errors.NewValidation("severity", fmt.Sprintf("unknown severity %q", p.Severity))
	}
	if err := p.Metadata.Validate(p.DataCompromised); err != nil {
		return nil, err
	}
	detectedAt := p.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.clock.Now()
	}

	inc := &Incident{
		ID:              uuid.New(),
		Kind:            p.Metadata.Kind,
		Severity:        p.Severity,
		State:           StateOpen,
		DetectedAt:      detectedAt.UTC(),
		DataCompromised: p.DataCompromised,
		Metadata:        p.Metadata,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inc).Error; err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		details, _ := json.Marshal(map[string]interface{}{
			"kind":             inc.Kind,
			"severity":         inc.Severity,
			"state":            inc.State,
			"data_compromised": inc.DataCompromised,
		})
		_, err := s.auditor.Append(tx, audit.Record{
			Operation:    "incident.open",
			Actor:        "system",
			ResourceType: resourceType,
			ResourceID:   inc.ID.String(),
			Details:      string(details),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// Get loads one incident.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	var inc Incident
	err := s.db.WithContext(ctx).First(&inc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errors.NotFoundError{Resource: resourceType, ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}
	return &inc, nil
}

// ListActive returns incidents that are not yet closed, oldest first.
func (s *Service) ListActive(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Incident
	err := s.db.WithContext(ctx).
		Where("state <> ?", StateClosed).
		Order("detected_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active incidents: %w", err)
	}
	return out, nil
}

// Transition moves an incident to a new lifecycle state. Illegal moves fail
// with InvalidStateTransition and leave no trace; legal ones commit together
// with their audit entry.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target State, actor string) (*Incident, error) {
	if actor == "" {
		return nil, errors.NewValidation("actor", "must not be empty")
	}
	var inc Incident
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&inc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &errors.NotFoundError{Resource: resourceType, ID: id.String()}
			}
			return fmt.Errorf("failed to load incident: %w", err)
		}
		if !inc.State.CanTransitionTo(target) {
			return &errors.InvalidStateTransition{
				Resource: resourceType,
				ID:       id.String(),
				From:     string(inc.State),
				To:       string(target),
			}
		}

		before := inc.State
		updates := map[string]interface{}{"state": target}
		if target == StateClosed {
			closedAt := s.clock.Now().UTC()
			updates["closed_at"] = closedAt
			inc.ClosedAt = &closedAt
		}
		if err := tx.Model(&inc).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition incident: %w", err)
		}
		inc.State = target

		details, _ := json.Marshal(map[string]interface{}{
			"from": before,
			"to":   target,
		})
		_, err := s.auditor.Append(tx, audit.Record{
			Operation:    "incident.transition",
			Actor:        actor,
			ResourceType: resourceType,
			ResourceID:   id.String(),
			Details:      string(details),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// Deadline returns the regulator notification deadline for the incident's
// severity.
func (s *Service) Deadline(inc *Incident) time.Time {
	return inc.DetectedAt.Add(time.Duration(s.cfg.deadlineHours(inc.Severity)) * time.Hour)
}

// TimeRemaining returns the time left on the primary notification clock at
// now; negative means overdue.
func (s *Service) TimeRemaining(inc *Incident, now time.Time) time.Duration {
	return s.Deadline(inc).Sub(now)
}

func (s *Service) statusFor(remaining time.Duration) DeadlineStatus {
	switch {
	case remaining < 0:
		return StatusOverdue
	case remaining < time.Duration(s.cfg.DueSoonHours)*time.Hour:
		return StatusDueSoon
	default:
		return StatusOnTrack
	}
}

// StatusAt derives the deadline view of an incident at now. An incident can
// be on track for the primary deadline while already overdue on the
// breach-specific one; the two clocks never collapse into each other.
func (s *Service) StatusAt(inc *Incident, now time.Time) StatusReport {
	remaining := s.TimeRemaining(inc, now)
	report := StatusReport{
		IncidentID:     inc.ID,
		State:          inc.State,
		Deadline:       s.Deadline(inc),
		TimeRemaining:  remaining,
		DeadlineStatus: s.statusFor(remaining),
	}
	if inc.DataCompromised {
		breachDeadline := inc.DetectedAt.Add(time.Duration(s.cfg.BreachDeadlineHours) * time.Hour)
		breachRemaining := breachDeadline.Sub(now)
		report.Breach = &BreachStatus{
			Deadline:      breachDeadline,
			TimeRemaining: breachRemaining,
			Status:        s.statusFor(breachRemaining),
			Reported:      inc.BreachReported,
		}
	}
	return report
}

// ClaimFinCrimeNotification flips the financial-crime notification flag if it
// is still unset, recording the pending delivery and audit entry in the same
// transaction. The conditional update makes re-running schedulers safe: only
// one caller ever gets claimed=true, everyone else observes the flag and
// does nothing.
func (s *Service) ClaimFinCrimeNotification(ctx context.Context, inc *Incident) (*regulatory.Delivery, bool, error) {
	return s.claimNotification(ctx, inc, regulatory.TargetFinCrime, "fin_crime_reported", "incident.fincrime_notification_claimed")
}

// ClaimBreachNotification is the breach-clock counterpart of
// ClaimFinCrimeNotification.
func (s *Service) ClaimBreachNotification(ctx context.Context, inc *Incident) (*regulatory.Delivery, bool, error) {
	if !inc.DataCompromised {
		return nil, false, nil
	}
	return s.claimNotification(ctx, inc, regulatory.TargetBreach, "breach_reported", "incident.breach_notification_claimed")
}

func (s *Service) claimNotification(ctx context.Context, inc *Incident, target, flagColumn, operation string) (*regulatory.Delivery, bool, error) {
	var delivery *regulatory.Delivery
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Incident{}).
			Where("id = ? AND "+flagColumn+" = ?", inc.ID, false).
			Update(flagColumn, true)
		if res.Error != nil {
			return fmt.Errorf("failed to claim %s notification: %w", target, res.Error)
		}
		if res.RowsAffected == 0 {
			// already claimed by an earlier or concurrent cycle
			return nil
		}
		claimed = true

		details, _ := json.Marshal(map[string]interface{}{
			"target":   target,
			"severity": inc.Severity,
		})
		if _, err := s.auditor.Append(tx, audit.Record{
			Operation:    operation,
			Actor:        "scheduler",
			ResourceType: resourceType,
			ResourceID:   inc.ID.String(),
			Details:      string(details),
		}); err != nil {
			return err
		}

		if s.deliveries != nil {
			d, err := s.deliveries.Record(tx, target, regulatory.Submission{
				ResourceType: resourceType,
				ResourceID:   inc.ID.String(),
				Severity:     string(inc.Severity),
				Summary:      fmt.Sprintf("%s notification for %s incident %s", target, inc.Kind, inc.ID),
			})
			if err != nil {
				return err
			}
			delivery = d
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return delivery, claimed, nil
}

// RecordRegulatorRef stores a filing reference returned by a regulator, with
// its audit entry.
func (s *Service) RecordRegulatorRef(ctx context.Context, id uuid.UUID, target, ref string) error {
	column := "fin_crime_ref"
	if target == regulatory.TargetBreach {
		column = "breach_ref"
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Incident{}).Where("id = ?", id).Update(column, ref).Error; err != nil {
			return fmt.Errorf("failed to store regulator reference: %w", err)
		}
		details, _ := json.Marshal(map[string]string{"target": target, "reference": ref})
		_, err := s.auditor.Append(tx, audit.Record{
			Operation:    "incident.regulator_ref_recorded",
			Actor:        "system",
			ResourceType: resourceType,
			ResourceID:   id.String(),
			Details:      string(details),
		})
		return err
	})
}
