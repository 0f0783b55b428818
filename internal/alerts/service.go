package alerts

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
	"github.com/meridianfs/compliance/pkg/metrics"
)

const resourceType = "alert"

// Service owns the alert review workflow. Every mutation appends an audit
// entry in the same database transaction.
type Service struct {
	db                *gorm.DB
	auditor           *audit.Service
	deliveries        *regulatory.DeliveryStore
	fincrime          regulatory.FinCrimeReporter
	clock             clock.Clock
	logger            *zap.Logger
	submissionTimeout time.Duration
}

// NewService creates the alert workflow service.
func NewService(
	db *gorm.DB,
	auditor *audit.Service,
	deliveries *regulatory.DeliveryStore,
	fincrime regulatory.FinCrimeReporter,
	clk clock.Clock,
	logger *zap.Logger,
	submissionTimeout time.Duration,
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
	if submissionTimeout <= 0 {
		submissionTimeout = 10 * time.Second
	}
	return &Service{
		db:                db,
		auditor:           auditor,
		deliveries:        deliveries,
		fincrime:          fincrime,
		clock:             clk,
		logger:            logger,
		submissionTimeout: submissionTimeout,
	}, nil
}

// CreateParams carries the assessment fields an alert is derived from.
type CreateParams struct {
	AssessmentID   uuid.UUID
	TransactionID  uuid.UUID
	AccountID      uuid.UUID
	Score          int
	TriggeredRules []string
}

// Create inserts a PENDING alert inside the caller's transaction, together
// with its audit entry.
func (s *Service) Create(tx *gorm.DB, p CreateParams) (*Alert, error) {
	alert := &Alert{
		ID:             uuid.New(),
		AssessmentID:   p.AssessmentID,
		TransactionID:  p.TransactionID,
		AccountID:      p.AccountID,
		Score:          p.Score,
		TriggeredRules: p.TriggeredRules,
		State:          StatePending,
	}
	if err := tx.Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	details, _ := json.Marshal(map[string]interface{}{
		"score": p.Score,
		"rules": p.TriggeredRules,
		"state": StatePending,
	})
	if _, err := s.auditor.Append(tx, audit.Record{
		Operation:    "alert.create",
		Actor:        "system",
		ResourceType: resourceType,
		ResourceID:   alert.ID.String(),
		Details:      string(details),
	}); err != nil {
		return nil, err
	}

	metrics.AlertTransitions.WithLabelValues(string(StatePending)).Inc()
	return alert, nil
}

// Get loads one alert.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	var alert Alert
	err := s.db.WithContext(ctx).First(&alert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errors.NotFoundError{Resource: resourceType, ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return &alert, nil
}

// ListPending returns PENDING alerts, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Alert
	err := s.db.WithContext(ctx).
		Where("state = ?", StatePending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending alerts: %w", err)
	}
	return out, nil
}

// ListPendingBefore returns PENDING alerts created at or before cutoff. The
// scheduler uses it for SLA scans.
func (s *Service) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Alert
	err := s.db.WithContext(ctx).
		Where("state = ? AND created_at <= ?", StatePending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale alerts: %w", err)
	}
	return out, nil
}

// Claim moves a PENDING alert to UNDER_REVIEW for one reviewer. The guard is
// a single conditional update: zero affected rows means another reviewer got
// there first and the caller receives a ConflictError. The service never
// retries on the caller's behalf.
func (s *Service) Claim(ctx context.Context, id, reviewerID uuid.UUID) (*Alert, error) {
	var claimed Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Alert{}).
			Where("id = ? AND state = ?", id, StatePending).
			Updates(map[string]interface{}{
				"state":       StateUnderReview,
				"reviewer_id": reviewerID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim alert: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&Alert{}).Where("id = ?", id).Count(&exists).Error; err != nil {
				return fmt.Errorf("failed to check alert existence: %w", err)
			}
			if exists == 0 {
				return &errors.NotFoundError{Resource: resourceType, ID: id.String()}
			}
			metrics.ClaimConflicts.Inc()
			return &errors.ConflictError{Resource: resourceType, ID: id.String()}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"from":     StatePending,
			"to":       StateUnderReview,
			"reviewer": reviewerID,
		})
		if _, err := s.auditor.Append(tx, audit.Record{
			Operation:    "alert.claim",
			Actor:        reviewerID.String(),
			ResourceType: resourceType,
			ResourceID:   id.String(),
			Details:      string(details),
		}); err != nil {
			return err
		}
		return tx.First(&claimed, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.AlertTransitions.WithLabelValues(string(StateUnderReview)).Inc()
	return &claimed, nil
}

// Decide records the verdict of the reviewer holding the claim. The local
// transition and its audit entry always commit together; for a REPORTED
// decision the regulator submission happens after commit, and its failure
// surfaces as a DeliveryFailure alongside the decided alert rather than
// rolling anything back.
func (s *Service) Decide(ctx context.Context, id, reviewerID uuid.UUID, decision Decision, notes string) (*Alert, error) {
	target, ok := decision.StateFor()
	if !ok {
		return nil, errors.NewValidation("decision", fmt.Sprintf("unknown decision %q", decision))
	}

	var alert Alert
	var delivery *regulatory.Delivery
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alert, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &errors.NotFoundError{Resource: resourceType, ID: id.String()}
			}
			return fmt.Errorf("failed to load alert: %w", err)
		}
		if alert.State != StateUnderReview {
			return &errors.InvalidStateTransition{
				Resource: resourceType,
				ID:       id.String(),
				From:     string(alert.State),
				To:       string(target),
			}
		}
		if alert.ReviewerID == nil || *alert.ReviewerID != reviewerID {
			return &errors.ConflictError{Resource: resourceType, ID: id.String()}
		}

		now := s.clock.Now().UTC()
		before := alert.State
		if err := tx.Model(&alert).Updates(map[string]interface{}{
			"state":      target,
			"notes":      notes,
			"decided_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to record decision: %w", err)
		}
		alert.State = target
		alert.Notes = notes
		alert.DecidedAt = &now

		details, _ := json.Marshal(map[string]interface{}{
			"from":     before,
			"to":       target,
			"decision": decision,
			"reviewer": reviewerID,
			"notes":    notes,
		})
		if _, err := s.auditor.Append(tx, audit.Record{
			Operation:    "alert.decide",
			Actor:        reviewerID.String(),
			ResourceType: resourceType,
			ResourceID:   id.String(),
			Details:      string(details),
		}); err != nil {
			return err
		}

		if target == StateReported && s.deliveries != nil {
			d, err := s.deliveries.Record(tx, regulatory.TargetFinCrime, regulatory.Submission{
				ResourceType: resourceType,
				ResourceID:   id.String(),
				Summary:      fmt.Sprintf("suspicious matter report for alert %s (score %d)", id, alert.Score),
			})
			if err != nil {
				return err
			}
			delivery = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AlertTransitions.WithLabelValues(string(target)).Inc()

	if delivery != nil && s.fincrime != nil {
		if err := s.submitReport(ctx, &alert, delivery); err != nil {
			return &alert, err
		}
	}
	return &alert, nil
}

// submitReport files the suspicious matter report recorded by Decide. The
// caller-supplied timeout on this outbound call is the only cancellation
// surface in the workflow.
func (s *Service) submitReport(ctx context.Context, alert *Alert, delivery *regulatory.Delivery) error {
	subCtx, cancel := context.WithTimeout(ctx, s.submissionTimeout)
	defer cancel()

	ref, err := s.fincrime.SubmitSuspiciousMatter(subCtx, delivery.Payload)
	if err != nil {
		metrics.RegulatorSubmissions.WithLabelValues(regulatory.TargetFinCrime, "failure").Inc()
		if merr := s.deliveries.MarkFailed(context.WithoutCancel(ctx), delivery.ID, err); merr != nil {
			s.logger.Error("failed to record delivery failure", zap.Error(merr))
		}
		s.logger.Warn("regulator submission failed, delivery queued for retry",
			zap.String("alert_id", alert.ID.String()), zap.Error(err))
		return &errors.DeliveryFailure{Target: regulatory.TargetFinCrime, Cause: err}
	}

	metrics.RegulatorSubmissions.WithLabelValues(regulatory.TargetFinCrime, "success").Inc()
	if err := s.deliveries.MarkSent(ctx, delivery.ID, ref); err != nil {
		s.logger.Error("failed to mark delivery sent", zap.Error(err))
	}
	if err := s.RecordSubmissionRef(ctx, alert.ID, ref); err != nil {
		return err
	}
	alert.SubmissionRef = ref
	return nil
}

// RecordSubmissionRef stores a regulator filing reference on a reported
// alert, with its audit entry. Both the inline submission path and the
// scheduler's retry pass go through here so a late success leaves the same
// trail as an immediate one.
func (s *Service) RecordSubmissionRef(ctx context.Context, id uuid.UUID, ref string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Alert{}).Where("id = ?", id).
			Update("submission_ref", ref).Error; err != nil {
			return fmt.Errorf("failed to store submission reference: %w", err)
		}
		details, _ := json.Marshal(map[string]string{"submission_ref": ref})
		_, err := s.auditor.Append(tx, audit.Record{
			Operation:    "alert.submission_recorded",
			Actor:        "system",
			ResourceType: resourceType,
			ResourceID:   id.String(),
			Details:      string(details),
		})
		return err
	})
}
