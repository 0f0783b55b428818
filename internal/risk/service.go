package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/velocity"
	"github.com/meridianfs/compliance/pkg/errors"
	"github.com/meridianfs/compliance/pkg/metrics"
)

// Service wraps the pure Engine with persistence: it records the observed
// transaction, loads account history, stores the assessment, and opens an
// alert when review is required, all inside one database transaction with
// the matching audit entries.
type Service struct {
	db      *gorm.DB
	engine  *Engine
	auditor *audit.Service
	alerts  *alerts.Service
	cache   *velocity.Cache
	clock   clock.Clock
	logger  *zap.Logger
	cfg     Config
}

// NewService creates the risk assessment service. cache may be nil.
func NewService(
	db *gorm.DB,
	cfg Config,
	auditor *audit.Service,
	alertSvc *alerts.Service,
	cache *velocity.Cache,
	clk clock.Clock,
	logger *zap.Logger,
) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	if alertSvc == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:      db,
		engine:  NewEngine(cfg),
		auditor: auditor,
		alerts:  alertSvc,
		cache:   cache,
		clock:   clk,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// validate checks transactions at the assess boundary against the struct
// tags. Decimal amounts are surfaced to the validator as float64 so numeric
// tags like gt apply.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateTransaction(txn *Transaction) error {
	err := validate.Struct(txn)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewValidation(fe.Field(), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return errors.NewValidation("transaction", err.Error())
}

// AssessTransaction records the transaction and returns its risk assessment.
// Malformed input is rejected before any state change. A duplicate
// transaction id produces a fresh assessment against the stored record,
// preserving history instead of mutating it.
func (s *Service) AssessTransaction(ctx context.Context, txn Transaction) (*Assessment, error) {
	if err := validateTransaction(&txn); err != nil {
		return nil, err
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.OccurredAt = txn.OccurredAt.UTC()

	// Advisory pre-check only. The authoritative window sum below always
	// comes from the transactional store.
	if s.cache != nil {
		if sum, ok := s.cache.DaySum(ctx, txn.AccountID, txn.OccurredAt); ok {
			s.logger.Debug("velocity cache pre-check",
				zap.String("account_id", txn.AccountID.String()),
				zap.String("cached_day_sum", sum.String()))
		}
	}

	var assessment *Assessment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Transaction
		err := tx.First(&existing, "id = ?", txn.ID).Error
		switch {
		case err == nil:
			// already observed; the stored record is immutable and wins
			txn = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&txn).Error; err != nil {
				return fmt.Errorf("failed to record transaction: %w", err)
			}
		default:
			return fmt.Errorf("failed to look up transaction: %w", err)
		}

		history, err := s.loadHistory(tx, txn)
		if err != nil {
			return err
		}

		result := s.engine.Assess(txn, history)
		result.ID = uuid.New()
		result.AssessedAt = s.clock.Now().UTC()
		if err := tx.Create(&result).Error; err != nil {
			return fmt.Errorf("failed to store assessment: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"score":           result.Score,
			"rules":           result.TriggeredRules,
			"requires_review": result.RequiresReview,
		})
		if _, err := s.auditor.Append(tx, audit.Record{
			Operation:    "risk.assess",
			Actor:        "system",
			ResourceType: "assessment",
			ResourceID:   result.ID.String(),
			Details:      string(details),
		}); err != nil {
			return err
		}

		if result.RequiresReview {
			if _, err := s.alerts.Create(tx, alerts.CreateParams{
				AssessmentID:   result.ID,
				TransactionID:  txn.ID,
				AccountID:      txn.AccountID,
				Score:          result.Score,
				TriggeredRules: result.TriggeredRules,
			}); err != nil {
				return err
			}
		}

		assessment = &result
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "clean"
	if assessment.RequiresReview {
		outcome = "review"
	}
	metrics.TransactionsAssessed.WithLabelValues(outcome).Inc()

	if s.cache != nil {
		s.cache.Add(ctx, txn.AccountID, txn.Amount, txn.OccurredAt)
	}
	return assessment, nil
}

// loadHistory returns the account's earlier transactions inside the history
// window, excluding the one being assessed.
func (s *Service) loadHistory(tx *gorm.DB, txn Transaction) ([]Transaction, error) {
	var history []Transaction
	err := tx.
		Where("account_id = ? AND id <> ? AND occurred_at >= ? AND occurred_at <= ?",
			txn.AccountID, txn.ID, txn.OccurredAt.Add(-s.cfg.HistoryWindow), txn.OccurredAt).
		Order("occurred_at ASC").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load account history: %w", err)
	}
	return history, nil
}

// AssessmentsForAccount returns stored assessments, newest first.
func (s *Service) AssessmentsForAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]Assessment, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Assessment
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("assessed_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return out, nil
}
