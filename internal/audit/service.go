package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/pkg/errors"
	"github.com/meridianfs/compliance/pkg/metrics"
)

// Service appends to and verifies the audit chain.
type Service struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates an audit service.
func NewService(db *gorm.DB, clk clock.Clock, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{db: db, clock: clk, logger: logger}, nil
}

// Record is the caller-supplied portion of an audit entry.
type Record struct {
	Operation    string
	Actor        string
	ResourceType string
	ResourceID   string
	Details      string
}

// Append writes one chain entry inside the caller's transaction so the audit
// record commits or rolls back together with the business mutation it
// describes. Sequence assignment relies on the store running appends under
// serializable isolation; no in-process lock is taken.
func (s *Service) Append(tx *gorm.DB, rec Record) (*Entry, error) {
	if rec.Operation == "" {
		return nil, errors.NewValidation("operation", "must not be empty")
	}
	if rec.Actor == "" {
		return nil, errors.NewValidation("actor", "must not be empty")
	}

	prevHash := GenesisHash
	var seq int64 = 1
	var last Entry
	err := tx.Order("sequence DESC").First(&last).Error
	switch {
	case err == nil:
		prevHash = last.Hash
		seq = last.Sequence + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
		// empty chain, start at the genesis constant
	default:
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	entry := &Entry{
		ID:           uuid.New(),
		Sequence:     seq,
		Operation:    rec.Operation,
		Actor:        rec.Actor,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Details:      rec.Details,
		PrevHash:     prevHash,
		Timestamp:    s.clock.Now().UTC(),
	}
	entry.Hash = computeHash(entry.canonicalPayload(), prevHash)

	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	metrics.AuditEntriesAppended.Inc()
	return entry, nil
}

// Verify walks the chain in sequence order, recomputing each digest and
// checking linkage to the predecessor. It is read-only and exhaustive: every
// break is collected rather than failing fast, and once linkage is broken all
// later entries in the range are flagged as unverifiable. from/to bound the
// walk by sequence number; zero means unbounded on that side.
func (s *Service) Verify(ctx context.Context, from, to int64) (*VerificationResult, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Order("sequence ASC")
	if from > 0 {
		q = q.Where("sequence >= ?", from)
	}
	if to > 0 {
		q = q.Where("sequence <= ?", to)
	}

	var entries []Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	result := &VerificationResult{Valid: true, Checked: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	// Anchor linkage for a mid-chain range against the predecessor entry. A
	// full scan must start at sequence 1; a shorter chain means the prefix was
	// deleted out-of-band.
	var prev *Entry
	if first := entries[0]; first.Sequence > 1 {
		if from <= 1 {
			result.Errors = append(result.Errors, VerificationError{
				Sequence: first.Sequence,
				Reason:   fmt.Sprintf("chain prefix missing: expected sequence 1, found %d", first.Sequence),
			})
		} else {
			var anchor Entry
			err := s.db.WithContext(ctx).Where("sequence = ?", first.Sequence-1).First(&anchor).Error
			switch {
			case err == nil:
				prev = &anchor
			case errors.Is(err, gorm.ErrRecordNotFound):
				result.Errors = append(result.Errors, VerificationError{
					Sequence: first.Sequence,
					Reason:   fmt.Sprintf("predecessor entry %d missing, linkage unverifiable", first.Sequence-1),
				})
			default:
				return nil, fmt.Errorf("failed to load chain anchor: %w", err)
			}
		}
	}

	broken := false
	for i := range entries {
		e := &entries[i]
		if broken {
			result.Errors = append(result.Errors, VerificationError{
				Sequence: e.Sequence,
				Reason:   "unverifiable: chain broken at an earlier sequence",
			})
			continue
		}

		var errs []VerificationError
		if prev != nil {
			if e.Sequence != prev.Sequence+1 {
				errs = append(errs, VerificationError{
					Sequence: e.Sequence,
					Reason:   fmt.Sprintf("sequence gap: expected %d", prev.Sequence+1),
				})
			}
			if e.PrevHash != prev.Hash {
				errs = append(errs, VerificationError{
					Sequence: e.Sequence,
					Reason:   "prev_hash does not match predecessor digest",
				})
			}
		} else if e.Sequence == 1 && e.PrevHash != GenesisHash {
			errs = append(errs, VerificationError{
				Sequence: e.Sequence,
				Reason:   "first entry prev_hash is not the genesis constant",
			})
		}
		if computeHash(e.canonicalPayload(), e.PrevHash) != e.Hash {
			errs = append(errs, VerificationError{
				Sequence: e.Sequence,
				Reason:   "stored hash does not match recomputed digest",
			})
		}

		if len(errs) > 0 {
			broken = true
			result.Errors = append(result.Errors, errs...)
		}
		prev = e
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		metrics.AuditChainBreaks.Add(float64(len(result.Errors)))
		s.logger.Warn("audit chain verification found breaks",
			zap.Int("checked", result.Checked),
			zap.Int("errors", len(result.Errors)),
			zap.Int64("first_bad_sequence", result.Errors[0].Sequence))
	}
	return result, nil
}

// Head returns the most recent chain entry, or nil for an empty chain.
func (s *Service) Head(ctx context.Context) (*Entry, error) {
	var last Entry
	err := s.db.WithContext(ctx).Order("sequence DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	return &last, nil
}

// EntriesForResource returns the audit trail of one resource, oldest first.
func (s *Service) EntriesForResource(ctx context.Context, resourceType, resourceID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("sequence ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load resource audit trail: %w", err)
	}
	return entries, nil
}
