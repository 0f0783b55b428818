// Package errors defines the error taxonomy shared by the compliance
// services. Callers distinguish the categories with the Is* helpers; HTTP
// and CLI layers map them to user-facing responses.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions re-exported so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
	New    = errors.New
)

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports an optimistic-concurrency loss: another actor won the
// conditional update first. Retrying is the caller's decision.
type ConflictError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: already claimed by another actor", e.Resource, e.ID)
}

// InvalidStateTransition reports an illegal lifecycle move.
type InvalidStateTransition struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition for %s %s: %s -> %s", e.Resource, e.ID, e.From, e.To)
}

// IntegrityViolation reports a break in the audit hash chain found by
// verification. It is never auto-corrected.
type IntegrityViolation struct {
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("audit chain integrity violation at sequence %d: %s", e.Sequence, e.Reason)
}

// DeliveryFailure reports a failed outbound submission (regulator filing,
// notification). The enclosing local state transition still commits; the
// delivery is retried out-of-band.
type DeliveryFailure struct {
	Target string `json:"target"`
	Cause  error  `json:"-"`
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Cause)
}

func (e *DeliveryFailure) Unwrap() error { return e.Cause }

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsInvalidTransition reports whether err is (or wraps) an InvalidStateTransition.
func IsInvalidTransition(err error) bool {
	var te *InvalidStateTransition
	return errors.As(err, &te)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsDeliveryFailure reports whether err is (or wraps) a DeliveryFailure.
func IsDeliveryFailure(err error) bool {
	var de *DeliveryFailure
	return errors.As(err, &de)
}
