// Package regulatory holds the outbound collaborator boundaries: the two
// regulator submission targets and the fire-and-forget notifier. Failed
// submissions are recorded as deliveries and retried by the scheduler; they
// never block or roll back a local compliance state transition.
package regulatory

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submission targets.
const (
	TargetFinCrime = "fincrime"
	TargetBreach   = "breach"
)

// Submission is the payload filed with a regulator.
type Submission struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Severity     string `json:"severity,omitempty"`
	Summary      string `json:"summary"`
}

// FinCrimeReporter files suspicious matter reports with the financial-crime
// regulator and returns the filing reference.
type FinCrimeReporter interface {
	SubmitSuspiciousMatter(ctx context.Context, sub Submission) (string, error)
}

// BreachReporter files data-breach notifications with the privacy regulator
// and returns the filing reference.
type BreachReporter interface {
	SubmitBreachNotification(ctx context.Context, sub Submission) (string, error)
}

// Notifier delivers operational notifications. Failures are logged by
// callers, never propagated into compliance state.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogReporter is a development stand-in for both regulator targets: it logs
// the submission and fabricates a reference id.
type LogReporter struct {
	Target string
	Logger *zap.Logger
}

func (r *LogReporter) submit(sub Submission) (string, error) {
	ref := uuid.New().String()
	r.Logger.Info("regulator submission (log sink)",
		zap.String("target", r.Target),
		zap.String("resource_type", sub.ResourceType),
		zap.String("resource_id", sub.ResourceID),
		zap.String("reference", ref))
	return ref, nil
}

// SubmitSuspiciousMatter implements FinCrimeReporter.
func (r *LogReporter) SubmitSuspiciousMatter(_ context.Context, sub Submission) (string, error) {
	return r.submit(sub)
}

// SubmitBreachNotification implements BreachReporter.
func (r *LogReporter) SubmitBreachNotification(_ context.Context, sub Submission) (string, error) {
	return r.submit(sub)
}

// LogNotifier is a development Notifier that logs instead of emailing.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.Logger.Info("notification (log sink)", zap.String("subject", subject), zap.String("body", body))
	return nil
}
