package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/regulatory"
	"github.com/meridianfs/compliance/pkg/metrics"
)

// Scheduler runs the periodic compliance cycle.
type Scheduler struct {
	db         *gorm.DB
	cfg        Config
	alerts     *alerts.Service
	incidents  *incidents.Service
	deliveries *regulatory.DeliveryStore
	fincrime   regulatory.FinCrimeReporter
	breach     regulatory.BreachReporter
	notifier   regulatory.Notifier
	clock      clock.Clock
	logger     *zap.Logger
}

// New creates a scheduler.
func New(
	db *gorm.DB,
	cfg Config,
	alertSvc *alerts.Service,
	incidentSvc *incidents.Service,
	deliveries *regulatory.DeliveryStore,
	fincrime regulatory.FinCrimeReporter,
	breach regulatory.BreachReporter,
	notifier regulatory.Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if alertSvc == nil || incidentSvc == nil {
		return nil, fmt.Errorf("alert and incident services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Scheduler{
		db:         db,
		cfg:        cfg,
		alerts:     alertSvc,
		incidents:  incidentSvc,
		deliveries: deliveries,
		fincrime:   fincrime,
		breach:     breach,
		notifier:   notifier,
		clock:      clk,
		logger:     logger,
	}, nil
}

// Run executes cycles on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("compliance scheduler started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("compliance scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunCycle(ctx, s.clock.Now()); err != nil {
				s.logger.Error("compliance cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle executes one compliance cycle at the given instant. It is safe to
// invoke repeatedly or concurrently across instances: every side effect is
// guarded by a persisted flag or delivery row, so a second overlapping run
// observes the recorded state and does nothing twice.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) (*Summary, error) {
	started := time.Now()
	now = now.UTC()
	summary := &Summary{ID: uuid.New(), RanAt: now, Healthy: true}

	if err := s.healthCheck(ctx); err != nil {
		summary.Healthy = false
		s.logger.Error("cycle health check failed", zap.Error(err))
	}

	if err := s.scanStaleAlerts(ctx, now, summary); err != nil {
		return nil, err
	}
	if err := s.scanIncidents(ctx, now, summary); err != nil {
		return nil, err
	}
	if err := s.retryDeliveries(ctx, summary); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(summary).Error; err != nil {
		return nil, fmt.Errorf("failed to persist cycle summary: %w", err)
	}

	metrics.CyclesRun.Inc()
	metrics.CycleDuration.Observe(time.Since(started).Seconds())
	metrics.OverdueIncidents.Set(float64(summary.OverdueIncidents))
	metrics.StaleAlerts.Set(float64(summary.StaleAlerts))

	s.logger.Info("compliance cycle complete",
		zap.Time("ran_at", now),
		zap.Int("stale_alerts", summary.StaleAlerts),
		zap.Int("due_soon_incidents", summary.DueSoonIncidents),
		zap.Int("overdue_incidents", summary.OverdueIncidents),
		zap.Int("notifications_sent", summary.NotificationsSent),
		zap.Int("deliveries_retried", summary.DeliveriesRetried))
	return summary, nil
}

func (s *Scheduler) healthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to reach underlying database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// scanStaleAlerts flags alerts still PENDING past the review SLA. The
// notification is fire-and-forget; failures are logged and never affect the
// cycle outcome.
func (s *Scheduler) scanStaleAlerts(ctx context.Context, now time.Time, summary *Summary) error {
	stale, err := s.alerts.ListPendingBefore(ctx, now.Add(-s.cfg.AlertSLA), 0)
	if err != nil {
		return err
	}
	summary.StaleAlerts = len(stale)
	for _, a := range stale {
		summary.StaleAlertIDs = append(summary.StaleAlertIDs, a.ID.String())
	}
	if len(stale) > 0 && s.notifier != nil {
		subject := fmt.Sprintf("%d compliance alerts pending past SLA", len(stale))
		if err := s.notifier.Notify(ctx, subject, fmt.Sprintf("oldest alert: %s", stale[0].ID)); err != nil {
			s.logger.Warn("stale alert notification failed", zap.Error(err))
		}
	}
	return nil
}

// scanIncidents classifies active incidents against both deadline clocks and
// dispatches the regulator notifications that have come due.
func (s *Scheduler) scanIncidents(ctx context.Context, now time.Time, summary *Summary) error {
	active, err := s.incidents.ListActive(ctx, 0)
	if err != nil {
		return err
	}

	for i := range active {
		inc := &active[i]
		report := s.incidents.StatusAt(inc, now)

		switch report.DeadlineStatus {
		case incidents.StatusDueSoon:
			summary.DueSoonIncidents++
			summary.DueSoonIncidentIDs = append(summary.DueSoonIncidentIDs, inc.ID.String())
		case incidents.StatusOverdue:
			summary.OverdueIncidents++
			summary.OverdueIncidentIDs = append(summary.OverdueIncidentIDs, inc.ID.String())
			if !inc.FinCrimeReported {
				if s.notifyRegulator(ctx, inc, regulatory.TargetFinCrime) {
					summary.NotificationsSent++
				}
			}
		}

		if report.Breach != nil && report.Breach.Status == incidents.StatusOverdue && !inc.BreachReported {
			if s.notifyRegulator(ctx, inc, regulatory.TargetBreach) {
				summary.NotificationsSent++
			}
		}
	}
	return nil
}

// notifyRegulator claims the incident's notification flag and, if this cycle
// won the claim, performs the submission. A lost claim means another cycle
// already handled it.
func (s *Scheduler) notifyRegulator(ctx context.Context, inc *incidents.Incident, target string) bool {
	var delivery *regulatory.Delivery
	var claimed bool
	var err error
	if target == regulatory.TargetBreach {
		delivery, claimed, err = s.incidents.ClaimBreachNotification(ctx, inc)
	} else {
		delivery, claimed, err = s.incidents.ClaimFinCrimeNotification(ctx, inc)
	}
	if err != nil {
		s.logger.Error("failed to claim regulator notification",
			zap.String("incident_id", inc.ID.String()), zap.String("target", target), zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}
	if delivery != nil {
		s.submit(ctx, inc.ID, delivery)
	}
	return true
}

// submit performs one outbound regulator call for a recorded delivery.
// Failure leaves the delivery FAILED for the retry pass of a later cycle;
// the local notification flag stays set either way.
func (s *Scheduler) submit(ctx context.Context, incidentID uuid.UUID, delivery *regulatory.Delivery) {
	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmissionTimeout)
	defer cancel()

	var ref string
	var err error
	switch delivery.Target {
	case regulatory.TargetBreach:
		if s.breach == nil {
			return
		}
		ref, err = s.breach.SubmitBreachNotification(subCtx, delivery.Payload)
	default:
		if s.fincrime == nil {
			return
		}
		ref, err = s.fincrime.SubmitSuspiciousMatter(subCtx, delivery.Payload)
	}

	if err != nil {
		metrics.RegulatorSubmissions.WithLabelValues(delivery.Target, "failure").Inc()
		s.logger.Warn("regulator submission failed, queued for retry",
			zap.String("incident_id", incidentID.String()),
			zap.String("target", delivery.Target),
			zap.Error(err))
		if merr := s.deliveries.MarkFailed(context.WithoutCancel(ctx), delivery.ID, err); merr != nil {
			s.logger.Error("failed to record delivery failure", zap.Error(merr))
		}
		return
	}

	metrics.RegulatorSubmissions.WithLabelValues(delivery.Target, "success").Inc()
	if err := s.deliveries.MarkSent(ctx, delivery.ID, ref); err != nil {
		s.logger.Error("failed to mark delivery sent", zap.Error(err))
	}
	if err := s.incidents.RecordRegulatorRef(ctx, incidentID, delivery.Target, ref); err != nil {
		s.logger.Error("failed to record regulator reference", zap.Error(err))
	}
}

// retryDeliveries re-attempts submissions that failed in earlier cycles.
func (s *Scheduler) retryDeliveries(ctx context.Context, summary *Summary) error {
	if s.deliveries == nil {
		return nil
	}
	pending, err := s.deliveries.ListUndelivered(ctx, s.cfg.MaxDeliveryAttempts, 0)
	if err != nil {
		return err
	}
	for i := range pending {
		d := &pending[i]
		if d.ResourceType != "incident" {
			s.retryAlertDelivery(ctx, d)
			summary.DeliveriesRetried++
			continue
		}
		incidentID, err := uuid.Parse(d.ResourceID)
		if err != nil {
			s.logger.Error("delivery has malformed resource id", zap.String("delivery_id", d.ID.String()))
			continue
		}
		s.submit(ctx, incidentID, d)
		summary.DeliveriesRetried++
	}
	return nil
}

// retryAlertDelivery re-files a suspicious matter report for a decided alert.
// A late success records the same submission reference and audit entry as the
// inline path.
func (s *Scheduler) retryAlertDelivery(ctx context.Context, d *regulatory.Delivery) {
	if s.fincrime == nil {
		return
	}
	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmissionTimeout)
	defer cancel()

	ref, err := s.fincrime.SubmitSuspiciousMatter(subCtx, d.Payload)
	if err != nil {
		metrics.RegulatorSubmissions.WithLabelValues(d.Target, "failure").Inc()
		if merr := s.deliveries.MarkFailed(context.WithoutCancel(ctx), d.ID, err); merr != nil {
			s.logger.Error("failed to record delivery failure", zap.Error(merr))
		}
		return
	}
	metrics.RegulatorSubmissions.WithLabelValues(d.Target, "success").Inc()
	if err := s.deliveries.MarkSent(ctx, d.ID, ref); err != nil {
		s.logger.Error("failed to mark delivery sent", zap.Error(err))
	}

	alertID, err := uuid.Parse(d.ResourceID)
	if err != nil {
		s.logger.Error("delivery has malformed resource id", zap.String("delivery_id", d.ID.String()))
		return
	}
	if err := s.alerts.RecordSubmissionRef(ctx, alertID, ref); err != nil {
		s.logger.Error("failed to record submission reference", zap.Error(err))
	}
}
