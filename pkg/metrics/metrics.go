package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransactionsAssessed counts risk assessments by outcome (clean / review).
var TransactionsAssessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "meridian_transactions_assessed_total",
		Help: "Total number of transactions scored by the risk engine",
	},
	[]string{"outcome"},
)

// AlertTransitions counts alert state transitions by target state.
var AlertTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "meridian_alert_transitions_total",
		Help: "Total number of alert lifecycle transitions",
	},
	[]string{"state"},
)

// ClaimConflicts counts lost claim races on pending alerts.
var ClaimConflicts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "meridian_alert_claim_conflicts_total",
		Help: "Total number of alert claims lost to another reviewer",
	},
)

// AuditEntriesAppended counts entries appended to the audit chain.
var AuditEntriesAppended = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "meridian_audit_entries_appended_total",
		Help: "Total number of entries appended to the audit chain",
	},
)

// AuditChainBreaks counts integrity violations found by verification.
var AuditChainBreaks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "meridian_audit_chain_breaks_total",
		Help: "Total number of audit chain breaks detected by verification",
	},
)

// Compliance cycle metrics.
var (
	CyclesRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_compliance_cycles_total",
			Help: "Total number of compliance cycles executed",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_compliance_cycle_duration_seconds",
			Help:    "Latency in seconds of a full compliance cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	OverdueIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_overdue_incidents",
			Help: "Incidents past their regulator notification deadline",
		},
	)

	StaleAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_stale_pending_alerts",
			Help: "Alerts still pending past the review SLA",
		},
	)

	RegulatorSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_regulator_submissions_total",
			Help: "Total number of regulator submissions by target and result",
		},
		[]string{"target", "result"},
	)
)

func init() {
	prometheus.MustRegister(TransactionsAssessed, AlertTransitions, ClaimConflicts)
	prometheus.MustRegister(AuditEntriesAppended, AuditChainBreaks)
	prometheus.MustRegister(CyclesRun, CycleDuration, OverdueIncidents, StaleAlerts, RegulatorSubmissions)
}
