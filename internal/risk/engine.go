package risk

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Engine evaluates a transaction against the configured rule set. It performs
// no I/O: identical inputs always produce identical assessments. Persistence
// of the result and loading of account history belong to the caller.
type Engine struct {
	cfg       Config
	threshold decimal.Decimal
	floor     decimal.Decimal
}

// NewEngine creates an engine for the given scoring policy.
func NewEngine(cfg Config) *Engine {
	threshold := decimal.NewFromFloat(cfg.ReportingThreshold)
	return &Engine{
		cfg:       cfg,
		threshold: threshold,
		floor:     threshold.Mul(decimal.NewFromFloat(cfg.StructuringFloorRatio)),
	}
}

// Assess scores one transaction against the account's recent history. The
// returned assessment carries no ID or timestamp; the caller assigns both
// when persisting. history holds the account's earlier transactions and must
// not include txn itself.
func (e *Engine) Assess(txn Transaction, history []Transaction) Assessment {
	score := 0
	var triggered []string

	if pts, ok := e.thresholdRule(txn); ok {
		score += pts
		triggered = append(triggered, RuleThreshold)
	}
	if pts, ok := e.velocityRule(txn, history); ok {
		score += pts
		triggered = append(triggered, RuleVelocity)
	}
	if pts, ok := e.structuringRule(txn, history); ok {
		score += pts
		triggered = append(triggered, RuleStructuring)
	}
	if pts, ok := e.categoryRule(txn); ok {
		score += pts
		triggered = append(triggered, RuleHighRiskCategory)
	}

	if score > 100 {
		score = 100
	}
	sort.Strings(triggered)

	return Assessment{
		TransactionID:  txn.ID,
		AccountID:      txn.AccountID,
		Score:          score,
		TriggeredRules: triggered,
		RequiresReview: score >= e.cfg.ReviewThreshold,
	}
}

// thresholdRule fires when a single amount meets the statutory reporting
// threshold.
func (e *Engine) thresholdRule(txn Transaction) (int, bool) {
	if txn.Amount.GreaterThanOrEqual(e.threshold) {
		return e.cfg.ThresholdWeight, true
	}
	return 0, false
}

// velocityRule fires when the rolling-window sum for the account exceeds the
// configured multiple of its trailing average. The contribution is
// proportional to how far past the limit the window sum lands, capped at the
// configured weight. Accounts with no history never fire it.
func (e *Engine) velocityRule(txn Transaction, history []Transaction) (int, bool) {
	if len(history) == 0 {
		return 0, false
	}

	total := decimal.Zero
	windowStart := txn.OccurredAt.Add(-e.cfg.VelocityWindow)
	windowSum := txn.Amount
	for _, h := range history {
		total = total.Add(h.Amount)
		if !h.OccurredAt.Before(windowStart) && !h.OccurredAt.After(txn.OccurredAt) {
			windowSum = windowSum.Add(h.Amount)
		}
	}

	avg := total.Div(decimal.NewFromInt(int64(len(history))))
	if !avg.IsPositive() {
		return 0, false
	}

	limit := avg.Mul(decimal.NewFromFloat(e.cfg.VelocityMultiplier))
	if windowSum.LessThanOrEqual(limit) {
		return 0, false
	}

	ratio, _ := windowSum.Div(limit).Float64()
	pts := int(math.Round(float64(e.cfg.VelocityWeight) * math.Min(ratio-1, 1)))
	if pts < 1 {
		pts = 1
	}
	if pts > e.cfg.VelocityWeight {
		pts = e.cfg.VelocityWeight
	}
	return pts, true
}

// structuringRule fires on a cluster of transactions just under the reporting
// threshold inside a short window, regardless of any single amount.
func (e *Engine) structuringRule(txn Transaction, history []Transaction) (int, bool) {
	windowStart := txn.OccurredAt.Add(-e.cfg.StructuringWindow)
	count := 0
	if e.justUnderThreshold(txn.Amount) {
		count++
	}
	for _, h := range history {
		if h.OccurredAt.Before(windowStart) || h.OccurredAt.After(txn.OccurredAt) {
			continue
		}
		if e.justUnderThreshold(h.Amount) {
			count++
		}
	}
	if count >= e.cfg.StructuringMinCount {
		return e.cfg.StructuringWeight, true
	}
	return 0, false
}

func (e *Engine) justUnderThreshold(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(e.floor) && amount.LessThan(e.threshold)
}

// categoryRule fires on a high-risk category tag or a denylisted merchant.
func (e *Engine) categoryRule(txn Transaction) (int, bool) {
	for _, c := range e.cfg.HighRiskCategories {
		if strings.EqualFold(c, txn.Category) {
			return e.cfg.CategoryWeight, true
		}
	}
	for _, m := range e.cfg.MerchantDenylist {
		if strings.EqualFold(m, txn.Merchant) {
			return e.cfg.CategoryWeight, true
		}
	}
	return 0, false
}
