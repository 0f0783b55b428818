package risk

import "time"

// Config holds the scoring policy. Weights and the review threshold are
// independently configurable so policy can tighten without code changes.
type Config struct {
	// ReportingThreshold is the statutory cash-transaction limit. Amounts at
	// or above it trigger the threshold rule.
	ReportingThreshold float64 `mapstructure:"reporting_threshold" yaml:"reporting_threshold" validate:"gt=0"`

	// ReviewThreshold is the score at or above which an assessment requires
	// human review.
	ReviewThreshold int `mapstructure:"review_threshold" yaml:"review_threshold" validate:"gt=0,lte=100"`

	ThresholdWeight   int `mapstructure:"threshold_weight" yaml:"threshold_weight" validate:"gte=0,lte=100"`
	VelocityWeight    int `mapstructure:"velocity_weight" yaml:"velocity_weight" validate:"gte=0,lte=100"`
	StructuringWeight int `mapstructure:"structuring_weight" yaml:"structuring_weight" validate:"gte=0,lte=100"`
	CategoryWeight    int `mapstructure:"category_weight" yaml:"category_weight" validate:"gte=0,lte=100"`

	// VelocityWindow is the rolling window summed per account; the rule fires
	// when that sum exceeds VelocityMultiplier times the account's trailing
	// average transaction amount.
	VelocityWindow     time.Duration `mapstructure:"velocity_window" yaml:"velocity_window" validate:"gt=0"`
	VelocityMultiplier float64       `mapstructure:"velocity_multiplier" yaml:"velocity_multiplier" validate:"gt=1"`

	// Structuring fires on StructuringMinCount transactions inside
	// StructuringWindow each at or above StructuringFloorRatio of the
	// reporting threshold but below the threshold itself.
	StructuringWindow     time.Duration `mapstructure:"structuring_window" yaml:"structuring_window" validate:"gt=0"`
	StructuringMinCount   int           `mapstructure:"structuring_min_count" yaml:"structuring_min_count" validate:"gte=2"`
	StructuringFloorRatio float64       `mapstructure:"structuring_floor_ratio" yaml:"structuring_floor_ratio" validate:"gt=0,lt=1"`

	HighRiskCategories []string `mapstructure:"high_risk_categories" yaml:"high_risk_categories"`
	MerchantDenylist   []string `mapstructure:"merchant_denylist" yaml:"merchant_denylist"`

	// HistoryWindow bounds how far back account history is loaded for scoring.
	HistoryWindow time.Duration `mapstructure:"history_window" yaml:"history_window" validate:"gt=0"`
}

// DefaultConfig returns the default scoring policy.
func DefaultConfig() Config {
	return Config{
		ReportingThreshold:    10000,
		ReviewThreshold:       50,
		ThresholdWeight:       60,
		VelocityWeight:        30,
		StructuringWeight:     70,
		CategoryWeight:        25,
		VelocityWindow:        24 * time.Hour,
		VelocityMultiplier:    3,
		StructuringWindow:     72 * time.Hour,
		StructuringMinCount:   3,
		StructuringFloorRatio: 0.9,
		HighRiskCategories:    []string{"gambling", "crypto_exchange", "money_services"},
		MerchantDenylist:      nil,
		HistoryWindow:         30 * 24 * time.Hour,
	}
}
