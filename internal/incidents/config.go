package incidents

// Config holds the jurisdiction-specific deadline rules.
type Config struct {
	// DeadlineHours maps severity to the hours allowed between detection and
	// mandatory regulator notification.
	DeadlineHours map[string]int `mapstructure:"deadline_hours" yaml:"deadline_hours"`

	// DefaultDeadlineHours applies to severities missing from DeadlineHours.
	DefaultDeadlineHours int `mapstructure:"default_deadline_hours" yaml:"default_deadline_hours" validate:"gt=0"`

	// DueSoonHours is the window before a deadline in which status queries
	// report DUE_SOON.
	DueSoonHours int `mapstructure:"due_soon_hours" yaml:"due_soon_hours" validate:"gt=0"`

	// BreachDeadlineHours is the independent data-breach notification clock,
	// decoupled from the severity deadline.
	BreachDeadlineHours int `mapstructure:"breach_deadline_hours" yaml:"breach_deadline_hours" validate:"gt=0"`
}

// DefaultConfig returns deadlines modeled on a 72-hour critical reporting
// obligation.
func DefaultConfig() Config {
	return Config{
		DeadlineHours: map[string]int{
			string(SeverityCritical): 72,
			string(SeverityHigh):     120,
			string(SeverityMedium):   168,
			string(SeverityLow):      336,
		},
		DefaultDeadlineHours: 168,
		DueSoonHours:         6,
		BreachDeadlineHours:  72,
	}
}

// deadlineHours resolves the notification window for a severity.
func (c Config) deadlineHours(s Severity) int {
	if h, ok := c.DeadlineHours[string(s)]; ok && h > 0 {
		return h
	}
	return c.DefaultDeadlineHours
}
