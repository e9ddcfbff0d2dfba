package domain

// RuleConfig defines an underwriting policy rule.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`

	// CEL expression to evaluate
	Expression string `json:"expression" yaml:"expression"`

	// Outcome bands for value-to-outcome mapping
	Bands []RuleBand `json:"bands" yaml:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleBand maps a value range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty" yaml:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty" yaml:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef" yaml:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason" yaml:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".review", ".fail", ".err"
	Value      float64 `json:"value"`
	Reason     string  `json:"reason"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
