// Package rules provides the CEL-based underwriting policy rule engine.
//
// Policy rules annotate an assessment with review or decline signals. They
// see the raw application, the unscaled feature vector, the model's score
// and the applicant's recent enquiry count, but they never change the score.
package rules

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		// Raw application fields
		cel.Variable("age", cel.IntType),
		cel.Variable("income", cel.DoubleType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("loan_tenure_months", cel.IntType),
		cel.Variable("avg_dpd_per_delinquency", cel.IntType),
		cel.Variable("delinquency_ratio", cel.DoubleType),
		cel.Variable("credit_utilization_ratio", cel.DoubleType),
		cel.Variable("number_of_open_accounts", cel.IntType),
		cel.Variable("residence_type", cel.StringType),
		cel.Variable("loan_purpose", cel.StringType),
		cel.Variable("loan_type", cel.StringType),
		// Unscaled feature vector, e.g. features["loan_to_income"]
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		// Model output
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("rating", cel.StringType),
		// Enquiries by the same applicant in the velocity window
		cel.Variable("recent_enquiries", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule. A rule with the same ID is replaced in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Copy on write: EvaluateAll iterates the old slice without the lock.
	next := make([]*CompiledRule, 0, len(e.rules)+1)
	replaced := false
	for _, r := range e.rules {
		if r.Config.ID == cfg.ID {
			next = append(next, compiled)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, compiled)
	}
	e.rules = next
	return nil
}

// ReloadRules compiles configs and swaps them in atomically. Disabled
// rules are skipped. On error the previously loaded set is kept.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate rule id %s", cfg.ID)
		}
		seen[cfg.ID] = true

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	return nil
}

// EvaluateInput holds everything a policy rule can read.
type EvaluateInput struct {
	Application     *domain.Application
	Features        *features.Vector
	Score           domain.ScoreResult
	RecentEnquiries int64
}

// EvaluateAll evaluates all loaded rules in parallel. Results keep load order.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := buildActivation(input)

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = domain.RuleResult{
					RuleID:     r.Config.ID,
					SubRuleRef: domain.RuleOutcomeError,
					Reason:     ctx.Err().Error(),
				}
				return
			}

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results, ctx.Err()
}

func buildActivation(input *EvaluateInput) map[string]any {
	app := input.Application
	if app == nil {
		app = &domain.Application{}
	}
	feats := map[string]float64{}
	if input.Features != nil {
		feats = input.Features.Map()
	}

	return map[string]any{
		"age":                      int64(app.Age),
		"income":                   app.Income,
		"loan_amount":              app.LoanAmount,
		"loan_tenure_months":       int64(app.LoanTenureMonths),
		"avg_dpd_per_delinquency":  int64(app.AvgDPDPerDelinquency),
		"delinquency_ratio":        app.DelinquencyRatio,
		"credit_utilization_ratio": app.CreditUtilizationRatio,
		"number_of_open_accounts":  int64(app.NumberOfOpenAccounts),
		"residence_type":           string(app.ResidenceType),
		"loan_purpose":             string(app.LoanPurpose),
		"loan_type":                string(app.LoanType),
		"features":                 feats,
		"probability":              input.Score.DefaultProbability,
		"credit_score":             int64(input.Score.CreditScore),
		"rating":                   string(input.Score.Rating),
		"recent_enquiries":         input.RecentEnquiries,
	}
}

func evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	value := toValue(out)
	result.Value = value
	result.SubRuleRef, result.Reason = matchBand(value, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// toValue converts a CEL result to a number. true is 1, false is 0.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1
		}
		return 0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0
	}
}

// matchBand returns the first band containing value. A band covers
// [lower, upper); a missing lower bound is -Inf and a missing upper bound +Inf.
// A value outside every band passes.
func matchBand(value float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower, upper := math.Inf(-1), math.Inf(1)
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if band.UpperLimit != nil {
			upper = *band.UpperLimit
		}
		if value >= lower && value < upper {
			return band.SubRuleRef, band.Reason
		}
	}
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in load order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Config
	}
	return out
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
