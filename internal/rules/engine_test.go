package rules

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

func f(v float64) *float64 { return &v }

func sampleInput() *EvaluateInput {
	app := &domain.Application{
		Age:                    30,
		Income:                 50000,
		LoanAmount:             300000,
		LoanTenureMonths:       36,
		AvgDPDPerDelinquency:   20,
		DelinquencyRatio:       30,
		CreditUtilizationRatio: 30,
		NumberOfOpenAccounts:   2,
		ResidenceType:          domain.ResidenceOwned,
		LoanPurpose:            domain.PurposeEducation,
		LoanType:               domain.LoanUnsecured,
	}
	return &EvaluateInput{
		Application:     app,
		Features:        features.BuildDefault(app),
		Score:           domain.ScoreResult{DefaultProbability: 0.93, CreditScore: 344, Rating: domain.RatingPoor},
		RecentEnquiries: 2,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), sampleInput())
	if err != nil || results != nil {
		t.Errorf("expected no results from empty engine, got %v %v", results, err)
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "lti",
		Expression: `features["loan_to_income"] > 5.0`,
		Bands:      []domain.RuleBand{{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeReview}},
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to reload rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected same id to replace, got %d rules", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule *domain.RuleConfig
	}{
		{"syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"unknown variable", &domain.RuleConfig{ID: "bad", Expression: "transaction_amount > 1.0"}},
		{"string result", &domain.RuleConfig{ID: "bad", Expression: "loan_purpose"}},
		{"missing id", &domain.RuleConfig{Expression: "age > 18"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.rule); err == nil {
				t.Error("expected error")
			}
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules should not load, got %d", engine.RulesCount())
	}
}

func TestEvaluateRules(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()

	configs := []*domain.RuleConfig{
		{
			ID:         "lti",
			Expression: `features["loan_to_income"]`,
			Bands: []domain.RuleBand{
				{UpperLimit: f(4), SubRuleRef: domain.RuleOutcomePass, Reason: "ok"},
				{LowerLimit: f(4), UpperLimit: f(8), SubRuleRef: domain.RuleOutcomeReview, Reason: "stretched"},
				{LowerLimit: f(8), SubRuleRef: domain.RuleOutcomeFail, Reason: "too high"},
			},
			Enabled: true,
		},
		{
			ID:         "unsecured-poor",
			Expression: `loan_type == "Unsecured" && rating == "Poor"`,
			Bands:      []domain.RuleBand{{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeFail, Reason: "declined"}},
			Enabled:    true,
		},
		{
			ID:         "enquiries",
			Expression: "recent_enquiries",
			Bands:      []domain.RuleBand{{LowerLimit: f(3), SubRuleRef: domain.RuleOutcomeReview, Reason: "busy"}},
			Enabled:    true,
		},
		{
			ID:         "score-int",
			Expression: "credit_score - 300",
			Bands:      []domain.RuleBand{{UpperLimit: f(100), SubRuleRef: domain.RuleOutcomeReview, Reason: "near floor"}},
			Enabled:    true,
		},
		{
			ID:         "disabled",
			Expression: "true",
			Bands:      []domain.RuleBand{{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeFail}},
			Enabled:    false,
		},
	}
	if err := engine.ReloadRules(configs); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	if engine.RulesCount() != 4 {
		t.Fatalf("expected 4 enabled rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}

	want := []struct {
		id      string
		outcome string
		value   float64
	}{
		{"lti", domain.RuleOutcomeReview, 6},
		{"unsecured-poor", domain.RuleOutcomeFail, 1},
		{"enquiries", domain.RuleOutcomePass, 2},
		{"score-int", domain.RuleOutcomeReview, 44},
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, w := range want {
		r := results[i]
		if r.RuleID != w.id || r.SubRuleRef != w.outcome || r.Value != w.value {
			t.Errorf("result %d: expected %s %s %v, got %s %s %v", i, w.id, w.outcome, w.value, r.RuleID, r.SubRuleRef, r.Value)
		}
	}
}

func TestEvaluateRuntimeError(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	_ = engine.LoadRule(&domain.RuleConfig{
		ID:         "missing-key",
		Expression: `features["not_a_feature"] > 1.0`,
		Bands:      []domain.RuleBand{{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeFail}},
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected .err, got %s", results[0].SubRuleRef)
	}
	if !strings.Contains(results[0].Reason, "evaluation error") {
		t.Errorf("unexpected reason: %s", results[0].Reason)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	for i := 0; i < 5; i++ {
		_ = engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("r%d", i),
			Expression: "age > 18",
			Bands:      []domain.RuleBand{{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomePass}},
			Enabled:    true,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.EvaluateAll(ctx, sampleInput()); err == nil {
		t.Error("expected context error")
	}
}

func TestReloadKeepsOldRulesOnError(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	good := &domain.RuleConfig{ID: "good", Expression: "age > 18", Bands: []domain.RuleBand{{SubRuleRef: domain.RuleOutcomePass}}, Enabled: true}
	bad := &domain.RuleConfig{ID: "bad", Expression: "nope(", Enabled: true}

	_ = engine.ReloadRules([]*domain.RuleConfig{good})
	if err := engine.ReloadRules([]*domain.RuleConfig{good, bad}); err == nil {
		t.Fatal("expected compile error")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected previous rule set to survive, got %d", engine.RulesCount())
	}

	if err := engine.ReloadRules([]*domain.RuleConfig{good, good}); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestMatchBand(t *testing.T) {
	bands := []domain.RuleBand{
		{UpperLimit: f(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: f(0.5), UpperLimit: f(0.8), SubRuleRef: domain.RuleOutcomeReview, Reason: "mid"},
		{LowerLimit: f(0.8), SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
	}

	tests := []struct {
		value float64
		want  string
	}{
		{-3, domain.RuleOutcomePass},
		{0, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{0.79, domain.RuleOutcomeReview},
		{0.8, domain.RuleOutcomeFail},
		{100, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		if got, _ := matchBand(tt.value, bands); got != tt.want {
			t.Errorf("value %v: expected %s, got %s", tt.value, tt.want, got)
		}
	}

	if got, reason := matchBand(5, nil); got != domain.RuleOutcomePass || reason != "no matching band" {
		t.Errorf("no bands should pass, got %s %s", got, reason)
	}
}
