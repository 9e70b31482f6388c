package rules

import (
	"testing"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

func TestCustomRuleEngineCompileAndEvaluate(t *testing.T) {
	e, err := NewCustomRuleEngine()
	if err != nil {
		t.Fatalf("NewCustomRuleEngine: %v", err)
	}

	err = e.ReloadRules([]CustomRuleConfig{{
		Name:       "tenant_night_large_amount",
		Vertical:   domain.VerticalFintech,
		Expression: "is_night && amount > 1000.0",
		Severity:   domain.SeverityMedium,
		BaseScore:  12,
		Confidence: 0.5,
		Enabled:    true,
	}})
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	ec := &domain.EvaluationContext{
		Vertical: domain.VerticalFintech,
		Request:  domain.TransactionRequest{Amount: 5000},
		IsNight:  domain.KnownTrue(),
	}
	flags := e.Evaluate(ec)
	if len(flags) != 1 || flags[0].RuleName != "tenant_night_large_amount" {
		t.Fatalf("flags: %v", flags)
	}

	// Not at night: no match.
	ec.IsNight = domain.KnownFalse()
	if flags := e.Evaluate(ec); len(flags) != 0 {
		t.Errorf("daytime must not match, got %v", flags)
	}

	// Wrong vertical: rule does not apply.
	ec.IsNight = domain.KnownTrue()
	ec.Vertical = domain.VerticalLending
	if flags := e.Evaluate(ec); len(flags) != 0 {
		t.Errorf("other vertical must not match, got %v", flags)
	}
}

func TestCustomRuleEngineRejectsBadExpressions(t *testing.T) {
	e, _ := NewCustomRuleEngine()

	if err := e.ValidateRule(CustomRuleConfig{Name: "broken", Expression: "this is !! not CEL"}); err == nil {
		t.Error("expected compile error")
	}
	if err := e.ValidateRule(CustomRuleConfig{Name: "non-bool", Expression: "amount + 1.0"}); err == nil {
		t.Error("expected non-bool output rejection")
	}
}

func TestCustomRuleEngineDisabledRulesSkipped(t *testing.T) {
	e, _ := NewCustomRuleEngine()

	err := e.ReloadRules([]CustomRuleConfig{{
		Name:       "disabled_rule",
		Vertical:   domain.VerticalFintech,
		Expression: "amount > 0.0",
		Enabled:    false,
	}})
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	ec := &domain.EvaluationContext{Vertical: domain.VerticalFintech, Request: domain.TransactionRequest{Amount: 10}}
	if flags := e.Evaluate(ec); len(flags) != 0 {
		t.Errorf("disabled rule fired: %v", flags)
	}
}
