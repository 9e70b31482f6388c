package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// CustomRuleConfig is one tenant-authored supplemental rule: a CEL
// expression evaluated against the same context fields the built-in
// catalogue sees, plus the flag metadata it should emit when it matches.
// The definition lives in the durable store; see Repository.ListCustomRules.
type CustomRuleConfig = domain.CustomRuleDefinition

type compiledCustomRule struct {
	cfg     CustomRuleConfig
	program cel.Program
}

// CustomRuleEngine compiles and evaluates tenant-authored CEL rules
// against an EvaluationContext, alongside (not instead of) the built-in
// registry. Loaded rules are swapped atomically under a lock so a reload
// never races an in-flight evaluation.
type CustomRuleEngine struct {
	env *cel.Env

	mu      sync.RWMutex
	rules   map[string]*compiledCustomRule
}

// NewCustomRuleEngine builds the CEL environment every tenant rule
// compiles against: a flat view of the same booleans and counters the
// native catalogue reads off EvaluationContext.
func NewCustomRuleEngine() (*CustomRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("is_new_account", cel.BoolType),
		cel.Variable("is_new_device", cel.BoolType),
		cel.Variable("is_device_shared", cel.BoolType),
		cel.Variable("is_impossible_travel", cel.BoolType),
		cel.Variable("is_round_amount", cel.BoolType),
		cel.Variable("is_night", cel.BoolType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("device_shared_count", cel.IntType),
		cel.Variable("velocity_user_1h", cel.IntType),
		cel.Variable("velocity_user_24h", cel.IntType),
		cel.Variable("consortium_tenants_touched", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: failed to create custom rule CEL environment: %w", err)
	}
	return &CustomRuleEngine{env: env, rules: make(map[string]*compiledCustomRule)}, nil
}

// ValidateRule compiles cfg without loading it, so an operator-facing API
// can reject a bad expression before it is persisted.
func (e *CustomRuleEngine) ValidateRule(cfg CustomRuleConfig) error {
	_, err := e.compile(cfg)
	return err
}

// ReloadRules atomically replaces the whole loaded set; in-flight
// evaluations keep the set they started with.
func (e *CustomRuleEngine) ReloadRules(configs []CustomRuleConfig) error {
	next := make(map[string]*compiledCustomRule, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.Name] = compiled
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	return nil
}

func (e *CustomRuleEngine) compile(cfg CustomRuleConfig) (*compiledCustomRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rules: custom rule %q: %w", cfg.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rules: custom rule %q must evaluate to bool, got %s", cfg.Name, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rules: custom rule %q: %w", cfg.Name, err)
	}
	return &compiledCustomRule{cfg: cfg, program: program}, nil
}

// Evaluate runs every loaded custom rule applicable to ctx.Vertical and
// returns the flags that matched. Like the built-in catalogue, a rule
// that errors during evaluation is skipped rather than failing the whole
// pass.
func (e *CustomRuleEngine) Evaluate(ctx *domain.EvaluationContext) []domain.Flag {
	e.mu.RLock()
	applicable := make([]*compiledCustomRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.cfg.Vertical == ctx.Vertical {
			applicable = append(applicable, r)
		}
	}
	e.mu.RUnlock()

	if len(applicable) == 0 {
		return nil
	}

	activation := activationFor(ctx)

	var flags []domain.Flag
	for _, r := range applicable {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if !toBool(out) {
			continue
		}
		flags = append(flags, domain.Flag{
			RuleName:   r.cfg.Name,
			Severity:   r.cfg.Severity,
			BaseScore:  r.cfg.BaseScore,
			Confidence: r.cfg.Confidence,
			Message:    "tenant-defined custom rule matched",
		})
	}
	return flags
}

func activationFor(ctx *domain.EvaluationContext) map[string]any {
	userVelocity := ctx.Velocity[domain.ScopeUser]
	return map[string]any{
		"amount":                     ctx.Request.Amount,
		"currency":                   ctx.Request.Currency,
		"transaction_type":           ctx.Request.TransactionType,
		"is_new_account":             ctx.IsNewAccount.Known && ctx.IsNewAccount.Value,
		"is_new_device":              ctx.IsNewDevice.Known && ctx.IsNewDevice.Value,
		"is_device_shared":           ctx.IsDeviceShared.Known && ctx.IsDeviceShared.Value,
		"is_impossible_travel":       ctx.IsImpossibleTravel.Known && ctx.IsImpossibleTravel.Value,
		"is_round_amount":            ctx.IsRoundAmount.Known && ctx.IsRoundAmount.Value,
		"is_night":                   ctx.IsNight.Known && ctx.IsNight.Value,
		"is_weekend":                 ctx.IsWeekend.Known && ctx.IsWeekend.Value,
		"device_shared_count":        int64(ctx.DeviceSharedCount),
		"velocity_user_1h":           userVelocity[domain.Window1h],
		"velocity_user_24h":          userVelocity[domain.Window24h],
		"consortium_tenants_touched": int64(maxConsortiumTenantsTouched(ctx)),
	}
}

func maxConsortiumTenantsTouched(ctx *domain.EvaluationContext) int {
	max := 0
	for _, v := range ctx.ConsortiumTenantsTouched {
		if v > max {
			max = v
		}
	}
	return max
}

func toBool(val ref.Val) bool {
	b, ok := val.Value().(bool)
	return ok && b
}
