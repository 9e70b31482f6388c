// Package rules is the built-in fraud rule catalogue: a registry of pure,
// independently-evaluable rules. Every rule is a value, `domain.Rule`,
// holding a closure; the Registry fans evaluation out over a bounded
// worker pool.
package rules

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Registry holds every registered rule, keyed by name. Built once via
// NewRegistry; duplicate names fail construction rather than silently
// shadowing one another.
type Registry struct {
	rules      map[string]domain.Rule
	ordered    []domain.Rule
	maxWorkers int
}

// categoryRegistrars lists every category file's registration function.
// Each is invoked exactly once by NewRegistry.
var categoryRegistrars = []func(*builder){
	registerAccountRules,
	registerDeviceRules,
	registerVelocityRules,
	registerIdentityRules,
	registerGeoNetworkRules,
	registerLendingRules,
	registerPaymentsEcommerceRules,
	registerBettingGamingRules,
	registerCryptoRules,
	registerMarketplaceRules,
}

// builder accumulates rules for the registrars; kept separate from
// Registry so a registrar can't read back rules already added while
// writing its own (rules never see each other, not even at build time).
type builder struct {
	seen  map[string]bool
	rules []domain.Rule
	err   error
}

func (b *builder) add(r domain.Rule) {
	if b.err != nil {
		return
	}
	if b.seen[r.Name] {
		b.err = fmt.Errorf("rules: duplicate rule name %q", r.Name)
		return
	}
	if b.seen == nil {
		b.seen = make(map[string]bool)
	}
	b.seen[r.Name] = true
	b.rules = append(b.rules, r)
}

// NewRegistry builds the catalogue, fanning runtime.NumCPU() workers for
// evaluation by default. Returns an error (not a panic) on duplicate
// registration so the failure is testable.
func NewRegistry(maxWorkers int) (*Registry, error) {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
		if maxWorkers < 1 {
			maxWorkers = 1
		}
	}

	b := &builder{}
	for _, register := range categoryRegistrars {
		register(b)
	}
	if b.err != nil {
		return nil, b.err
	}

	rules := make(map[string]domain.Rule, len(b.rules))
	for _, r := range b.rules {
		rules[r.Name] = r
	}

	return &Registry{rules: rules, ordered: b.rules, maxWorkers: maxWorkers}, nil
}

// Count returns the number of registered rules.
func (r *Registry) Count() int { return len(r.rules) }

// Names returns every registered rule name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.rules))
	for name := range r.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NamesForVertical returns every rule name registered for vertical,
// sorted. Used by the learning loop to scope its per-rule TN/FN update
// to only the rules that could have fired for this transaction.
func (r *Registry) NamesForVertical(vertical domain.Vertical) []string {
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.ordered {
		if rule.AppliesTo(vertical) {
			out = append(out, rule.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Evaluate runs every rule applicable to ctx.Vertical against ctx,
// fanned out over a bounded worker pool since rules are pure and
// independent. A rule that panics is logged and skipped rather than
// taking down the whole evaluation.
func (r *Registry) Evaluate(ctx *domain.EvaluationContext, enabled func(ruleName string) bool) []domain.Flag {
	applicable := make([]domain.Rule, 0, len(r.ordered))
	for _, rule := range r.ordered {
		if !rule.AppliesTo(ctx.Vertical) {
			continue
		}
		if enabled != nil && !enabled(rule.Name) {
			continue
		}
		applicable = append(applicable, rule)
	}
	if len(applicable) == 0 {
		return nil
	}

	results := make([]*domain.Flag, len(applicable))
	sem := make(chan struct{}, r.maxWorkers)
	var wg sync.WaitGroup

	for i, rule := range applicable {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, rl domain.Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = safeCheck(rl, ctx)
		}(i, rule)
	}
	wg.Wait()

	flags := make([]domain.Flag, 0, len(results))
	for _, f := range results {
		if f != nil {
			flags = append(flags, *f)
		}
	}
	return flags
}

func safeCheck(rule domain.Rule, ctx *domain.EvaluationContext) (flag *domain.Flag) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("rules: rule panicked, skipped", "rule", rule.Name, "panic", rec)
			flag = nil
		}
	}()
	f, fired := rule.Check(ctx)
	if !fired {
		return nil
	}
	return f
}
