package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

// fire builds the (flag, true) pair every triggering rule returns.
func fire(name string, severity domain.Severity, base, confidence float64, message string, meta map[string]any) (*domain.Flag, bool) {
	return &domain.Flag{
		RuleName:   name,
		Severity:   severity,
		BaseScore:  base,
		Confidence: confidence,
		Message:    message,
		Metadata:   meta,
	}, true
}

func noFlag() (*domain.Flag, bool) { return nil, false }

var allVerticals = domain.AllVerticals

func verticals(vs ...domain.Vertical) []domain.Vertical { return vs }
