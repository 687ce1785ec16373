package models

import "regexp"

// RuleKind identifies the predicate a routing rule evaluates.
type RuleKind string

const (
	RuleKindKeywords RuleKind = "keywords"
	RuleKindLength   RuleKind = "length"
)

// RoutingRule selects Target when its predicate holds for a prompt.
// Priority is the rule's position in RoutingPolicy.Rules.
type RoutingRule struct {
	Name   string   `json:"name"`
	Kind   RuleKind `json:"kind"`
	Target string   `json:"target"`

	// Keyword predicate. Keywords are stored lowercased; Patterns are compiled case-insensitive.
	Keywords []string         `json:"keywords,omitempty"`
	Patterns []*regexp.Regexp `json:"-"`

	// Length predicate: matches when the prompt has more than MinLength characters.
	MinLength int `json:"min_length,omitempty"`
}

// PatternStrings returns the source of each compiled pattern.
func (r *RoutingRule) PatternStrings() []string {
	out := make([]string, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		out = append(out, p.String())
	}
	return out
}

// DefaultContextMargin is the headroom required above the estimated prompt size
// when min_ctx_margin is not configured.
const DefaultContextMargin = 0.2

// RoutingPolicy is an ordered rule list plus the target used when nothing matches.
type RoutingPolicy struct {
	Rules   []RoutingRule `json:"rules"`
	Default string        `json:"default"`

	// ContextMargin is advisory: evaluations report whether a prompt fits the
	// target's context window with this much headroom, but routing ignores it.
	ContextMargin float64 `json:"min_ctx_margin"`
}

// FitsContext reports whether promptTokens plus the margin stays below ctxTokens.
func (p *RoutingPolicy) FitsContext(promptTokens, ctxTokens int) bool {
	return float64(promptTokens)*(1+p.ContextMargin) < float64(ctxTokens)
}

// Targets returns every alias the policy can select, default first, without duplicates.
func (p *RoutingPolicy) Targets() []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	add(p.Default)
	for _, r := range p.Rules {
		add(r.Target)
	}
	return out
}
