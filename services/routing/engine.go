package routing

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
)

// Rule names reported for selections that did not come from a policy rule.
const (
	RuleExplicit = "explicit"
	RuleDefault  = "default"
)

// TargetSelection is the outcome of Decide: an alias plus how it was chosen.
type TargetSelection struct {
	Target string                 `json:"target"`
	Source models.SelectionSource `json:"source"`
	Rule   string                 `json:"rule"`
}

// TargetChecker reports whether an alias exists in the inventory.
type TargetChecker interface {
	Has(alias string) bool
}

// Engine classifies prompts against an ordered rule list. It performs no I/O and
// is safe for concurrent use.
type Engine struct {
	policy models.RoutingPolicy
}

// NewEngine validates the policy against the inventory. A malformed policy is a
// configuration error; once built, Decide cannot fail.
func NewEngine(policy models.RoutingPolicy, targets TargetChecker) (*Engine, error) {
	if strings.TrimSpace(policy.Default) == "" {
		return nil, services.ErrMissingDefault.Wrap(nil)
	}
	if targets != nil && !targets.Has(policy.Default) {
		return nil, services.ErrUnknownTarget.Wrap(fmt.Errorf("default target %q", policy.Default)).
			WithDetail("target", policy.Default)
	}

	if policy.ContextMargin < 0 {
		return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("negative context margin %v", policy.ContextMargin))
	}

	rules := make([]models.RoutingRule, 0, len(policy.Rules))
	for i, rule := range policy.Rules {
		if err := validateRule(rule); err != nil {
			return nil, services.ErrInvalidRule.Wrap(fmt.Errorf("rules[%d] %s: %w", i, rule.Name, err)).
				WithDetail("rule", rule.Name)
		}
		if targets != nil && !targets.Has(rule.Target) {
			return nil, services.ErrUnknownTarget.Wrap(fmt.Errorf("rules[%d] %s: target %q", i, rule.Name, rule.Target)).
				WithDetail("rule", rule.Name).
				WithDetail("target", rule.Target)
		}
		rules = append(rules, normalizeRule(rule))
	}
	policy.Rules = rules

	policy.Default = models.NormalizeAlias(policy.Default)

	return &Engine{policy: policy}, nil
}

// normalizeRule lowercases keywords and the target so matching is case-insensitive.
func normalizeRule(rule models.RoutingRule) models.RoutingRule {
	keywords := make([]string, len(rule.Keywords))
	for i, kw := range rule.Keywords {
		keywords[i] = strings.ToLower(kw)
	}
	rule.Keywords = keywords
	rule.Target = models.NormalizeAlias(rule.Target)
	return rule
}

func validateRule(rule models.RoutingRule) error {
	if rule.Name == "" {
		return errors.New("rule name is required")
	}
	if rule.Target == "" {
		return errors.New("rule target is required")
	}
	switch rule.Kind {
	case models.RuleKindKeywords:
		if len(rule.Keywords) == 0 && len(rule.Patterns) == 0 {
			return errors.New("keyword rule has no keywords or patterns")
		}
		for _, kw := range rule.Keywords {
			if kw == "" {
				return errors.New("empty keyword")
			}
		}
	case models.RuleKindLength:
		if rule.MinLength < 0 {
			return errors.New("negative length threshold")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
	return nil
}

// Decide picks the target for a prompt. A non-empty explicit alias is returned
// as-is without consulting any rule; whether it exists is the resolver's call.
// Otherwise rules are tried in declaration order and the first match wins.
func (e *Engine) Decide(prompt, explicitAlias string) TargetSelection {
	if alias := models.NormalizeAlias(explicitAlias); alias != "" {
		return TargetSelection{Target: alias, Source: models.SourceExplicit, Rule: RuleExplicit}
	}

	lowered := strings.ToLower(prompt)
	for _, rule := range e.policy.Rules {
		if matches(rule, prompt, lowered) {
			return TargetSelection{Target: rule.Target, Source: models.SourceRule, Rule: rule.Name}
		}
	}

	return TargetSelection{Target: e.policy.Default, Source: models.SourceDefault, Rule: RuleDefault}
}

// Policy returns the policy the engine evaluates.
func (e *Engine) Policy() models.RoutingPolicy {
	return e.policy
}

func matches(rule models.RoutingRule, prompt, lowered string) bool {
	switch rule.Kind {
	case models.RuleKindKeywords:
		if lowered == "" {
			return false
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				return true
			}
		}
		for _, re := range rule.Patterns {
			if re.MatchString(prompt) {
				return true
			}
		}
		return false
	case models.RuleKindLength:
		return utf8.RuneCountInString(prompt) > rule.MinLength
	default:
		return false
	}
}

// EstimateTokens approximates the prompt token count at four characters per token.
func EstimateTokens(prompt string) int {
	n := utf8.RuneCountInString(prompt) / 4
	if n < 1 {
		return 1
	}
	return n
}
