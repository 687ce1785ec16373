package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
	"github.com/garvis/router/utils"
	"gopkg.in/yaml.v3"
)

// routingFile is the on-disk shape of the routing configuration.
type routingFile struct {
	Endpoints []endpointSpec           `yaml:"endpoints" validate:"required,min=1,dive"`
	Inventory map[string]inventorySpec `yaml:"inventory" validate:"required,min=1,dive"`
	Policy    policySpec               `yaml:"policy"`
}

type endpointSpec struct {
	ID              string   `yaml:"id" validate:"required"`
	BaseURL         string   `yaml:"base_url" validate:"required,url"`
	Tags            []string `yaml:"tags"`
	GPUIndex        *int     `yaml:"gpu_index" validate:"omitempty,gte=0"`
	CPUOnly         bool     `yaml:"cpu_only"`
	MaxConcurrency  int      `yaml:"max_concurrency" validate:"gte=0"`
	EstTokensPerSec float64  `yaml:"est_tok_s" validate:"gte=0"`
}

type inventorySpec struct {
	Endpoint      string                 `yaml:"endpoint" validate:"required"`
	RealModel     string                 `yaml:"real_model" validate:"required"`
	Defaults      map[string]interface{} `yaml:"defaults"`
	Strengths     []string               `yaml:"strengths"`
	Tiers         []string               `yaml:"tiers"`
	ContextTokens int                    `yaml:"ctx_tokens" validate:"gte=0"`
}

type policySpec struct {
	Default      string     `yaml:"default"`
	Rules        []ruleSpec `yaml:"rules" validate:"dive"`
	MinCtxMargin *float64   `yaml:"min_ctx_margin" validate:"omitempty,gte=0"`
}

// ruleSpec is one policy rule. Kind may be omitted and is then inferred: a
// positive min_length makes a length rule, keywords or patterns a keyword rule.
// A length rule with min_length 0 needs an explicit kind.
type ruleSpec struct {
	Name      string   `yaml:"name" validate:"required"`
	Kind      string   `yaml:"kind" validate:"omitempty,oneof=keywords length"`
	Keywords  []string `yaml:"keywords"`
	Patterns  []string `yaml:"patterns"`
	MinLength int      `yaml:"min_length" validate:"gte=0"`
	Target    string   `yaml:"target" validate:"required"`
}

// LoadRouting reads and validates the routing configuration at path.
func LoadRouting(path string) (*models.RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("read %s: %w", path, err)).
			WithDetail("path", path)
	}
	cfg, err := ParseRouting(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseRouting decodes routing YAML, expanding ${VAR} and ${VAR:-default} references
// first, and checks every cross reference. All failures are configuration errors.
func ParseRouting(data []byte) (*models.RouterConfig, error) {
	expanded := os.Expand(string(data), lookupEnv)

	var file routingFile
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.ErrInvalidConfig.Wrap(errors.New("routing config is empty"))
		}
		return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("parse routing config: %w", err))
	}

	if err := utils.ValidateStruct(&file); err != nil {
		return nil, services.ErrInvalidConfig.Wrap(err).
			WithDetail("fields", utils.GetValidationFields(err))
	}

	return file.build()
}

func (f *routingFile) build() (*models.RouterConfig, error) {
	cfg := &models.RouterConfig{
		Endpoints: make(map[string]*models.Endpoint, len(f.Endpoints)),
		Inventory: make(map[string]*models.InventoryEntry, len(f.Inventory)),
	}

	for i, spec := range f.Endpoints {
		if _, dup := cfg.Endpoints[spec.ID]; dup {
			return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("endpoints[%d]: duplicate endpoint id %q", i, spec.ID)).
				WithDetail("endpoint", spec.ID)
		}
		cfg.Endpoints[spec.ID] = &models.Endpoint{
			ID:              spec.ID,
			BaseURL:         strings.TrimRight(spec.BaseURL, "/"),
			Tags:            spec.Tags,
			GPUIndex:        spec.GPUIndex,
			CPUOnly:         spec.CPUOnly,
			MaxConcurrency:  spec.MaxConcurrency,
			EstTokensPerSec: spec.EstTokensPerSec,
		}
		cfg.EndpointOrder = append(cfg.EndpointOrder, spec.ID)
	}

	for name, spec := range f.Inventory {
		alias := models.NormalizeAlias(name)
		if alias == "" {
			return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("inventory: empty alias %q", name))
		}
		if existing, dup := cfg.Inventory[alias]; dup {
			return nil, services.ErrDuplicateAlias.Wrap(fmt.Errorf("inventory.%s: collides with %q", name, existing.Alias)).
				WithDetail("alias", alias)
		}
		if _, ok := cfg.Endpoints[spec.Endpoint]; !ok {
			return nil, services.ErrDanglingEndpoint.Wrap(fmt.Errorf("inventory.%s: endpoint %q is not declared", name, spec.Endpoint)).
				WithDetail("alias", alias).
				WithDetail("endpoint", spec.Endpoint)
		}
		cfg.Inventory[alias] = &models.InventoryEntry{
			Alias:         alias,
			EndpointID:    spec.Endpoint,
			RealModel:     spec.RealModel,
			Defaults:      spec.Defaults,
			Strengths:     spec.Strengths,
			Tiers:         spec.Tiers,
			ContextTokens: spec.ContextTokens,
		}
	}

	policy, err := f.Policy.build(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	return cfg, nil
}

func (p *policySpec) build(cfg *models.RouterConfig) (models.RoutingPolicy, error) {
	policy := models.RoutingPolicy{ContextMargin: models.DefaultContextMargin}
	if p.MinCtxMargin != nil {
		policy.ContextMargin = *p.MinCtxMargin
	}

	if strings.TrimSpace(p.Default) == "" {
		return policy, services.ErrMissingDefault.Wrap(nil)
	}
	policy.Default = models.NormalizeAlias(p.Default)
	if _, ok := cfg.Inventory[policy.Default]; !ok {
		return policy, services.ErrUnknownTarget.Wrap(fmt.Errorf("policy.default: %q is not in the inventory", p.Default)).
			WithDetail("target", policy.Default)
	}

	names := map[string]bool{}
	for i, spec := range p.Rules {
		rule, err := spec.build()
		if err != nil {
			return policy, services.ErrInvalidRule.Wrap(fmt.Errorf("policy.rules[%d] %s: %w", i, spec.Name, err)).
				WithDetail("rule", spec.Name)
		}
		if names[rule.Name] {
			return policy, services.ErrInvalidRule.Wrap(fmt.Errorf("policy.rules[%d]: duplicate rule name %q", i, rule.Name)).
				WithDetail("rule", rule.Name)
		}
		names[rule.Name] = true
		if _, ok := cfg.Inventory[rule.Target]; !ok {
			return policy, services.ErrUnknownTarget.Wrap(fmt.Errorf("policy.rules[%d] %s: target %q is not in the inventory", i, rule.Name, spec.Target)).
				WithDetail("rule", rule.Name).
				WithDetail("target", rule.Target)
		}
		policy.Rules = append(policy.Rules, rule)
	}

	return policy, nil
}

func (s *ruleSpec) build() (models.RoutingRule, error) {
	rule := models.RoutingRule{
		Name:   s.Name,
		Target: models.NormalizeAlias(s.Target),
	}

	hasKeywords := len(s.Keywords) > 0 || len(s.Patterns) > 0
	kind := models.RuleKind(s.Kind)
	if kind == "" {
		switch {
		case hasKeywords && s.MinLength > 0:
			return rule, errors.New("a rule is either a keyword rule or a length rule, not both")
		case s.MinLength > 0:
			kind = models.RuleKindLength
		case hasKeywords:
			kind = models.RuleKindKeywords
		default:
			return rule, errors.New("rule needs keywords, patterns or min_length")
		}
	}

	switch kind {
	case models.RuleKindLength:
		if hasKeywords {
			return rule, errors.New("a length rule takes no keywords or patterns")
		}
		rule.Kind = models.RuleKindLength
		rule.MinLength = s.MinLength
		return rule, nil
	case models.RuleKindKeywords:
		if s.MinLength > 0 {
			return rule, errors.New("a keyword rule takes no min_length")
		}
		if !hasKeywords {
			return rule, errors.New("keyword rule needs keywords or patterns")
		}
	}

	rule.Kind = models.RuleKindKeywords
	for _, kw := range s.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return rule, errors.New("empty keyword")
		}
		rule.Keywords = append(rule.Keywords, kw)
	}
	for _, src := range s.Patterns {
		re, err := CompilePattern(src)
		if err != nil {
			return rule, err
		}
		rule.Patterns = append(rule.Patterns, re)
	}
	return rule, nil
}

func lookupEnv(key string) string {
	name, def, hasDefault := strings.Cut(key, ":-")
	if value, ok := os.LookupEnv(name); ok && value != "" {
		return value
	}
	if hasDefault {
		return def
	}
	return ""
}

// CompilePattern compiles a rule pattern case-insensitively.
func CompilePattern(src string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", src, err)
	}
	return re, nil
}
