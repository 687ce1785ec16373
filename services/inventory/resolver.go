package inventory

import (
	"fmt"

	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
)

// defaultContextTokens is reported for aliases that do not declare ctx_tokens.
const defaultContextTokens = 4096

// Resolution is the concrete backend behind an alias.
type Resolution struct {
	Alias         string
	Endpoint      *models.Endpoint
	RealModel     string
	Defaults      map[string]interface{}
	ContextTokens int
}

// CatalogueEntry describes one alias in the Ollama /api/tags shape.
type CatalogueEntry struct {
	Name    string         `json:"name"`
	Model   string         `json:"model"`
	Size    int64          `json:"size"`
	Digest  string         `json:"digest"`
	Details CatalogueExtra `json:"details"`
}

// CatalogueExtra carries the routing metadata of an alias.
type CatalogueExtra struct {
	Endpoint      string   `json:"endpoint"`
	Tiers         []string `json:"tiers"`
	Strengths     []string `json:"strengths"`
	ContextTokens int      `json:"ctx_tokens"`
}

// Resolver maps aliases to (endpoint, real model). It only reads the configuration
// and is safe for concurrent use.
type Resolver struct {
	cfg *models.RouterConfig
}

// NewResolver checks that every inventory entry names a configured endpoint.
func NewResolver(cfg *models.RouterConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, services.ErrInvalidConfig.Wrap(fmt.Errorf("nil router config"))
	}
	for _, alias := range cfg.Aliases() {
		entry := cfg.Inventory[alias]
		if _, ok := cfg.Endpoint(entry.EndpointID); !ok {
			return nil, services.ErrDanglingEndpoint.Wrap(fmt.Errorf("alias %q references endpoint %q", alias, entry.EndpointID)).
				WithDetail("alias", alias).
				WithDetail("endpoint", entry.EndpointID)
		}
	}
	return &Resolver{cfg: cfg}, nil
}

// Resolve looks up an alias or heuristic target. Unknown names are client errors.
func (r *Resolver) Resolve(name string) (*Resolution, error) {
	entry, ok := r.cfg.Lookup(name)
	if !ok {
		return nil, services.ErrUnknownAlias.Wrap(nil).
			WithDetail("alias", name).
			WithDetail("known_aliases", r.cfg.Aliases())
	}
	// NewResolver guarantees the endpoint exists.
	ep, _ := r.cfg.Endpoint(entry.EndpointID)
	return &Resolution{
		Alias:         entry.Alias,
		Endpoint:      ep,
		RealModel:     entry.RealModel,
		Defaults:      entry.Defaults,
		ContextTokens: contextTokens(entry),
	}, nil
}

// Has reports whether name resolves.
func (r *Resolver) Has(name string) bool {
	_, ok := r.cfg.Lookup(name)
	return ok
}

// Catalogue lists every alias sorted by name.
func (r *Resolver) Catalogue() []CatalogueEntry {
	aliases := r.cfg.Aliases()
	out := make([]CatalogueEntry, 0, len(aliases))
	for _, alias := range aliases {
		entry := r.cfg.Inventory[alias]
		tiers := entry.Tiers
		if len(tiers) == 0 {
			tiers = []string{"default"}
		}
		strengths := entry.Strengths
		if strengths == nil {
			strengths = []string{}
		}
		out = append(out, CatalogueEntry{
			Name:   alias,
			Model:  alias,
			Digest: "alias",
			Details: CatalogueExtra{
				Endpoint:      entry.EndpointID,
				Tiers:         tiers,
				Strengths:     strengths,
				ContextTokens: contextTokens(entry),
			},
		})
	}
	return out
}

// EndpointsInUse returns, per endpoint ID, the aliases it serves.
func (r *Resolver) EndpointsInUse() map[string][]string {
	out := map[string][]string{}
	for _, alias := range r.cfg.Aliases() {
		entry := r.cfg.Inventory[alias]
		out[entry.EndpointID] = append(out[entry.EndpointID], alias)
	}
	return out
}

func contextTokens(entry *models.InventoryEntry) int {
	if entry.ContextTokens == 0 {
		return defaultContextTokens
	}
	return entry.ContextTokens
}
