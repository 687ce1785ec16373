package models

import "strings"

// latestTag is the implicit Ollama tag; "gar-chat:latest" and "gar-chat" name the same alias.
const latestTag = ":latest"

// InventoryEntry maps a client-visible alias to a model served by one endpoint.
type InventoryEntry struct {
	Alias      string                 `json:"alias"`
	EndpointID string                 `json:"endpoint"`
	RealModel  string                 `json:"real_model"`
	Defaults   map[string]interface{} `json:"defaults,omitempty"`

	// Catalogue metadata reported by GET /api/tags
	Strengths     []string `json:"strengths,omitempty"`
	Tiers         []string `json:"tiers,omitempty"`
	ContextTokens int      `json:"ctx_tokens,omitempty"`
}

// NormalizeAlias lowercases an alias and drops a trailing ":latest".
func NormalizeAlias(name string) string {
	alias := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(alias, latestTag)
}
