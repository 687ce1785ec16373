package models

import (
	"math"
	"strings"
)

// Endpoint is one inference backend instance (an Ollama-compatible HTTP server).
type Endpoint struct {
	ID             string   `json:"id"`
	BaseURL        string   `json:"base_url"`
	Tags           []string `json:"tags,omitempty"`
	GPUIndex       *int     `json:"gpu_index,omitempty"`
	CPUOnly        bool     `json:"cpu_only"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"` // advisory, not enforced

	// EstTokensPerSec is the expected generation throughput, used only for
	// latency estimates. Zero means unknown.
	EstTokensPerSec float64 `json:"est_tok_s,omitempty"`
}

// estimatedOutputTokens is the reply length assumed by EstimateLatency.
const estimatedOutputTokens = 150

// EstimateLatency returns the expected seconds to generate a typical reply,
// rounded to centiseconds. ok is false when the throughput is unknown.
func (e *Endpoint) EstimateLatency() (seconds float64, ok bool) {
	if e.EstTokensPerSec <= 0 {
		return 0, false
	}
	return math.Round(estimatedOutputTokens/e.EstTokensPerSec*100) / 100, true
}

// URL joins path onto the endpoint base URL.
func (e *Endpoint) URL(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// HasTag reports whether the endpoint carries the given capability tag.
func (e *Endpoint) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
