package models

import (
	"sort"
	"time"
)

// HealthStatus is the aggregate fleet status.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// EndpointProbe is the liveness result for a single endpoint.
type EndpointProbe struct {
	EndpointID string `json:"endpoint"`
	BaseURL    string `json:"base_url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// HealthSnapshot is a point-in-time view of every endpoint. It is never cached.
type HealthSnapshot struct {
	Status     HealthStatus             `json:"status"`
	AllOK      bool                     `json:"all_ok"`
	AnyOK      bool                     `json:"any_ok"`
	Endpoints  map[string]EndpointProbe `json:"endpoints"`
	Components map[string]string        `json:"components,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Down returns the sorted IDs of endpoints whose probe failed.
func (s *HealthSnapshot) Down() []string {
	out := []string{}
	for id, p := range s.Endpoints {
		if !p.OK {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
