package models

import (
	"time"

	"github.com/google/uuid"
)

// SelectionSource records how a target was chosen.
type SelectionSource string

const (
	SourceExplicit SelectionSource = "explicit"
	SourceRule     SelectionSource = "rule"
	SourceDefault  SelectionSource = "default"
)

// DecisionOutcome is the result of the forwarded call.
type DecisionOutcome string

const (
	OutcomeSuccess   DecisionOutcome = "success"
	OutcomeError     DecisionOutcome = "error"
	OutcomeCancelled DecisionOutcome = "cancelled"
	// OutcomeEvaluated marks decisions made without a backend call (POST /route).
	OutcomeEvaluated DecisionOutcome = "evaluated"
)

// RouteDecision is one append-only decision log record.
type RouteDecision struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	RequestID   string          `json:"request_id" db:"request_id"`
	Timestamp   time.Time       `json:"ts" db:"ts"`
	Source      SelectionSource `json:"source" db:"source"`
	Rule        string          `json:"rule" db:"rule"`
	Alias       string          `json:"alias" db:"alias"`
	RealModel   string          `json:"real_model,omitempty" db:"real_model"`
	EndpointID  string          `json:"endpoint,omitempty" db:"endpoint_id"`
	PromptChars int             `json:"prompt_chars" db:"prompt_chars"`
	EstTokens   int             `json:"est_tokens" db:"est_tokens"`
	Outcome     DecisionOutcome `json:"outcome" db:"outcome"`
	LatencyMs   int64           `json:"latency_ms" db:"latency_ms"`

	StatusCode   *int    `json:"status_code,omitempty" db:"status_code"`
	ErrorKind    *string `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the RouteDecision model
func (RouteDecision) TableName() string {
	return "route_decisions"
}

// NewRouteDecision creates a decision record stamped with a fresh ID and the current time.
func NewRouteDecision(requestID string, source SelectionSource, rule, alias string) *RouteDecision {
	return &RouteDecision{
		ID:        uuid.New(),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Rule:      rule,
		Alias:     alias,
	}
}

// WithTarget sets the resolved backend model and endpoint.
func (d *RouteDecision) WithTarget(realModel, endpointID string) *RouteDecision {
	d.RealModel = realModel
	d.EndpointID = endpointID
	return d
}

// WithPrompt records the prompt size.
func (d *RouteDecision) WithPrompt(chars, estTokens int) *RouteDecision {
	d.PromptChars = chars
	d.EstTokens = estTokens
	return d
}

// WithOutcome sets the outcome and the elapsed time since start.
func (d *RouteDecision) WithOutcome(outcome DecisionOutcome, latency time.Duration) *RouteDecision {
	d.Outcome = outcome
	d.LatencyMs = latency.Milliseconds()
	return d
}

// WithStatus records the backend HTTP status.
func (d *RouteDecision) WithStatus(statusCode int) *RouteDecision {
	d.StatusCode = &statusCode
	return d
}

// WithError records the error kind and message.
func (d *RouteDecision) WithError(kind, message string) *RouteDecision {
	d.ErrorKind = &kind
	d.ErrorMessage = &message
	return d
}
