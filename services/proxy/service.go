package proxy

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
	"github.com/garvis/router/services/backend"
	"github.com/garvis/router/services/inventory"
	"github.com/garvis/router/services/routing"
	"go.uber.org/zap"
)

// Decider picks a target alias for a prompt.
type Decider interface {
	Decide(prompt, explicitAlias string) routing.TargetSelection
	Policy() models.RoutingPolicy
}

// Resolver turns an alias into a concrete endpoint and model.
type Resolver interface {
	Resolve(name string) (*inventory.Resolution, error)
}

// Backend performs the single outbound generate call.
type Backend interface {
	Generate(ctx context.Context, endpoint *models.Endpoint, body []byte) (*backend.Response, error)
}

// DecisionLog accepts decision records without blocking.
type DecisionLog interface {
	Enqueue(d *models.RouteDecision) bool
}

// Metrics receives completed decisions
type Metrics interface {
	ObserveDecision(d *models.RouteDecision)
}

// GenerateResult is a successful forwarded call. Body is the backend reply, unmodified.
type GenerateResult struct {
	StatusCode  int
	ContentType string
	Body        []byte

	Alias     string
	Endpoint  string
	RealModel string
	Rule      string
	Source    models.SelectionSource
	LatencyMs int64
}

// EvaluateRequest asks for a routing decision without forwarding.
type EvaluateRequest struct {
	RequestID string `json:"-"`
	Prompt    string `json:"prompt" validate:"required"`
	Model     string `json:"model,omitempty"`
}

// Evaluation is the outcome of Evaluate. The context and latency fields are
// advisory; they never change the chosen target.
type Evaluation struct {
	Target    string                 `json:"target"`
	Alias     string                 `json:"alias"`
	RealModel string                 `json:"real_model"`
	Rule      string                 `json:"rule"`
	Source    models.SelectionSource `json:"source"`
	EstTokens int                    `json:"est_tokens"`
	BaseURL   string                 `json:"base_url"`

	CtxTokens   int         `json:"ctx_tokens"`
	FitsContext bool        `json:"fits_context"`
	EstLatencyS *float64    `json:"est_latency_s,omitempty"`
	Constraints Constraints `json:"constraints"`
}

// Constraints are the inputs of the context check.
type Constraints struct {
	PromptTokens int     `json:"prompt_tokens"`
	CtxMargin    float64 `json:"ctx_margin"`
}

// Service is the forwarding proxy: decide, resolve, forward once, record.
type Service struct {
	decider  Decider
	resolver Resolver
	backend  Backend
	log      DecisionLog
	metrics  Metrics
	logger   *zap.Logger
}

// NewService creates a forwarding proxy. metrics may be nil.
func NewService(decider Decider, resolver Resolver, backend Backend, log DecisionLog, metrics Metrics, logger *zap.Logger) *Service {
	return &Service{
		decider:  decider,
		resolver: resolver,
		backend:  backend,
		log:      log,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleGenerate routes one generate request to exactly one backend. There are
// no retries and no failover; backend failures come back as typed errors
// carrying the endpoint and alias involved.
func (s *Service) HandleGenerate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req.Stream != nil && *req.Stream {
		return nil, services.ErrStreamingUnsupported.Wrap(nil).
			WithDetail("hint", `set "stream": false`)
	}

	sel := s.decider.Decide(req.Prompt, req.Model)
	decision := models.NewRouteDecision(req.RequestID, sel.Source, sel.Rule, sel.Target).
		WithPrompt(utf8.RuneCountInString(req.Prompt), routing.EstimateTokens(req.Prompt))

	res, err := s.resolver.Resolve(sel.Target)
	if err != nil {
		s.record(decision.WithOutcome(models.OutcomeError, 0), err)
		s.logger.Warn("rejected generate request",
			zap.String("request_id", req.RequestID),
			zap.String("alias", sel.Target),
			zap.String("code", services.GetErrorCode(err)))
		return nil, annotate(err, sel, nil)
	}
	decision.Alias = res.Alias
	decision.WithTarget(res.RealModel, res.Endpoint.ID)

	body, err := req.backendBody(res.RealModel, res.Defaults)
	if err != nil {
		s.record(decision.WithOutcome(models.OutcomeError, 0), err)
		return nil, annotate(err, sel, res)
	}

	start := time.Now()
	resp, err := s.backend.Generate(ctx, res.Endpoint, body)
	latency := time.Since(start)

	if err != nil {
		outcome := models.OutcomeError
		if services.IsCancelledError(err) {
			outcome = models.OutcomeCancelled
		}
		decision.WithOutcome(outcome, latency)
		if status, ok := services.GetErrorDetails(err)["status_code"].(int); ok {
			decision.WithStatus(status)
		}
		s.record(decision, err)
		s.logFailure(req.RequestID, res, sel, latency, err)
		return nil, annotate(err, sel, res)
	}

	decision.WithOutcome(models.OutcomeSuccess, latency).WithStatus(resp.StatusCode)
	s.record(decision, nil)

	s.logger.Info("request routed",
		zap.String("request_id", req.RequestID),
		zap.String("alias", res.Alias),
		zap.String("endpoint", res.Endpoint.ID),
		zap.String("model", res.RealModel),
		zap.String("rule", sel.Rule),
		zap.Int64("latency_ms", latency.Milliseconds()))

	return &GenerateResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Alias:       res.Alias,
		Endpoint:    res.Endpoint.ID,
		RealModel:   res.RealModel,
		Rule:        sel.Rule,
		Source:      sel.Source,
		LatencyMs:   latency.Milliseconds(),
	}, nil
}

// Evaluate decides and resolves without calling a backend.
func (s *Service) Evaluate(_ context.Context, req EvaluateRequest) (*Evaluation, error) {
	sel := s.decider.Decide(req.Prompt, req.Model)
	decision := models.NewRouteDecision(req.RequestID, sel.Source, sel.Rule, sel.Target).
		WithPrompt(utf8.RuneCountInString(req.Prompt), routing.EstimateTokens(req.Prompt))

	res, err := s.resolver.Resolve(sel.Target)
	if err != nil {
		s.record(decision.WithOutcome(models.OutcomeError, 0), err)
		return nil, annotate(err, sel, nil)
	}
	decision.Alias = res.Alias
	s.record(decision.WithTarget(res.RealModel, res.Endpoint.ID).WithOutcome(models.OutcomeEvaluated, 0), nil)

	policy := s.decider.Policy()
	ev := &Evaluation{
		Target:      res.Endpoint.ID,
		Alias:       res.Alias,
		RealModel:   res.RealModel,
		Rule:        sel.Rule,
		Source:      sel.Source,
		EstTokens:   decision.EstTokens,
		BaseURL:     res.Endpoint.BaseURL,
		CtxTokens:   res.ContextTokens,
		FitsContext: policy.FitsContext(decision.EstTokens, res.ContextTokens),
		Constraints: Constraints{PromptTokens: decision.EstTokens, CtxMargin: policy.ContextMargin},
	}
	if latency, ok := res.Endpoint.EstimateLatency(); ok {
		ev.EstLatencyS = &latency
	}
	if !ev.FitsContext {
		s.logger.Debug("prompt exceeds target context window",
			zap.String("request_id", req.RequestID),
			zap.String("alias", res.Alias),
			zap.Int("est_tokens", decision.EstTokens),
			zap.Int("ctx_tokens", res.ContextTokens))
	}
	return ev, nil
}

func (s *Service) record(d *models.RouteDecision, err error) {
	if err != nil {
		code := services.GetErrorCode(err)
		if code == "" {
			code = services.CodeInternal
		}
		d.WithError(code, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(d)
	}
	s.log.Enqueue(d)
}

func (s *Service) logFailure(requestID string, res *inventory.Resolution, sel routing.TargetSelection, latency time.Duration, err error) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("alias", res.Alias),
		zap.String("endpoint", res.Endpoint.ID),
		zap.String("model", res.RealModel),
		zap.String("rule", sel.Rule),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Error(err),
	}
	if services.IsCancelledError(err) {
		s.logger.Info("request cancelled by client", fields...)
		return
	}
	s.logger.Error("backend call failed", fields...)
}

// annotate adds the routing context to a domain error so the caller can see
// which alias and endpoint were involved.
func annotate(err error, sel routing.TargetSelection, res *inventory.Resolution) error {
	var de *services.DomainError
	if !errors.As(err, &de) {
		return err
	}
	de.WithDetail("alias", sel.Target).
		WithDetail("rule", sel.Rule).
		WithDetail("source", string(sel.Source))
	if res != nil {
		de.WithDetail("alias", res.Alias).
			WithDetail("endpoint", res.Endpoint.ID).
			WithDetail("model", res.RealModel)
	}
	return err
}
