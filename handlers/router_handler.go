package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/garvis/router/internal/observability"
	"github.com/garvis/router/middleware"
	"github.com/garvis/router/services"
	"github.com/garvis/router/services/inventory"
	"github.com/garvis/router/services/proxy"
	"github.com/garvis/router/utils"
	"go.uber.org/zap"
)

// Response headers identifying how a request was routed.
const (
	HeaderEndpoint  = "X-Router-Endpoint"
	HeaderAlias     = "X-Router-Alias"
	HeaderModel     = "X-Router-Model"
	HeaderRule      = "X-Router-Rule"
	HeaderLatencyMs = "X-Router-Latency-Ms"
)

// maxGenerateBody bounds inbound generate bodies; images travel base64-encoded.
const maxGenerateBody = 32 << 20

// RouterService is the forwarding proxy as seen by the HTTP layer
type RouterService interface {
	HandleGenerate(ctx context.Context, req *proxy.GenerateRequest) (*proxy.GenerateResult, error)
	Evaluate(ctx context.Context, req proxy.EvaluateRequest) (*proxy.Evaluation, error)
}

// Catalogue lists the client-visible aliases
type Catalogue interface {
	Catalogue() []inventory.CatalogueEntry
}

// TagsResponse mirrors Ollama's GET /api/tags
type TagsResponse struct {
	Models []inventory.CatalogueEntry `json:"models"`
}

// RouterHandler serves the routing endpoints. It only parses requests and
// renders results; all decisions live in the proxy service.
type RouterHandler struct {
	service   RouterService
	catalogue Catalogue
	logger    *zap.Logger
}

// NewRouterHandler creates a new RouterHandler
func NewRouterHandler(service RouterService, catalogue Catalogue, logger *zap.Logger) *RouterHandler {
	return &RouterHandler{
		service:   service,
		catalogue: catalogue,
		logger:    logger,
	}
}

// HandleGenerate handles POST /api/generate
func (h *RouterHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	logger := observability.LoggerFrom(ctx, h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleServiceError(w, services.ErrInvalidRequest.Wrap(err).WithDetail("limit_bytes", tooLarge.Limit), logger)
			return
		}
		HandleServiceError(w, services.ErrInvalidRequest.Wrap(err), logger)
		return
	}

	req, err := proxy.ParseGenerateRequest(requestID, body)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	result, err := h.service.HandleGenerate(ctx, req)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	w.Header().Set(HeaderEndpoint, result.Endpoint)
	w.Header().Set(HeaderAlias, result.Alias)
	w.Header().Set(HeaderModel, result.RealModel)
	w.Header().Set(HeaderRule, result.Rule)
	w.Header().Set(HeaderLatencyMs, strconv.FormatInt(result.LatencyMs, 10))

	if err := utils.WriteRaw(w, result.StatusCode, result.ContentType, result.Body); err != nil {
		logger.Warn("failed to write generate response", zap.Error(err))
	}
}

// HandleRoute handles POST /route: the routing decision without a backend call
func (h *RouterHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFrom(ctx, h.logger)

	var req proxy.EvaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody)).Decode(&req); err != nil {
		HandleServiceError(w, services.ErrInvalidRequest.Wrap(err).WithDetail("cause", "request body must be a JSON object"), logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}
	req.RequestID = middleware.GetRequestIDFromContext(ctx)

	evaluation, err := h.service.Evaluate(ctx, req)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	w.Header().Set(HeaderEndpoint, evaluation.Target)
	w.Header().Set(HeaderAlias, evaluation.Alias)
	w.Header().Set(HeaderModel, evaluation.RealModel)
	w.Header().Set(HeaderRule, evaluation.Rule)
	_ = utils.WriteJSON(w, http.StatusOK, evaluation)
}

// HandleTags handles GET /api/tags with the alias catalogue
func (h *RouterHandler) HandleTags(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, TagsResponse{Models: h.catalogue.Catalogue()})
}
