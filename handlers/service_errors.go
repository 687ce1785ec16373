package handlers

import (
	"errors"
	"net/http"

	"github.com/garvis/router/services"
	"github.com/garvis/router/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. Client errors are
// logged at debug at most; backend and internal errors are logged by the
// component that produced them.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	code := services.GetErrorCode(err)
	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)
	setRoutingHeaders(w, details)

	var status int
	switch {
	case services.IsValidationError(err):
		status = http.StatusBadRequest

	case services.IsUnauthorizedError(err):
		if werr := utils.WriteUnauthorized(w, code, message); werr != nil {
			logger.Error("failed to write unauthorized response", zap.Error(werr))
		}
		return

	case services.IsBackendError(err):
		status = http.StatusServiceUnavailable
		if code == services.CodeBackendProtocol {
			status = http.StatusBadGateway
		}
		if cause := errCause(err); cause != "" {
			details = withDetail(details, "cause", cause)
		}

	case services.IsCancelledError(err):
		status = utils.StatusClientClosedRequest

	case services.IsConfigurationError(err):
		// Configuration is validated at load; seeing one here is a bug.
		logger.Error("configuration error at request time", zap.Error(err))
		status = http.StatusInternalServerError

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return
	}

	if werr := utils.WriteError(w, status, code, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr), zap.Int("status", status))
	}
	logger.Debug("handled service error",
		zap.String("code", code),
		zap.Int("status", status),
		zap.Any("details", details))
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		details := make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
		if werr := utils.WriteBadRequest(w, services.CodeInvalidRequest, "Validation failed", details); werr != nil {
			logger.Error("failed to write validation error response", zap.Error(werr))
		}
		return
	}

	if werr := utils.WriteBadRequest(w, services.CodeInvalidRequest, err.Error(), nil); werr != nil {
		logger.Error("failed to write validation error response", zap.Error(werr))
	}
}

// setRoutingHeaders exposes the endpoint and alias involved in a failed request.
func setRoutingHeaders(w http.ResponseWriter, details map[string]interface{}) {
	for key, header := range map[string]string{
		"endpoint": HeaderEndpoint,
		"alias":    HeaderAlias,
		"model":    HeaderModel,
		"rule":     HeaderRule,
	} {
		if v, ok := details[key].(string); ok && v != "" {
			w.Header().Set(header, v)
		}
	}
}

func errCause(err error) string {
	var de *services.DomainError
	if !errors.As(err, &de) || de.Err == nil {
		return ""
	}
	return de.Err.Error()
}

func withDetail(details map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
