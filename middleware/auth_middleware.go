package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/garvis/router/services"
	"github.com/garvis/router/utils"
	"go.uber.org/zap"
)

// TokenValidator checks a bearer token and returns the caller it belongs to
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth rejects requests without a valid bearer token. A missing
// Authorization header is reported as missing_token; anything else that fails
// is invalid_token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		header := r.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, services.CodeMissingToken, services.ErrMissingToken.Message)
			return
		}

		token, ok := extractBearerToken(header)
		if !ok {
			m.logger.Warn("malformed authorization header",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, services.CodeInvalidToken, "authorization header must be 'Bearer <token>'")
			return
		}

		principal, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, services.CodeInvalidToken, services.ErrInvalidToken.Message)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", principal.Subject),
			zap.String("method", principal.Method))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// extractBearerToken extracts the token from an "Authorization: Bearer <token>" header
func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
