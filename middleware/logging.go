package middleware

import (
	"net/http"
	"time"

	"github.com/garvis/router/internal/observability"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HTTPMetrics records one served request
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, seconds float64)
}

// RequestLogger logs every request with zap and feeds metrics. The route label
// is the chi pattern, not the raw path. metrics may be nil. Handlers further
// down get a logger tagged with the request ID through observability.LoggerFrom.
func RequestLogger(logger *zap.Logger, metrics HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			requestID := GetRequestIDFromContext(r.Context())

			ctx, slot := withPrincipalSlot(r.Context())
			ctx = observability.WithLogger(ctx, logger.With(zap.String("request_id", requestID)))

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			if metrics != nil {
				metrics.ObserveHTTP(r.Method, route, status, elapsed.Seconds())
			}

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if p := slot.principal; p != nil {
				fields = append(fields, zap.String("principal", p.Subject))
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Warn("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
