package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
)

// Observability adds OpenTelemetry tracing and request metrics
func Observability(metrics *observability.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Use route pattern instead of raw path to avoid high cardinality
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			req := c.Request()

			ctx, span := observability.StartSpan(req.Context(), req.Method+" "+route)
			defer span.End()
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.String("http.user_agent", req.UserAgent()),
			)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
				observability.RecordError(span, err)
			}
			observability.RecordRequestMetric(ctx, metrics, req.Method, route, status, time.Since(start))
			span.SetAttributes(attribute.Int("http.status_code", status))
			return err
		}
	}
}
