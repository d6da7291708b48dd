package routes

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/smartqrhealth/backend/internal/api/handlers"
	"github.com/smartqrhealth/backend/internal/api/middleware"
	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	echo *echo.Echo

	patientAIHandler *handlers.PatientAIHandler
	reportHandler    *handlers.ReportHandler
	assistantHandler *handlers.AssistantHandler
	insightHandler   *handlers.InsightHandler
	sseHandler       *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	patientAIHandler *handlers.PatientAIHandler,
	reportHandler *handlers.ReportHandler,
	assistantHandler *handlers.AssistantHandler,
	insightHandler *handlers.InsightHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Router{
		echo:             e,
		patientAIHandler: patientAIHandler,
		reportHandler:    reportHandler,
		assistantHandler: assistantHandler,
		insightHandler:   insightHandler,
		sseHandler:       sseHandler,
		allowedOrigins:   allowedOrigins,
		metrics:          metrics,
	}
}

// SetupRoutes configures middleware and all application routes
func (r *Router) SetupRoutes() *echo.Echo {
	e := r.echo

	e.Use(middleware.RequestID())
	e.Use(middleware.Logging())
	e.Use(middleware.Recovery())
	e.Use(middleware.CORS(r.allowedOrigins))
	e.Use(middleware.Observability(r.metrics))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		// Event streams must reach the client unbuffered.
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, "/events")
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	api := e.Group("/api")

	// Patient AI summary endpoints
	api.POST("/patients/:id/ai/jobs", r.patientAIHandler.TriggerJob)
	api.GET("/patients/:id/ai", r.patientAIHandler.GetAIView)
	api.GET("/patients/:id/ai/events", r.sseHandler.StreamPatientEvents)
	api.GET("/ai/events", r.sseHandler.StreamAllEvents)

	// Report endpoints
	api.POST("/reports/:id/analysis", r.reportHandler.AnalyzeReport)
	api.POST("/patients/:id/reports/validation", r.reportHandler.ValidateReports)

	// Assistant
	api.POST("/patients/:id/assistant/chat", r.assistantHandler.Chat)

	// Insight search
	api.GET("/insights/search", r.insightHandler.Search)

	return e
}
