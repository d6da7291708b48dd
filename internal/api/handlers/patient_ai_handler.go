package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartqrhealth/backend/internal/application/services"
)

// AIJobRunner runs a patient's AI job synchronously
type AIJobRunner interface {
	ProcessPatientJob(ctx context.Context, patientID string) services.JobOutcome
}

// AIViewReader reads a patient's AI view
type AIViewReader interface {
	GetView(ctx context.Context, patientID string) (*services.PatientAIView, error)
}

// PatientAIHandler serves the patient AI summary endpoints
type PatientAIHandler struct {
	jobs  AIJobRunner
	views AIViewReader
}

// NewPatientAIHandler creates a new patient AI handler
func NewPatientAIHandler(jobs AIJobRunner, views AIViewReader) *PatientAIHandler {
	return &PatientAIHandler{jobs: jobs, views: views}
}

// TriggerJob handles POST /api/patients/:id/ai/jobs
//
// The job result is recorded on the patient; the response is always 202 with
// the recorded outcome, including failures that will be retried.
func (h *PatientAIHandler) TriggerJob(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return respondWithError(c, http.StatusBadRequest, "patient ID is required")
	}

	ctx := services.WithTrigger(c.Request().Context(), services.TriggerAPI)
	return c.JSON(http.StatusAccepted, h.jobs.ProcessPatientJob(ctx, patientID))
}

// GetAIView handles GET /api/patients/:id/ai
func (h *PatientAIHandler) GetAIView(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return respondWithError(c, http.StatusBadRequest, "patient ID is required")
	}

	view, err := h.views.GetView(c.Request().Context(), patientID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
