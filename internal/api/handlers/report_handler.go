package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartqrhealth/backend/internal/application/services"
)

// ReportAnalysisRunner analyzes a report and merges it into the patient
type ReportAnalysisRunner interface {
	AnalyzeAndMerge(ctx context.Context, reportID string) (*services.ReportAnalysisResult, error)
}

// ReportValidator checks a batch of uploads against the patient's records
type ReportValidator interface {
	Validate(ctx context.Context, patientID string, files []services.UploadedFileMeta) (*services.ReportValidationResult, error)
}

// ReportHandler serves the report analysis endpoints
type ReportHandler struct {
	analysis   ReportAnalysisRunner
	validation ReportValidator
}

// NewReportHandler creates a new report handler
func NewReportHandler(analysis ReportAnalysisRunner, validation ReportValidator) *ReportHandler {
	return &ReportHandler{analysis: analysis, validation: validation}
}

// AnalyzeReport handles POST /api/reports/:id/analysis
func (h *ReportHandler) AnalyzeReport(c echo.Context) error {
	reportID := strings.TrimSpace(c.Param("id"))
	if reportID == "" {
		return respondWithError(c, http.StatusBadRequest, "report ID is required")
	}

	result, err := h.analysis.AnalyzeAndMerge(c.Request().Context(), reportID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

type validateReportsRequest struct {
	Files []services.UploadedFileMeta `json:"files"`
}

// ValidateReports handles POST /api/patients/:id/reports/validation
func (h *ReportHandler) ValidateReports(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return respondWithError(c, http.StatusBadRequest, "patient ID is required")
	}

	var req validateReportsRequest
	if err := c.Bind(&req); err != nil {
		return respondWithError(c, http.StatusBadRequest, "invalid request payload")
	}

	result, err := h.validation.Validate(c.Request().Context(), patientID, req.Files)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
