package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

// ReportAnalysisResult is what AnalyzeAndMerge reports back to the API
type ReportAnalysisResult struct {
	ReportID     string                `json:"report_id"`
	PatientID    string                `json:"patient_id"`
	ReportStatus entities.ReportStatus `json:"report_status"`
	Reason       string                `json:"reason,omitempty"`
	Job          JobOutcome            `json:"job"`
}

// ReportAnalysisService analyzes one report and folds the result into the
// patient's aggregate AI state. The report is written before the patient.
type ReportAnalysisService struct {
	reports   repositories.ReportRepository
	documents providers.DocumentStore
	analyzer  *ReportAnalyzer
	jobs      *AIJobProcessor
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewReportAnalysisService creates a new report analysis service
func NewReportAnalysisService(
	reports repositories.ReportRepository,
	documents providers.DocumentStore,
	analyzer *ReportAnalyzer,
	jobs *AIJobProcessor,
) *ReportAnalysisService {
	return &ReportAnalysisService{
		reports:   reports,
		documents: documents,
		analyzer:  analyzer,
		jobs:      jobs,
		now:       time.Now,
	}
}

// SetMetrics sets the metrics recorder
func (s *ReportAnalysisService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// AnalyzeAndMerge runs the report analyzer and applies its outcome. An
// unavailable analysis marks the report FAILED and hands the patient to the
// job processor, whose retry schedule then owns the failure.
func (s *ReportAnalysisService) AnalyzeAndMerge(ctx context.Context, reportID string) (*ReportAnalysisResult, error) {
	ctx, span := observability.StartSpan(ctx, "ai.report.analyze")
	defer span.End()

	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !report.HasFile() {
		return nil, apperrors.NewValidationError("report has no attached file")
	}

	result := &ReportAnalysisResult{ReportID: report.ID, PatientID: report.PatientID}
	jobCtx := WithTrigger(ctx, TriggerReport)

	outcome := s.analyze(ctx, report)
	if !outcome.Available() {
		observability.RecordReportAnalysis(ctx, s.metrics, "unavailable")
		log.Warn().
			Str("report_id", report.ID).
			Str("patient_id", report.PatientID).
			Str("reason", outcome.Unavailable.Reason).
			Msg("Report analysis unavailable")

		if err := s.reports.MarkFailed(ctx, report.ID); err != nil {
			log.Error().Err(err).Str("report_id", report.ID).Msg("Failed to mark report as failed")
		}
		result.ReportStatus = entities.ReportStatusFailed
		result.Reason = outcome.Unavailable.Reason
		result.Job = s.jobs.ProcessPatientJob(jobCtx, report.PatientID)
		return result, nil
	}

	now := s.now()
	report.ApplyAnalysis(*outcome.Analysis, now)
	if err := s.reports.UpdateAnalysis(ctx, report); err != nil {
		observability.RecordReportAnalysis(ctx, s.metrics, "store_failed")
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to save report analysis: %w", err)
	}
	observability.RecordReportAnalysis(ctx, s.metrics, "analyzed")

	result.ReportStatus = entities.ReportStatusAnalyzed
	result.Job = s.jobs.ApplySummary(jobCtx, report.PatientID, outcome.Analysis.ToSummaryData(now))
	return result, nil
}

func (s *ReportAnalysisService) analyze(ctx context.Context, report *entities.Report) ReportAnalysisOutcome {
	if s.documents == nil {
		return unavailable("report storage is not configured")
	}
	doc, err := s.documents.Open(ctx, report.ReportFileURL)
	if err != nil {
		return unavailable("report file unavailable: %v", err)
	}
	return s.analyzer.AnalyzeReport(ctx, entities.ReportFile{
		Name:     doc.Name,
		MimeType: doc.MimeType,
		Data:     doc.Data,
		Path:     doc.Path,
	})
}
