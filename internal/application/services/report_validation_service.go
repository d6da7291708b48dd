package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

const (
	validationUnconfiguredNote = "AI validation not available (no API key configured)."
	validationFailedNote       = "AI validation failed. Please proceed with caution."
	validationReportLimit      = 50
)

// UploadedFileMeta describes a file that is about to be attached to a patient
type UploadedFileMeta struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// MissingReport is a report the patient's conditions suggest should exist
type MissingReport struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// SuspiciousReport is an upload that looks irrelevant or wrong
type SuspiciousReport struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// ReportValidationResult is the advisory outcome of a validation
type ReportValidationResult struct {
	MissingReports    []MissingReport    `json:"missingReports"`
	SuspiciousReports []SuspiciousReport `json:"suspiciousReports"`
	Notes             string             `json:"notes"`
}

// ReportValidationService asks the model to sanity check a batch of uploads
type ReportValidationService struct {
	patients repositories.PatientRepository
	reports  repositories.ReportRepository
	ai       providers.AIModelProvider
	model    string
}

// NewReportValidationService creates a new report validation service
func NewReportValidationService(
	patients repositories.PatientRepository,
	reports repositories.ReportRepository,
	ai providers.AIModelProvider,
	model string,
) *ReportValidationService {
	return &ReportValidationService{patients: patients, reports: reports, ai: ai, model: model}
}

// Validate returns missing and suspicious reports for the patient. Model
// failures produce an empty result carrying a caution note.
func (s *ReportValidationService) Validate(ctx context.Context, patientID string, files []UploadedFileMeta) (*ReportValidationResult, error) {
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("at least one file is required")
	}

	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if s.ai == nil {
		return emptyValidation(validationUnconfiguredNote), nil
	}

	reports, err := s.reports.ListRecentByPatient(ctx, patientID, validationReportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	content, err := s.ai.Complete(ctx, providers.AICompletionRequest{
		Model: s.model,
		Messages: []providers.AIMessage{
			{Role: providers.AIRoleSystem, Content: "You are a medical validation assistant. Always return valid JSON only."},
			{Role: providers.AIRoleUser, Content: buildValidationPrompt(patient, reports, files)},
		},
		Temperature: 0.3,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		log.Warn().Err(err).Str("patient_id", patientID).Msg("AI report validation failed")
		return emptyValidation(validationFailedNote), nil
	}

	var result ReportValidationResult
	if _, err := decodeJSONObject(content, &result); err != nil {
		log.Warn().Err(err).Str("patient_id", patientID).Msg("AI report validation response rejected")
		return emptyValidation(validationFailedNote), nil
	}
	if result.MissingReports == nil {
		result.MissingReports = []MissingReport{}
	}
	if result.SuspiciousReports == nil {
		result.SuspiciousReports = []SuspiciousReport{}
	}
	return &result, nil
}

func emptyValidation(note string) *ReportValidationResult {
	return &ReportValidationResult{
		MissingReports:    []MissingReport{},
		SuspiciousReports: []SuspiciousReport{},
		Notes:             note,
	}
}

func buildValidationPrompt(patient *entities.Patient, reports []*entities.Report, files []UploadedFileMeta) string {
	var b strings.Builder
	b.WriteString("You are a medical AI assistant helping hospital staff validate report uploads.\n\n")
	b.WriteString("Patient Profile:\n")
	fmt.Fprintf(&b, "- Age: %d\n", patient.Age)
	fmt.Fprintf(&b, "- Gender: %s\n", patient.Gender)
	fmt.Fprintf(&b, "- Conditions: %s\n", strings.Join(cleanProfileList(patient.MedicalConditions), ", "))
	fmt.Fprintf(&b, "- Medications: %s\n", strings.Join(cleanProfileList(patient.Medications), ", "))
	fmt.Fprintf(&b, "- Risk Level: %s\n\n", patient.RiskLevel)

	b.WriteString("Existing Reports:\n")
	for _, r := range reports {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", r.ReportType, r.Title, r.ReportDate.Format("2006-01-02"))
	}
	b.WriteString("\nFiles Being Uploaded Now:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s)\n", f.FileName, f.MimeType)
	}

	b.WriteString(`
Task:
1. Identify if any CRITICAL reports are missing based on the patient's conditions and risk level (e.g., Diabetic patient missing recent HbA1c).
2. Identify if any uploaded files look SUSPICIOUS or irrelevant (e.g., "Leg X-Ray" for a patient with only cardiac issues, or very old dates in filenames).

Return a JSON object with this EXACT structure:
{
    "missingReports": [
        { "type": "Report Type", "reason": "Why it is needed" }
    ],
    "suspiciousReports": [
        { "fileName": "Name of file", "reason": "Why it looks wrong" }
    ],
    "notes": "Brief overall assessment (max 1 sentence)"
}`)
	return b.String()
}
