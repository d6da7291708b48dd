package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
)

const (
	// ImageReportPlaceholder stands in for report text when the latest report is an image.
	ImageReportPlaceholder = "[Image report - text extraction not supported in summary service]"

	noReportContent       = "No recent medical report provided."
	generalProfileReport  = "General Profile"
	defaultMaxReportChars = 10000
)

const summarySystemPrompt = `You are Smart QR Health's clinical assistant AI. You will receive a JSON object containing one patient's data and possibly the extracted text of their medical report. Analyze the data and RETURN ONLY ONE JSON OBJECT that EXACTLY MATCHES the schema below.

OUTPUT SCHEMA (must match exactly):
{
  "aiSummary": "<2-4 sentence patient-friendly summary>",
  "aiRiskLevel": "Low | Medium | High",
  "aiKeyIssues": ["<string>", "..."],
  "aiLifestyleAdvice": ["<string>", "..."],
  "aiAnalysis": {
    "reportType": "<string or 'General Profile'>",
    "parameters": [
      {
        "name": "<string>",
        "value": "<string|number>",
        "unit": "<string>",
        "normalRange": "<string>",
        "status": "LOW | NORMAL | HIGH"
      }
    ],
    "notes": "<string>"
  },
  "aiUpdatedAt": "<ISO8601 timestamp>"
}

RULES:
- If a medical report IS provided, base your analysis primarily on that.
- If NO medical report is provided, generate the analysis from the patient's PROFILE (age, gender, conditions, medications, allergies). Do NOT return "Unavailable".
- If the patient has no specific conditions, medications or reports, give general healthy lifestyle advice for their age and gender group.
- aiSummary must be patient-friendly, simple English.
- aiKeyIssues must list abnormal values (status not NORMAL) or known conditions and allergies.
- aiLifestyleAdvice must be actionable, short and patient-facing.
- If you cannot confidently produce specific parameters, return an empty list for "parameters".`

// SummaryGeneratorConfig holds model settings for patient summaries
type SummaryGeneratorConfig struct {
	Model          string
	Temperature    float32
	MaxTokens      int
	MaxReportChars int
}

// SummaryResult is the outcome of one generation. Data is set only on success.
type SummaryResult struct {
	Success bool
	Data    *entities.SummaryData
	Error   string
}

// SummaryGenerator turns a patient profile and optional report text into an
// AI summary. It has no storage side effects.
type SummaryGenerator struct {
	ai  providers.AIModelProvider
	cfg SummaryGeneratorConfig
	now func() time.Time
}

// NewSummaryGenerator creates a new summary generator
func NewSummaryGenerator(ai providers.AIModelProvider, cfg SummaryGeneratorConfig) *SummaryGenerator {
	if cfg.MaxReportChars <= 0 {
		cfg.MaxReportChars = defaultMaxReportChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	return &SummaryGenerator{ai: ai, cfg: cfg, now: time.Now}
}

type summaryPatientContext struct {
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	BloodGroup       string   `json:"bloodGroup"`
	Allergies        []string `json:"allergies"`
	Conditions       []string `json:"conditions"`
	Medications      []string `json:"medications"`
	RiskLevel        string   `json:"riskLevel"`
	EmergencyContact string   `json:"emergencyContact"`
}

type rawSummary struct {
	AISummary         string   `json:"aiSummary"`
	AIRiskLevel       string   `json:"aiRiskLevel"`
	AIKeyIssues       *[]string `json:"aiKeyIssues"`
	AILifestyleAdvice *[]string `json:"aiLifestyleAdvice"`
	AIAnalysis        *struct {
		ReportType string         `json:"reportType"`
		Parameters []rawParameter `json:"parameters"`
		Notes      string         `json:"notes"`
	} `json:"aiAnalysis"`
}

// Generate runs one summary generation. Every failure, including a missing
// provider, is reported through the result rather than an error.
func (g *SummaryGenerator) Generate(ctx context.Context, profile entities.ProfileSnapshot, reportText string) SummaryResult {
	if g.ai == nil {
		return SummaryResult{Error: "ai model provider not configured"}
	}

	userPrompt, err := g.buildUserPrompt(profile, reportText)
	if err != nil {
		return SummaryResult{Error: err.Error()}
	}

	content, err := g.ai.Complete(ctx, providers.AICompletionRequest{
		Model: g.cfg.Model,
		Messages: []providers.AIMessage{
			{Role: providers.AIRoleSystem, Content: summarySystemPrompt},
			{Role: providers.AIRoleUser, Content: userPrompt},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return SummaryResult{Error: fmt.Sprintf("summary generation failed: %v", err)}
	}

	data, err := parseSummary(content)
	if err != nil {
		return SummaryResult{Error: err.Error()}
	}
	// The model's own timestamp is not trusted.
	data.AIUpdatedAt = g.now()

	return SummaryResult{Success: true, Data: data}
}

func (g *SummaryGenerator) buildUserPrompt(profile entities.ProfileSnapshot, reportText string) (string, error) {
	emergency := "Missing"
	if profile.HasEmergencyContact {
		emergency = "Present"
	}
	patientJSON, err := json.MarshalIndent(summaryPatientContext{
		Age:              profile.Age,
		Gender:           profile.Gender,
		BloodGroup:       profile.BloodGroup,
		Allergies:        cleanProfileList(profile.Allergies),
		Conditions:       cleanProfileList(profile.MedicalConditions),
		Medications:      cleanProfileList(profile.Medications),
		RiskLevel:        string(profile.RiskLevel),
		EmergencyContact: emergency,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode patient context: %w", err)
	}

	report := strings.TrimSpace(reportText)
	if report == "" {
		report = noReportContent
	} else {
		report = truncateRunes(report, g.cfg.MaxReportChars)
	}

	var b strings.Builder
	b.WriteString("PATIENT DATA (JSON):\n")
	b.Write(patientJSON)
	b.WriteString("\n\nREPORT CONTENT:\n")
	b.WriteString(report)
	b.WriteString("\n\nNow analyze and return ONLY the JSON object in the exact schema above.")
	return b.String(), nil
}

func parseSummary(content string) (*entities.SummaryData, error) {
	var raw rawSummary
	if _, err := decodeJSONObject(content, &raw); err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(raw.AISummary)
	if summary == "" {
		return nil, errors.New("model response missing aiSummary")
	}
	risk, ok := entities.ParseRiskLevel(raw.AIRiskLevel)
	if !ok {
		return nil, fmt.Errorf("model response has invalid aiRiskLevel %q", raw.AIRiskLevel)
	}

	// Empty lists are fine; absent or null ones are not.
	if raw.AIKeyIssues == nil {
		return nil, errors.New("model response missing aiKeyIssues")
	}
	if raw.AILifestyleAdvice == nil {
		return nil, errors.New("model response missing aiLifestyleAdvice")
	}
	if raw.AIAnalysis == nil {
		return nil, errors.New("model response missing aiAnalysis")
	}

	params, err := parseParameters(raw.AIAnalysis.Parameters)
	if err != nil {
		return nil, fmt.Errorf("model response has invalid aiAnalysis: %w", err)
	}
	analysis := entities.AIAnalysis{
		ReportType: generalProfileReport,
		Parameters: params,
		Notes:      strings.TrimSpace(raw.AIAnalysis.Notes),
	}
	if rt := strings.TrimSpace(raw.AIAnalysis.ReportType); rt != "" {
		analysis.ReportType = rt
	}

	return &entities.SummaryData{
		AISummary:         summary,
		AIRiskLevel:       risk,
		AIKeyIssues:       cleanStrings(*raw.AIKeyIssues),
		AILifestyleAdvice: cleanStrings(*raw.AILifestyleAdvice),
		AIAnalysis:        analysis,
	}, nil
}
